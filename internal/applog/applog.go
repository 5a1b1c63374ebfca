// Package applog installs the process-wide go-logging backends.
package applog

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/op/go-logging"
	"gopkg.in/natefinch/lumberjack.v2"
)

var stdoutLogFormat = logging.MustStringFormatter(
	`%{color:reset}%{color}%{time:15:04:05.000} [%{module}] [%{level}] %{message}`,
)

var fileLogFormat = logging.MustStringFormatter(
	`%{time:2006-01-02 15:04:05.000} [%{module}] [%{level}] %{message}`,
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup logs to stdout and, when file is set, to a rotating log file. An
// unknown level falls back to INFO. The returned closer flushes the file.
func Setup(level, file string) (io.Closer, error) {
	lvl, err := logging.LogLevel(strings.ToUpper(level))
	if err != nil {
		lvl = logging.INFO
	}

	stdout := logging.NewBackendFormatter(logging.NewLogBackend(os.Stdout, "", 0), stdoutLogFormat)
	if file == "" {
		logging.SetBackend(stdout)
		logging.SetLevel(lvl, "")
		return nopCloser{}, nil
	}

	path, err := homedir.Expand(filepath.Clean(file))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	fileBackend := logging.NewBackendFormatter(logging.NewLogBackend(w, "", 0), fileLogFormat)
	logging.SetBackend(fileBackend, stdout)
	logging.SetLevel(lvl, "")
	return w, nil
}
