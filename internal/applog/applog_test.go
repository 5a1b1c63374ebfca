package applog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/applog"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tawasol.log")

	closer, err := applog.Setup("debug", path)
	require.NoError(t, err)

	logging.MustGetLogger("applogtest").Warningf("disk at %d%%", 91)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[applogtest] [WARNING] disk at 91%")
	assert.Equal(t, logging.DEBUG, logging.GetLevel(""))
}

func TestSetupUnknownLevelFallsBackToInfo(t *testing.T) {
	closer, err := applog.Setup("chatty", "")
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logging.INFO, logging.GetLevel(""))
}
