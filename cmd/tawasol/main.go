// Command tawasol is a terminal client for the chat backend: it logs in,
// lists rooms, sends messages and watches a room live.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/api"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/applog"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/config"
)

var log = logging.MustGetLogger("main")

var errNotLoggedIn = errors.New("not logged in: run `tawasol login` first")

// env is what every command needs. Build it with setup and release it with
// close.
type env struct {
	cfg    *config.Client
	api    *api.Client
	tokens api.FileToken
	logs   io.Closer
}

func setup() (*env, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	logs, err := applog.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	tokens := api.FileToken{Path: cfg.TokenFile}
	return &env{
		cfg:    cfg,
		api:    api.New(cfg.APIURL, tokens, nil),
		tokens: tokens,
		logs:   logs,
	}, nil
}

func (e *env) token() (string, error) {
	token, err := e.tokens.Token()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errNotLoggedIn
	}
	return token, nil
}

func (e *env) close() {
	e.logs.Close()
}

var parser = flags.NewParser(nil, flags.Default)

func main() {
	parser.AddCommand("register",
		"create an account",
		"The register command creates an account and stores its access token",
		&Register{})
	parser.AddCommand("login",
		"log in",
		"The login command stores an access token for later commands",
		&Login{})
	parser.AddCommand("rooms",
		"list or create rooms",
		"The rooms command lists the rooms, or creates one with --create",
		&Rooms{})
	parser.AddCommand("send",
		"send one message",
		"The send command posts a message to a room or to one user in it",
		&Send{})
	parser.AddCommand("watch",
		"follow a room live",
		"The watch command opens a room, shows messages, presence and typing as they happen, and sends every line read from stdin",
		&Watch{})

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		if !errors.As(err, &ferr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
