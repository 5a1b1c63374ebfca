package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("UPLOAD_DIR", t.TempDir())

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("UPLOAD_DIR", dir)
	t.Setenv("DB_DRIVER", "")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PRESENCE_TIMEOUT", "90s")
	t.Setenv("PRESENCE_SWEEP_INTERVAL", "nonsense")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.PresenceTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.AccessTokenTTL())
	assert.DirExists(t, dir)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("UPLOAD_DIR", t.TempDir())
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadClientDerivesWebsocketURL(t *testing.T) {
	t.Setenv("TAWASOL_API_URL", "https://chat.example/base/")
	t.Setenv("TAWASOL_WS_URL", "")
	t.Setenv("TYPING_EXPIRE", "10s")

	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example/base", c.APIURL)
	assert.Equal(t, "wss://chat.example/base/ws", c.WSURL)
	assert.Equal(t, 10*time.Second, c.TypingExpire)
	assert.Equal(t, 3*time.Minute, c.Grace)
}

func TestLoadClientRejectsBadURL(t *testing.T) {
	t.Setenv("TAWASOL_API_URL", "not a url")

	_, err := LoadClient()
	assert.Error(t, err)
}
