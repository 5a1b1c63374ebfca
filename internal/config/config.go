package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the reference backend's configuration.
type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// DBDriver selects the store: "sqlite" or "postgres".
	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	JWTSecret          string
	AccessTokenMinutes int

	UploadDir      string
	MaxUploadBytes int64
	CORSOrigins    []string

	LogLevel string
	LogFile  string
	Debug    bool

	PresenceTimeout time.Duration
	SweepInterval   time.Duration
}

func Load() (*Config, error) {
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "tawasol")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "Tawasol API"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "tawasol.db"),
		DatabaseURL: getEnv("DATABASE_URL", u.String()),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),

		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_MB", 20)) << 20,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogFile:  os.Getenv("LOG_FILE"),
		Debug:    getEnvAsBool("DEBUG", false),

		PresenceTimeout: getEnvAsDuration("PRESENCE_TIMEOUT", 8*time.Minute),
		SweepInterval:   getEnvAsDuration("PRESENCE_SWEEP_INTERVAL", time.Minute),
	}
	cfg.CORSOrigins = getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"})

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("DB_DRIVER %q is not supported", cfg.DBDriver)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

// Client configures the realtime client core and the tawasol CLI.
type Client struct {
	APIURL    string
	WSURL     string
	TokenFile string

	LogLevel string
	LogFile  string

	Heartbeat    time.Duration
	Grace        time.Duration
	PollFast     time.Duration
	PollSlow     time.Duration
	ChannelRetry time.Duration

	TypingThrottle  time.Duration
	TypingStopAfter time.Duration
	TypingExpire    time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// LoadClient reads the client configuration. WS_URL defaults to the API URL
// with a ws scheme and the /ws path.
func LoadClient() (*Client, error) {
	c := &Client{
		APIURL:    strings.TrimRight(getEnv("TAWASOL_API_URL", "http://localhost:8000"), "/"),
		TokenFile: getEnv("TAWASOL_TOKEN_FILE", "~/.tawasol/token"),
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		LogFile:   os.Getenv("LOG_FILE"),

		Heartbeat:    getEnvAsDuration("PRESENCE_HEARTBEAT", 2*time.Minute),
		Grace:        getEnvAsDuration("PRESENCE_GRACE", 3*time.Minute),
		PollFast:     getEnvAsDuration("PRESENCE_POLL_FAST", 30*time.Second),
		PollSlow:     getEnvAsDuration("PRESENCE_POLL_SLOW", time.Minute),
		ChannelRetry: getEnvAsDuration("PRESENCE_CHANNEL_RETRY", 5*time.Second),

		TypingThrottle:  getEnvAsDuration("TYPING_THROTTLE", 2*time.Second),
		TypingStopAfter: getEnvAsDuration("TYPING_STOP_AFTER", 4*time.Second),
		TypingExpire:    getEnvAsDuration("TYPING_EXPIRE", 6*time.Second),

		ReconnectInitial: getEnvAsDuration("WS_RECONNECT_INITIAL", time.Second),
		ReconnectMax:     getEnvAsDuration("WS_RECONNECT_MAX", 30*time.Second),
	}

	api, err := url.Parse(c.APIURL)
	if err != nil || api.Host == "" {
		return nil, fmt.Errorf("TAWASOL_API_URL %q is not a valid URL", c.APIURL)
	}
	ws := *api
	switch api.Scheme {
	case "https":
		ws.Scheme = "wss"
	default:
		ws.Scheme = "ws"
	}
	ws.Path = strings.TrimRight(api.Path, "/") + "/ws"
	c.WSURL = getEnv("TAWASOL_WS_URL", ws.String())

	return c, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getEnvAsList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
