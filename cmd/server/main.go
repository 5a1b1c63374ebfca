// Command server runs the reference backend: REST API, uploads and the
// websocket broadcast service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/applog"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/config"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/httpserver"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/security"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/service"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/store/postgres"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/store/sqlite"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/ws"
)

var log = logging.MustGetLogger("main")

type repositories struct {
	users    domain.UserRepository
	rooms    domain.RoomRepository
	messages domain.MessageRepository
	presence domain.PresenceRepository
}

func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("migrate: %w", err)
		}
		return db, repositories{
			users:    postgres.NewUserRepo(db),
			rooms:    postgres.NewRoomRepo(db),
			messages: postgres.NewMessageRepo(db),
			presence: postgres.NewPresenceRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("migrate: %w", err)
		}
		return db, repositories{
			users:    sqlite.NewUserRepo(db),
			rooms:    sqlite.NewRoomRepo(db),
			messages: sqlite.NewMessageRepo(db),
			presence: sqlite.NewPresenceRepo(db),
		}, nil
	}
}

// sweepPresence expires stale presence entries until ctx is done.
func sweepPresence(ctx context.Context, presence *service.PresenceService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := presence.Sweep(ctx)
			if err != nil {
				log.Errorf("presence sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Debugf("presence sweep: %d rooms changed", n)
			}
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logCloser, err := applog.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logging.SetLevel(logging.DEBUG, "")
	}

	db, repos, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open %s database: %v", cfg.DBDriver, err)
	}

	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	passwordHasher := security.NewPasswordHasher(0)

	hub := ws.NewHub(repos.rooms)
	presence := service.NewPresenceService(repos.rooms, repos.users, repos.presence, hub, cfg.PresenceTimeout)
	svc := httpserver.Services{
		Auth:          service.NewAuthService(repos.users, tokenSvc, passwordHasher),
		Rooms:         service.NewRoomService(repos.rooms),
		Messages:      service.NewMessageService(repos.rooms, repos.users, repos.messages, hub),
		Conversations: service.NewConversationService(repos.rooms, repos.users, repos.messages),
		Presence:      presence,
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      httpserver.NewRouter(cfg, svc, hub),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sweepPresence(ctx, presence, cfg.SweepInterval)

	go func() {
		log.Infof("Starting %s (%s) on %s with %s store", cfg.AppName, cfg.Env, cfg.HTTPAddr(), cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down server...")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	var result *multierror.Error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	if err := hub.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close database: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
	logCloser.Close()
}
