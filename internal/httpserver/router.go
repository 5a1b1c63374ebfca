// Package httpserver exposes the REST API and mounts the broadcast
// websocket endpoint.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/config"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/service"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/ws"
)

var log = logging.MustGetLogger("http")

// Services bundles what the handlers call into.
type Services struct {
	Auth          *service.AuthService
	Rooms         *service.RoomService
	Messages      *service.MessageService
	Conversations *service.ConversationService
	Presence      *service.PresenceService
}

// requestLogger feeds chi's request log into go-logging.
type requestLogger struct{}

func (requestLogger) Print(v ...any) { log.Info(v...) }

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(cfg *config.Config, svc Services, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: requestLogger{}, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(svc.Auth))
			r.Post("/login", handleLogin(svc.Auth))
			r.With(AuthMiddleware(svc.Auth)).Get("/me", handleMe())
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(svc.Auth))

			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", handleListRooms(svc.Rooms))
				r.Post("/", handleCreateRoom(svc.Rooms))

				r.Route("/{roomID}", func(r chi.Router) {
					r.Get("/", handleGetRoom(svc.Rooms))
					r.Get("/conversations", handleListConversations(svc.Conversations))
					r.Get("/messages", handleListMessages(svc.Messages))
					r.Post("/messages", handleCreateMessage(svc.Messages, cfg))
					r.Post("/read", handleMarkRead(svc.Messages))
					r.Post("/typing", handleTyping(svc.Presence))
					r.Get("/online", handleListOnline(svc.Presence))
					r.Post("/online", handleMarkOnline(svc.Presence))
					r.Delete("/online", handleMarkOffline(svc.Presence))
					r.Post("/heartbeat", handleHeartbeat(svc.Presence))
				})
			})

			r.Patch("/messages/{messageID}", handleEditMessage(svc.Messages))
			r.Delete("/messages/{messageID}", handleDeleteMessage(svc.Messages))

			r.Mount("/uploads", UploadRoutes(cfg))
		})
	})

	r.Get("/ws", ws.MakeHandler(hub, svc.Auth, cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps service errors onto status codes. Anything unexpected is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeErrorMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, service.ErrBadCredentials):
		writeErrorMessage(w, http.StatusUnauthorized, err.Error())
	default:
		log.Errorf("http: %s %s: %v", r.Method, r.URL.Path, err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
