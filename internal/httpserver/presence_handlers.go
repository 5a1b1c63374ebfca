package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/service"
)

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

type onlineResponse struct {
	Members []domain.OnlineMember `json:"members"`
}

func handleTyping(presence *service.PresenceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := pathID(w, r, "roomID")
		if !ok {
			return
		}
		var req typingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := presence.Typing(r.Context(), CurrentUser(r), roomID, req.IsTyping); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListOnline(presence *service.PresenceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := pathID(w, r, "roomID")
		if !ok {
			return
		}
		members, err := presence.Online(r.Context(), roomID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if members == nil {
			members = []domain.OnlineMember{}
		}
		writeJSON(w, http.StatusOK, onlineResponse{Members: members})
	}
}

type presenceAction func(svc *service.PresenceService, r *http.Request, user *domain.User, roomID int64) error

// presenceHandler adapts the bodiless presence calls that answer 204.
func presenceHandler(presence *service.PresenceService, action presenceAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := pathID(w, r, "roomID")
		if !ok {
			return
		}
		if err := action(presence, r, CurrentUser(r), roomID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMarkOnline(presence *service.PresenceService) http.HandlerFunc {
	return presenceHandler(presence, func(svc *service.PresenceService, r *http.Request, user *domain.User, roomID int64) error {
		return svc.MarkOnline(r.Context(), user, roomID)
	})
}

func handleMarkOffline(presence *service.PresenceService) http.HandlerFunc {
	return presenceHandler(presence, func(svc *service.PresenceService, r *http.Request, user *domain.User, roomID int64) error {
		return svc.MarkOffline(r.Context(), user, roomID)
	})
}

func handleHeartbeat(presence *service.PresenceService) http.HandlerFunc {
	return presenceHandler(presence, func(svc *service.PresenceService, r *http.Request, user *domain.User, roomID int64) error {
		return svc.Heartbeat(r.Context(), user, roomID)
	})
}
