package httpserver

import (
	"net/http"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/service"
)

type conversationsResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
}

// handleListConversations lists the caller's direct conversations in a room
// with their last message and unread count.
func handleListConversations(convs *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := pathID(w, r, "roomID")
		if !ok {
			return
		}
		list, err := convs.List(r.Context(), CurrentUser(r).ID, roomID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []domain.ConversationSummary{}
		}
		writeJSON(w, http.StatusOK, conversationsResponse{Conversations: list})
	}
}
