package httpserver

import (
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/config"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/service"
)

type messageCreateRequest struct {
	Message     string `json:"message"`
	Type        string `json:"type"`
	ReceiverID  *int64 `json:"receiver_id"`
	ClientToken string `json:"client_token"`
}

type messageEditRequest struct {
	Message string `json:"message"`
}

type markReadRequest struct {
	PeerID int64 `json:"peer_id"`
}

type historyResponse struct {
	Messages []*domain.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// handleCreateMessage accepts JSON or multipart form data with an optional
// "file" part. A repeated client_token answers 200 with the stored message
// instead of 201, and a retried upload is not saved a second time.
func handleCreateMessage(msgSvc *service.MessageService, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := pathID(w, r, "roomID")
		if !ok {
			return
		}
		in := service.SendInput{RoomID: roomID, SenderID: CurrentUser(r).ID}

		var part *uploadPart
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			if part, ok = readMultipartMessage(w, r, cfg, &in); !ok {
				return
			}
		} else {
			var req messageCreateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			in.Body = req.Message
			in.Type = domain.MessageType(req.Type)
			in.ReceiverID = req.ReceiverID
			in.ClientToken = req.ClientToken
		}

		var saved string
		if part != nil {
			defer part.file.Close()
			if in.ClientToken != "" {
				existing, err := msgSvc.ByClientToken(r.Context(), in.SenderID, in.ClientToken)
				if err == nil {
					writeJSON(w, http.StatusOK, existing)
					return
				}
				if !errors.Is(err, domain.ErrNotFound) {
					writeError(w, r, err)
					return
				}
			}
			if saved, ok = attachUpload(w, cfg, part, &in); !ok {
				return
			}
		}

		msg, created, err := msgSvc.Send(r.Context(), in)
		if saved != "" && (err != nil || !created) {
			removeUpload(cfg.UploadDir, saved)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		writeJSON(w, status, msg)
	}
}

type uploadPart struct {
	file   multipart.File
	header *multipart.FileHeader
}

// readMultipartMessage fills in from the form fields and returns the "file"
// part, if any, unsaved.
func readMultipartMessage(w http.ResponseWriter, r *http.Request, cfg *config.Config, in *service.SendInput) (*uploadPart, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "failed to parse multipart form")
		return nil, false
	}
	in.Body = r.FormValue("message")
	in.Type = domain.MessageType(r.FormValue("type"))
	in.ClientToken = r.FormValue("client_token")
	if v := r.FormValue("receiver_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid receiver_id")
			return nil, false
		}
		in.ReceiverID = &id
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid file part")
		return nil, false
	}
	if header.Size > cfg.MaxUploadBytes {
		file.Close()
		writeErrorMessage(w, http.StatusRequestEntityTooLarge, "file is too large")
		return nil, false
	}
	return &uploadPart{file: file, header: header}, true
}

// attachUpload saves the part and points the message at it.
func attachUpload(w http.ResponseWriter, cfg *config.Config, part *uploadPart, in *service.SendInput) (string, bool) {
	name, err := saveUpload(cfg.UploadDir, part.header.Filename, part.file)
	if err != nil {
		log.Errorf("http: save upload %q: %v", part.header.Filename, err)
		writeErrorMessage(w, http.StatusInternalServerError, "could not save file")
		return "", false
	}
	in.AttachmentURL = "/api/uploads/" + name
	in.AttachmentName = part.header.Filename
	if in.Type == "" || in.Type == domain.MessageText {
		in.Type = typeForUpload(part.header.Header.Get("Content-Type"))
	}
	return name, true
}

func typeForUpload(contentType string) domain.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return domain.MessageImage
	case strings.HasPrefix(contentType, "audio/"):
		return domain.MessageVoice
	default:
		return domain.MessageDocument
	}
}

// handleListMessages pages through a conversation newest first. Without
// peer_id it lists the room's shared messages.
func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := pathID(w, r, "roomID")
		if !ok {
			return
		}
		q := r.URL.Query()
		var peerID int64
		if v := q.Get("peer_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeErrorMessage(w, http.StatusBadRequest, "invalid peer_id")
				return
			}
			peerID = id
		}
		page, _ := strconv.Atoi(q.Get("page"))
		perPage, _ := strconv.Atoi(q.Get("per_page"))

		msgs, hasMore, err := msgSvc.History(r.Context(), CurrentUser(r).ID, roomID, peerID, page, perPage)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, historyResponse{Messages: msgs, HasMore: hasMore})
	}
}

func handleEditMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgID, ok := pathID(w, r, "messageID")
		if !ok {
			return
		}
		var req messageEditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := msgSvc.Edit(r.Context(), CurrentUser(r).ID, msgID, req.Message)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleDeleteMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgID, ok := pathID(w, r, "messageID")
		if !ok {
			return
		}
		if err := msgSvc.Delete(r.Context(), CurrentUser(r).ID, msgID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMarkRead(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, ok := pathID(w, r, "roomID")
		if !ok {
			return
		}
		var req markReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := msgSvc.MarkRead(r.Context(), CurrentUser(r).ID, roomID, req.PeerID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
