package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/elly-james/camision/internal/api/middleware"
	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/internal/store"
	"github.com/elly-james/camision/pkg/models"
)

// MessagePublisher is the slice of the hub the message handlers need.
type MessagePublisher interface {
	PublishMessage(event string, msg *models.Message)
	PublishMessageDeleted(messageID, clientID int64)
}

// NewListJobMessagesHandler returns the handler for GET /api/jobs/{id}/messages.
func NewListJobMessagesHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
			return
		}
		if id.Role != models.RoleAdmin && job.UserID != id.UserID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		msgs, err := s.ListMessages(r.Context(), store.MessageFilter{JobID: &jobID})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list messages", nil)
			return
		}
		response.JSON(w, msgs)
	}
}

// NewSendJobMessageHandler returns the handler for POST /api/jobs/{id}/messages
// (multipart: content plus optional file attachments).
func NewSendJobMessageHandler(s store.Store, blobs Blobs, pub MessagePublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
			return
		}
		if id.Role != models.RoleAdmin && job.UserID != id.UserID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		msg, errMsg := messageFromForm(r, id, blobs)
		if errMsg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", errMsg, nil)
			return
		}
		msg.JobID = &jobID
		msg.ClientID = job.UserID

		if err := s.CreateMessage(r.Context(), msg); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not send message", nil)
			return
		}

		pub.PublishMessage(models.EventNewGeneralMessage, msg)
		response.Created(w, msg)
	}
}

// NewListGeneralMessagesHandler returns the handler for GET /api/messages:
// the job-independent thread between a client and the admin. Clients see
// their own thread; the admin selects a thread with ?client_id.
func NewListGeneralMessagesHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		filter := store.MessageFilter{General: true}
		if id.Role == models.RoleAdmin {
			if raw := r.URL.Query().Get("client_id"); raw != "" {
				clientID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid client_id", nil)
					return
				}
				filter.ClientID = &clientID
			}
		} else {
			uid := id.UserID
			filter.ClientID = &uid
		}

		msgs, err := s.ListMessages(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list messages", nil)
			return
		}
		response.JSON(w, msgs)
	}
}

// NewSendGeneralMessageHandler returns the handler for POST /api/messages
// (multipart). A client's message goes to the admin; the admin addresses a
// client with the recipient_id form field.
func NewSendGeneralMessageHandler(s store.Store, blobs Blobs, pub MessagePublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		msg, errMsg := messageFromForm(r, id, blobs)
		if errMsg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", errMsg, nil)
			return
		}

		if id.Role == models.RoleAdmin {
			recipientID, err := strconv.ParseInt(r.FormValue("recipient_id"), 10, 64)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "recipient_id is required", nil)
				return
			}
			if _, err := s.GetUser(r.Context(), recipientID); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown recipient", nil)
				return
			}
			msg.RecipientID = &recipientID
			msg.ClientID = recipientID
		} else {
			admin, err := s.GetAdmin(r.Context())
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not route message", nil)
				return
			}
			msg.RecipientID = &admin.ID
			msg.ClientID = id.UserID
		}

		if err := s.CreateMessage(r.Context(), msg); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not send message", nil)
			return
		}

		pub.PublishMessage(models.EventNewGeneralMessage, msg)
		response.Created(w, msg)
	}
}

// NewEditMessageHandler returns the handler for PUT /api/messages/{id}.
// Only the original sender may edit.
func NewEditMessageHandler(s store.Store, pub MessagePublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		msgID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid message id", nil)
			return
		}

		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content is required", nil)
			return
		}

		msg, err := s.GetMessage(r.Context(), msgID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load message", nil)
			return
		}
		if msg.SenderID != id.UserID {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Only the sender can edit a message", nil)
			return
		}

		updated, err := s.UpdateMessageContent(r.Context(), msgID, strings.TrimSpace(req.Content))
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not edit message", nil)
			return
		}

		pub.PublishMessage(models.EventMessageUpdated, updated)
		response.JSON(w, updated)
	}
}

// NewDeleteMessageHandler returns the handler for DELETE /api/messages/{id}.
// Only the original sender may delete; the tombstone event lets every open
// session drop the message.
func NewDeleteMessageHandler(s store.Store, pub MessagePublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		msgID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid message id", nil)
			return
		}

		msg, err := s.GetMessage(r.Context(), msgID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load message", nil)
			return
		}
		if msg.SenderID != id.UserID {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Only the sender can delete a message", nil)
			return
		}

		if err := s.DeleteMessage(r.Context(), msgID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not delete message", nil)
			return
		}

		pub.PublishMessageDeleted(msgID, msg.ClientID)
		response.JSON(w, map[string]any{"message_id": msgID, "client_id": msg.ClientID})
	}
}

// messageFromForm reads the shared multipart fields of both send endpoints.
// When blobs is non-nil, attachments are stored immediately.
func messageFromForm(r *http.Request, id middleware.Identity, blobs Blobs) (*models.Message, string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "Invalid multipart form"
	}

	content := strings.TrimSpace(r.FormValue("content"))
	hasFiles := r.MultipartForm != nil && len(r.MultipartForm.File["files"]) > 0
	if content == "" && !hasFiles {
		return nil, "content or files required"
	}

	msg := &models.Message{
		SenderID:   id.UserID,
		SenderRole: id.Role,
		Content:    content,
	}

	if blobs != nil && hasFiles {
		names, err := saveUploads(blobs, r.MultipartForm.File["files"], "")
		if err != nil {
			return nil, "Could not store attachments"
		}
		msg.Files = names
	}
	return msg, ""
}
