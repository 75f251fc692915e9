package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"chat-sync/auth"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/runtime"
	"chat-sync/services"
)

var validate = validator.New()

type Handler struct {
	log      *slog.Logger
	groups   services.IGroupService
	messages services.IMessageService
	receipts services.IReceiptService
	presence *services.PresenceService
	hub      *runtime.Hub

	secret        []byte
	tokenDuration time.Duration
	recentLimit   int
	outboundSize  int
}

func NewHandler(log *slog.Logger, groups services.IGroupService, messages services.IMessageService,
	receipts services.IReceiptService, presence *services.PresenceService, hub *runtime.Hub,
	secret []byte, tokenDuration time.Duration, recentLimit, outboundSize int) *Handler {
	return &Handler{
		log:           log,
		groups:        groups,
		messages:      messages,
		receipts:      receipts,
		presence:      presence,
		hub:           hub,
		secret:        secret,
		tokenDuration: tokenDuration,
		recentLimit:   recentLimit,
		outboundSize:  outboundSize,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/session", h.createSession)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.secret))

		r.Post("/api/groups", h.createGroup)
		r.Get("/api/groups", h.listGroups)
		r.Post("/api/groups/{groupID}/join", h.joinGroup)
		r.Get("/api/groups/{groupID}/messages", h.listMessages)
		r.Post("/api/groups/{groupID}/messages", h.sendMessage)
		r.Post("/api/groups/{groupID}/messages/{messageID}/read", h.markRead)
		r.Get("/api/presence/{userID}", h.getPresence)
		r.Get("/ws/groups/{groupID}", h.handleSocket)
	})

	return r
}

type sessionRequest struct {
	Name string `json:"name" validate:"required"`
}

type sessionResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// createSession issues a token for a display name. This stands in for
// the external authentication collaborator: the core only needs a
// stable user id and name per session.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	user := domain.User{ID: uuid.NewString(), Name: req.Name}
	token, err := auth.GenerateToken(h.secret, user, h.tokenDuration)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sessionResponse{Token: token, UserID: user.ID})
}

type createGroupRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"omitempty,max=72"`
}

type groupResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasPassword bool   `json:"has_password"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req createGroupRequest
	if !h.decode(w, r, &req) {
		return
	}

	group, err := h.groups.CreateGroup(req.Name, req.Password, user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, groupResponse{ID: group.ID, Name: group.Name, HasPassword: group.HasPassword()})
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.groups.ListGroups()
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := make([]groupResponse, 0, len(summaries))
	for _, summary := range summaries {
		response = append(response, groupResponse{ID: summary.ID, Name: summary.Name, HasPassword: summary.HasPassword})
	}
	h.writeJSON(w, http.StatusOK, response)
}

type joinGroupRequest struct {
	Password string `json:"password"`
}

func (h *Handler) joinGroup(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req joinGroupRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.groups.JoinGroup(chi.URLParam(r, "groupID"), req.Password, user); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.messages.ListRecent(chi.URLParam(r, "groupID"), h.recentLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.toMessagePayloads(chi.URLParam(r, "groupID"), messages))
}

type sendMessageRequest struct {
	Text       string             `json:"text"`
	Attachment *attachmentPayload `json:"attachment"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	content := domain.Content{Text: req.Text}
	if req.Attachment != nil {
		content.Attachment = &domain.Attachment{
			Filename:   req.Attachment.Filename,
			MimeType:   req.Attachment.MimeType,
			PayloadRef: req.Attachment.PayloadRef,
		}
	}

	groupID := chi.URLParam(r, "groupID")
	msg, err := h.messages.Append(groupID, user, content)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.toMessagePayload(groupID, msg, nil))
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	if err := h.receipts.MarkRead(chi.URLParam(r, "groupID"), messageID, user.ID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type presenceResponse struct {
	UserID    string    `json:"user_id"`
	Online    bool      `json:"online"`
	ChangedAt time.Time `json:"changed_at,omitzero"`
}

func (h *Handler) getPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	state := h.presence.State(userID)
	h.writeJSON(w, http.StatusOK, presenceResponse{UserID: userID, Online: state.Online, ChangedAt: state.ChangedAt})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Response encoding failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := errors.MapToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
