package gateway

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"chat-sync/domain"
	"chat-sync/services"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errSlowConsumer = stderrors.New("outbound buffer full")

// session is one websocket subscription to a group. The hub pushes
// snapshots into the outbound buffer; the write pump drains it to the
// connection. The read pump consumes client intents: sends, read marks
// and visibility signals.
type session struct {
	log      *slog.Logger
	conn     *websocket.Conn
	user     domain.User
	groupID  string
	handler  *Handler
	outbound chan outboundFrame
	done     chan struct{}

	mu      sync.Mutex
	visible bool
	latest  []domain.Message
}

type outboundFrame struct {
	Type     string           `json:"type"`
	Messages []messagePayload `json:"messages,omitempty"`
	Members  []memberPayload  `json:"members,omitempty"`
}

type inboundFrame struct {
	Type       string             `json:"type"`
	Text       string             `json:"text,omitempty"`
	Attachment *attachmentPayload `json:"attachment,omitempty"`
	MessageID  string             `json:"message_id,omitempty"`
	Visible    bool               `json:"visible,omitempty"`
}

// handleSocket upgrades the connection, flips presence, registers the
// subscription and blocks in the read pump until the client goes away.
// Teardown is deterministic: unsubscribe, offline, close.
func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	groupID := chi.URLParam(r, "groupID")
	group, err := h.groups.GetGroup(groupID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !group.IsMember(user.ID) {
		http.Error(w, "join the group first", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Websocket upgrade failed", "error", err)
		return
	}

	sess := &session{
		log:      h.log,
		conn:     conn,
		user:     user,
		groupID:  groupID,
		handler:  h,
		outbound: make(chan outboundFrame, h.outboundSize),
		done:     make(chan struct{}),
		visible:  true, // a freshly opened view is foregrounded
	}

	h.presence.SetOnline(user.ID)
	defer h.presence.SetOffline(user.ID)

	sub, err := h.hub.Subscribe(groupID, sess.pushMessages, sess.pushMembers)
	if err != nil {
		h.log.Error("Subscription failed", "group_id", groupID, "error", err)
		_ = conn.Close()
		return
	}
	defer h.hub.Unsubscribe(sub)

	go sess.writePump()
	sess.readPump()
}

// pushMessages is the hub callback. It never blocks the fan-out worker:
// a full buffer reports a slow consumer and the hub resyncs later.
func (s *session) pushMessages(messages []domain.Message) error {
	s.mu.Lock()
	s.latest = messages
	visible := s.visible
	s.mu.Unlock()

	frame := outboundFrame{Type: "messages", Messages: s.handler.toMessagePayloads(s.groupID, messages)}
	select {
	case s.outbound <- frame:
	default:
		return errSlowConsumer
	}

	if visible {
		go s.markVisibleRead(messages)
	}
	return nil
}

func (s *session) pushMembers(members []domain.User) error {
	frame := outboundFrame{Type: "members", Members: lo.Map(members, func(member domain.User, _ int) memberPayload {
		return memberPayload{ID: member.ID, Name: member.Name}
	})}
	select {
	case s.outbound <- frame:
		return nil
	default:
		return errSlowConsumer
	}
}

// markVisibleRead records receipts for everything the foregrounded
// client can see.
func (s *session) markVisibleRead(messages []domain.Message) {
	if err := s.handler.receipts.MarkAllRead(s.groupID, messages, s.user.ID); err != nil {
		s.log.Warn("Catch-up read marking failed", "group_id", s.groupID, "user_id", s.user.ID, "error", err)
	}
}

func (s *session) readPump() {
	defer close(s.done)

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Websocket read failed", "user_id", s.user.ID, "error", err)
			}
			return
		}
		s.handleFrame(frame)
	}
}

func (s *session) handleFrame(frame inboundFrame) {
	switch frame.Type {
	case "message":
		content := domain.Content{Text: frame.Text}
		if frame.Attachment != nil {
			content.Attachment = &domain.Attachment{
				Filename:   frame.Attachment.Filename,
				MimeType:   frame.Attachment.MimeType,
				PayloadRef: frame.Attachment.PayloadRef,
			}
		}
		if _, err := s.handler.messages.Append(s.groupID, s.user, content); err != nil {
			s.log.Warn("Send rejected", "group_id", s.groupID, "user_id", s.user.ID, "error", err)
		}

	case "read":
		messageID, err := uuid.Parse(frame.MessageID)
		if err != nil {
			s.log.Warn("Read mark with invalid message id", "user_id", s.user.ID)
			return
		}
		if err := s.handler.receipts.MarkRead(s.groupID, messageID, s.user.ID); err != nil {
			s.log.Warn("Read mark failed", "group_id", s.groupID, "user_id", s.user.ID, "error", err)
		}

	case "visibility":
		s.mu.Lock()
		wasVisible := s.visible
		s.visible = frame.Visible
		latest := s.latest
		s.mu.Unlock()

		// Returning to the foreground retroactively marks everything
		// that arrived while the client was suspended.
		if frame.Visible && !wasVisible {
			go s.markVisibleRead(latest)
		}

	default:
		s.log.Debug("Ignoring unknown frame type", "type", frame.Type)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type memberPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type attachmentPayload struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	PayloadRef string `json:"payload_ref"`
}

type messagePayload struct {
	ID         string             `json:"id"`
	GroupID    string             `json:"group_id"`
	Sender     memberPayload      `json:"sender"`
	Text       string             `json:"text,omitempty"`
	Attachment *attachmentPayload `json:"attachment,omitempty"`
	Seq        uint64             `json:"seq"`
	CreatedAt  time.Time          `json:"created_at"`
	ReadBy     []string           `json:"read_by"`
	FullyRead  bool               `json:"fully_read"`
}

func (h *Handler) toMessagePayloads(groupID string, messages []domain.Message) []messagePayload {
	var group *domain.Group
	if fetched, err := h.groups.GetGroup(groupID); err == nil {
		group = &fetched
	}
	return lo.Map(messages, func(msg domain.Message, _ int) messagePayload {
		return h.toMessagePayload(groupID, msg, group)
	})
}

func (h *Handler) toMessagePayload(groupID string, msg domain.Message, group *domain.Group) messagePayload {
	readBy := lo.Keys(msg.ReadBy)
	sort.Strings(readBy)

	payload := messagePayload{
		ID:        msg.ID.String(),
		GroupID:   groupID,
		Sender:    memberPayload{ID: msg.Sender.ID, Name: msg.Sender.Name},
		Text:      msg.Text,
		Seq:       msg.Seq,
		CreatedAt: msg.CreatedAt,
		ReadBy:    readBy,
	}
	if msg.Attachment != nil {
		payload.Attachment = &attachmentPayload{
			Filename:   msg.Attachment.Filename,
			MimeType:   msg.Attachment.MimeType,
			PayloadRef: msg.Attachment.PayloadRef,
		}
	}
	if group != nil {
		payload.FullyRead = services.IsFullyRead(msg, *group)
	}
	return payload
}
