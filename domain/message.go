package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-sync/errors"
)

// Attachment describes a file already stored by the transport
// collaborator. PayloadRef is an opaque handle; the core never inspects
// the bytes, only the metadata.
type Attachment struct {
	Filename   string
	MimeType   string
	PayloadRef string
}

// Message is an immutable chat event. Only ReadBy changes after
// creation, and it only ever grows.
type Message struct {
	ID         uuid.UUID
	GroupID    string
	Sender     User // snapshot of id and name at send time
	Text       string
	Attachment *Attachment
	Seq        uint64 // log-assigned, strictly increasing per group
	CreatedAt  time.Time
	ReadBy     map[string]bool
}

func (m Message) IsReadBy(userID string) bool {
	return m.ReadBy[userID]
}

// Content is the payload of an append request. At least one of Text or
// Attachment must be set, and Text must not be blank when present.
type Content struct {
	Text       string
	Attachment *Attachment
}

func (c Content) Validate() error {
	trimmed := strings.TrimSpace(c.Text)
	if c.Text != "" && trimmed == "" {
		return errors.ErrInvalidContent
	}
	if trimmed == "" && c.Attachment == nil {
		return errors.ErrInvalidContent
	}
	if c.Attachment != nil && (c.Attachment.Filename == "" || c.Attachment.PayloadRef == "") {
		return errors.ErrInvalidContent
	}
	return nil
}
