package services

import (
	"log/slog"

	"github.com/google/uuid"

	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/repositories"
)

type IReceiptService interface {
	MarkRead(groupID string, messageID uuid.UUID, userID string) error
	MarkAllRead(groupID string, messages []domain.Message, userID string) error
}

// ReceiptService mutates per-message read sets. It is passive: receipts
// are recorded only when the caller reports a visible client, and the
// tracker never polls visibility itself.
type ReceiptService struct {
	messages repositories.IMessageRepository
	notifier contract.Notifier
	log      *slog.Logger
}

func NewReceiptService(messages repositories.IMessageRepository, notifier contract.Notifier, log *slog.Logger) *ReceiptService {
	return &ReceiptService{messages: messages, notifier: notifier, log: log}
}

// MarkRead adds the reader to the message's read set. Marking an already
// read message is a no-op, and an event is published only when the set
// actually changed, to avoid redundant fan-out.
func (s *ReceiptService) MarkRead(groupID string, messageID uuid.UUID, userID string) error {
	changed, err := s.messages.MarkRead(groupID, messageID, userID)
	if err != nil {
		return err
	}
	if changed {
		s.notifier.Publish(event.ReceiptUpdated{Group: groupID, Message: messageID, Reader: userID})
	}
	return nil
}

// MarkAllRead records receipts for every listed message the user has not
// read yet. Called when a client resumes the foreground to catch up on
// messages that arrived while it was suspended.
func (s *ReceiptService) MarkAllRead(groupID string, messages []domain.Message, userID string) error {
	for _, msg := range messages {
		if msg.IsReadBy(userID) {
			continue
		}
		if err := s.MarkRead(groupID, msg.ID, userID); err != nil {
			return err
		}
	}
	return nil
}

// IsFullyRead reports whether every current member other than the sender
// has read the message. Membership is evaluated at call time, not at
// send time: a member who joins after the message was sent counts as an
// unread reader until they catch up.
func IsFullyRead(msg domain.Message, group domain.Group) bool {
	for memberID := range group.MemberIDs {
		if memberID == msg.Sender.ID {
			continue
		}
		if !msg.IsReadBy(memberID) {
			return false
		}
	}
	return true
}
