package services

import (
	"log/slog"
	"sync"

	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/repositories"
)

type IMessageService interface {
	Append(groupID string, sender domain.User, content domain.Content) (domain.Message, error)
	ListRecent(groupID string, limit int) ([]domain.Message, error)
}

// MessageService is the append-only message log. It owns ordering: one
// append is finalized at a time per group, while different groups append
// fully in parallel. Membership is enforced here at the log boundary,
// not only in the group registry.
type MessageService struct {
	messages repositories.IMessageRepository
	groups   repositories.IGroupRepository
	notifier contract.Notifier
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMessageService(messages repositories.IMessageRepository, groups repositories.IGroupRepository,
	notifier contract.Notifier, log *slog.Logger) *MessageService {
	return &MessageService{
		messages: messages,
		groups:   groups,
		notifier: notifier,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MessageService) groupLock(groupID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[groupID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[groupID] = lock
	}
	return lock
}

// Append validates the content, checks membership, persists the message
// under the group's append lock and then publishes the event. The append
// either fully succeeds or fully fails; fan-out is follow-up and its
// failures are never surfaced to the sender.
func (s *MessageService) Append(groupID string, sender domain.User, content domain.Content) (domain.Message, error) {
	if err := content.Validate(); err != nil {
		return domain.Message{}, err
	}

	group, err := s.groups.GetGroup(groupID)
	if err != nil {
		return domain.Message{}, err
	}
	if !group.IsMember(sender.ID) {
		return domain.Message{}, errors.ErrNotAMember
	}

	lock := s.groupLock(groupID)
	lock.Lock()
	msg, err := s.messages.AppendMessage(groupID, sender, content)
	lock.Unlock()
	if err != nil {
		return domain.Message{}, err
	}

	s.notifier.Publish(event.MessageAppended{ID: msg.ID, Group: groupID, Seq: msg.Seq, At: msg.CreatedAt})
	return msg, nil
}

// ListRecent returns the most recent messages oldest first. The snapshot
// is stable under concurrent appends: a partially constructed message is
// never visible.
func (s *MessageService) ListRecent(groupID string, limit int) ([]domain.Message, error) {
	if _, err := s.groups.GetGroup(groupID); err != nil {
		return nil, err
	}
	return s.messages.ListRecent(groupID, limit)
}
