package services

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"chat-sync/domain/event"
	"chat-sync/repositories"
)

// fixture wires the services over a throwaway badger instance, the way
// they are assembled in production, with a capturing notifier in place
// of the hub.
type fixture struct {
	groups   *GroupService
	messages *MessageService
	receipts *ReceiptService
	notifier *fakeNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	req := require.New(t)

	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	groupRepo := repositories.NewGroupRepository(db)
	userRepo := repositories.NewUserRepository(db)
	messageRepo := repositories.NewMessageRepository(db, log)

	notifier := &fakeNotifier{}
	return fixture{
		groups:   NewGroupService(groupRepo, userRepo, notifier, log),
		messages: NewMessageService(messageRepo, groupRepo, notifier, log),
		receipts: NewReceiptService(messageRepo, notifier, log),
		notifier: notifier,
	}
}

// fakeNotifier records published events for assertions.
type fakeNotifier struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (f *fakeNotifier) Publish(e event.DomainEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeNotifier) published() []event.DomainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.DomainEvent(nil), f.events...)
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}
