package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"chat-sync/domain"
	"chat-sync/repositories"
	"chat-sync/runtime"
)

// TestGroupFlow_EndToEnd walks the whole pipeline: a group is created, a
// message is sent, a subscriber watches the feed, a second user joins
// and reads, and the subscriber sees each state via full snapshots.
func TestGroupFlow_EndToEnd(t *testing.T) {
	req := require.New(t)

	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	groupRepo := repositories.NewGroupRepository(db)
	userRepo := repositories.NewUserRepository(db)
	messageRepo := repositories.NewMessageRepository(db, log)
	source := repositories.SnapshotStore{
		Messages:    messageRepo,
		Groups:      groupRepo,
		Users:       userRepo,
		RecentLimit: 50,
	}

	hub := runtime.NewHub(log, runtime.NewRegistry(), source, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = runtime.NewFanoutWorker(hub).Run(ctx) }()

	groups := NewGroupService(groupRepo, userRepo, hub, log)
	messages := NewMessageService(messageRepo, groupRepo, hub, log)
	receipts := NewReceiptService(messageRepo, hub, log)

	// Alice creates Alpha and sends the first message
	group, err := groups.CreateGroup("Alpha", "", alice)
	req.NoError(err)
	sent, err := messages.Append(group.ID, alice, domain.Content{Text: "hi"})
	req.NoError(err)

	pushes := make(chan []domain.Message, 16)
	sub, err := hub.Subscribe(group.ID, func(snapshot []domain.Message) error {
		pushes <- snapshot
		return nil
	}, nil)
	req.NoError(err)
	defer hub.Unsubscribe(sub)

	// The initial push already carries the full history
	snapshot := awaitSnapshot(t, pushes, func(msgs []domain.Message) bool {
		return len(msgs) == 1
	})
	req.Equal("hi", snapshot[0].Text)
	req.True(snapshot[0].IsReadBy(alice.ID))
	req.Len(snapshot[0].ReadBy, 1)

	// Bob joins and reads the message
	req.NoError(groups.JoinGroup(group.ID, "", bob))
	req.NoError(receipts.MarkRead(group.ID, sent.ID, bob.ID))

	// The subscriber eventually sees the grown read set
	snapshot = awaitSnapshot(t, pushes, func(msgs []domain.Message) bool {
		return len(msgs) == 1 && msgs[0].IsReadBy(bob.ID)
	})
	req.True(snapshot[0].IsReadBy(alice.ID))
	req.True(snapshot[0].IsReadBy(bob.ID))

	// And with both members caught up the message is fully read
	fresh, err := groups.GetGroup(group.ID)
	req.NoError(err)
	req.True(IsFullyRead(snapshot[0], fresh))
}

// awaitSnapshot drains pushes until one satisfies the predicate.
// Deliveries are at-least-once snapshots, so skipping stale or duplicate
// pushes is exactly what a real client does.
func awaitSnapshot(t *testing.T, pushes <-chan []domain.Message, ok func([]domain.Message) bool) []domain.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snapshot := <-pushes:
			if ok(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("timed out waiting for the expected snapshot")
			return nil
		}
	}
}
