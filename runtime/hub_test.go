package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-sync/domain"
	"chat-sync/domain/event"
)

// fakeSource serves in-memory snapshots so hub behaviour can be tested
// without a database.
type fakeSource struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	members  map[string][]domain.User
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: make(map[string][]domain.Message),
		members:  make(map[string][]domain.User),
	}
}

func (f *fakeSource) RecentMessages(groupID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[groupID], nil
}

func (f *fakeSource) Members(groupID string) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[groupID], nil
}

func (f *fakeSource) setMessages(groupID string, messages []domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[groupID] = messages
}

func testMessage(groupID, text string, seq uint64) domain.Message {
	return domain.Message{
		ID:      uuid.New(),
		GroupID: groupID,
		Sender:  domain.User{ID: "u1", Name: "Alice"},
		Text:    text,
		Seq:     seq,
		ReadBy:  map[string]bool{"u1": true},
	}
}

func startFanout(t *testing.T, hub *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = NewFanoutWorker(hub).Run(ctx) }()
}

func receivePush(t *testing.T, pushes <-chan []domain.Message) []domain.Message {
	t.Helper()
	select {
	case snapshot := <-pushes:
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot push")
		return nil
	}
}

func TestHub_Subscribe_PushesInitialStateInOrder(t *testing.T) {
	req := require.New(t)
	source := newFakeSource()
	source.setMessages("g1", []domain.Message{
		testMessage("g1", "first", 1),
		testMessage("g1", "second", 2),
		testMessage("g1", "third", 3),
	})
	hub := NewHub(slog.Default(), NewRegistry(), source, 8)

	pushes := make(chan []domain.Message, 4)

	// When a subscriber registers
	sub, err := hub.Subscribe("g1", func(messages []domain.Message) error {
		pushes <- messages
		return nil
	}, nil)
	req.NoError(err)
	defer hub.Unsubscribe(sub)

	// Then the full ordered history arrives before any event
	snapshot := receivePush(t, pushes)
	req.Len(snapshot, 3)
	req.Equal("first", snapshot[0].Text)
	req.Equal("second", snapshot[1].Text)
	req.Equal("third", snapshot[2].Text)
}

func TestHub_Publish_FansOutFreshSnapshot(t *testing.T) {
	req := require.New(t)
	source := newFakeSource()
	hub := NewHub(slog.Default(), NewRegistry(), source, 8)
	startFanout(t, hub)

	pushes := make(chan []domain.Message, 4)
	sub, err := hub.Subscribe("g1", func(messages []domain.Message) error {
		pushes <- messages
		return nil
	}, nil)
	req.NoError(err)
	defer hub.Unsubscribe(sub)

	// Given the initial empty push
	req.Empty(receivePush(t, pushes))

	// When a message lands and its event is published
	msg := testMessage("g1", "hello", 1)
	source.setMessages("g1", []domain.Message{msg})
	hub.Publish(event.MessageAppended{ID: msg.ID, Group: "g1", Seq: 1, At: time.Now()})

	// Then the subscriber receives the new full state
	snapshot := receivePush(t, pushes)
	req.Len(snapshot, 1)
	req.Equal("hello", snapshot[0].Text)
	req.True(snapshot[0].ReadBy["u1"])
}

func TestHub_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	req := require.New(t)
	source := newFakeSource()
	hub := NewHub(slog.Default(), NewRegistry(), source, 8)
	startFanout(t, hub)

	var failures int
	var failMu sync.Mutex
	badSub, err := hub.Subscribe("g1", func([]domain.Message) error {
		failMu.Lock()
		failures++
		failMu.Unlock()
		return errors.New("connection gone")
	}, nil)
	req.NoError(err)
	defer hub.Unsubscribe(badSub)

	pushes := make(chan []domain.Message, 4)
	goodSub, err := hub.Subscribe("g1", func(messages []domain.Message) error {
		pushes <- messages
		return nil
	}, nil)
	req.NoError(err)
	defer hub.Unsubscribe(goodSub)
	receivePush(t, pushes)

	// When an event fans out
	msg := testMessage("g1", "still flowing", 1)
	source.setMessages("g1", []domain.Message{msg})
	hub.Publish(event.MessageAppended{ID: msg.ID, Group: "g1", Seq: 1, At: time.Now()})

	// Then the healthy subscriber is served despite the failing one
	snapshot := receivePush(t, pushes)
	req.Len(snapshot, 1)
	req.Equal("still flowing", snapshot[0].Text)

	// And the failing subscriber was retried with a fresh snapshot
	req.Eventually(func() bool {
		failMu.Lock()
		defer failMu.Unlock()
		return failures >= 3 // initial push + fan-out + one resync
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NoCallbacksAfterUnsubscribe(t *testing.T) {
	req := require.New(t)
	source := newFakeSource()
	hub := NewHub(slog.Default(), NewRegistry(), source, 8)
	startFanout(t, hub)

	var calls int
	var mu sync.Mutex
	sub, err := hub.Subscribe("g1", func([]domain.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}, nil)
	req.NoError(err)

	// When the subscriber leaves before the next event
	hub.Unsubscribe(sub)

	msg := testMessage("g1", "after departure", 1)
	source.setMessages("g1", []domain.Message{msg})
	hub.Publish(event.MessageAppended{ID: msg.ID, Group: "g1", Seq: 1, At: time.Now()})
	time.Sleep(100 * time.Millisecond)

	// Then only the initial push ever reached the callback
	mu.Lock()
	defer mu.Unlock()
	req.Equal(1, calls)
}

func TestHub_MembershipChange_PushesMemberSnapshot(t *testing.T) {
	req := require.New(t)
	source := newFakeSource()
	source.members["g1"] = []domain.User{{ID: "u1", Name: "Alice"}}
	hub := NewHub(slog.Default(), NewRegistry(), source, 8)
	startFanout(t, hub)

	memberPushes := make(chan []domain.User, 4)
	sub, err := hub.Subscribe("g1", noopMessages, func(members []domain.User) error {
		memberPushes <- members
		return nil
	})
	req.NoError(err)
	defer hub.Unsubscribe(sub)

	// Given the initial member push
	initial := <-memberPushes
	req.Len(initial, 1)

	// When someone joins
	source.mu.Lock()
	source.members["g1"] = []domain.User{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bob"}}
	source.mu.Unlock()
	hub.Publish(event.MembershipChanged{Group: "g1", UserID: "u2", Joined: true})

	// Then the updated roster fans out
	select {
	case members := <-memberPushes:
		req.Len(members, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the member push")
	}
}

// growingSource returns a strictly larger snapshot on every load, so a
// subscriber receiving snapshots out of load order is directly visible
// as a shrinking delivery.
type growingSource struct {
	loads atomic.Int64
}

func (g *growingSource) RecentMessages(groupID string) ([]domain.Message, error) {
	n := g.loads.Add(1)
	messages := make([]domain.Message, n)
	for i := range messages {
		messages[i] = testMessage(groupID, "tick", uint64(i+1))
	}
	return messages, nil
}

func (g *growingSource) Members(string) ([]domain.User, error) { return nil, nil }

func TestHub_InitialPushNotOvertakenByConcurrentFanout(t *testing.T) {
	req := require.New(t)

	for round := 0; round < 25; round++ {
		source := &growingSource{}
		hub := NewHub(slog.Default(), NewRegistry(), source, 64)
		startFanout(t, hub)

		// A storm of events races the subscribe below
		published := make(chan struct{})
		go func() {
			for i := 0; i < 50; i++ {
				hub.Publish(event.MessageAppended{Group: "g1"})
			}
			close(published)
		}()

		var mu sync.Mutex
		var sizes []int
		sub, err := hub.Subscribe("g1", func(messages []domain.Message) error {
			mu.Lock()
			sizes = append(sizes, len(messages))
			mu.Unlock()
			return nil
		}, nil)
		req.NoError(err)

		<-published
		time.Sleep(20 * time.Millisecond)
		hub.Unsubscribe(sub)

		// Deliveries must arrive in load order: a later push never
		// carries an older, smaller snapshot than an earlier one.
		mu.Lock()
		for i := 1; i < len(sizes); i++ {
			req.GreaterOrEqual(sizes[i], sizes[i-1], "delivery sizes went backwards: %v", sizes)
		}
		mu.Unlock()
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	req := require.New(t)
	source := newFakeSource()
	hub := NewHub(slog.Default(), NewRegistry(), source, 1)

	// Given no worker draining and a tiny buffer
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(event.MessageAppended{Group: "g1"})
		}
		close(done)
	}()

	// Then the publisher is never stuck
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("Publish blocked on a full buffer")
	}
}
