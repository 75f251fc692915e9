// Package runtime owns event propagation: the subscription registry, the
// hub, and its fan-out pipeline. It orchestrates without containing
// business logic or domain rules.
package runtime

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-sync/domain"
)

// MessagesCallback receives the full current ordered message list for a
// group, oldest first. Returning an error asks the hub for a resync.
type MessagesCallback func(messages []domain.Message) error

// MembershipCallback receives the full current member list for a group.
type MembershipCallback func(members []domain.User) error

// errSnapshotLoad marks a failed state load, as opposed to a subscriber
// rejecting a delivery.
var errSnapshotLoad = stderrors.New("snapshot load failed")

// Subscription is a live callback registration for one group, revocable
// exactly once through the registry.
type Subscription struct {
	ID    uuid.UUID
	Group string

	mu           sync.Mutex
	closed       bool
	onMessages   MessagesCallback
	onMembership MembershipCallback
}

// DeliverMessages loads a snapshot and invokes the message callback
// while holding the subscription lock, unless the subscription has been
// closed. Loading inside the lock makes deliveries to one subscriber
// monotone: whichever delivery takes the lock first also loads first, so
// a delivery never carries an older snapshot than the one before it.
// The returned flag reports whether the subscription is still live; a
// failed load is wrapped in errSnapshotLoad, any other error is the
// subscriber's.
func (s *Subscription) DeliverMessages(load func() ([]domain.Message, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	messages, err := load()
	if err != nil {
		return true, fmt.Errorf("%w: %v", errSnapshotLoad, err)
	}
	return true, s.onMessages(messages)
}

func (s *Subscription) DeliverMembers(load func() ([]domain.User, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.onMembership == nil {
		return false, nil
	}
	members, err := load()
	if err != nil {
		return true, fmt.Errorf("%w: %v", errSnapshotLoad, err)
	}
	return true, s.onMembership(members)
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Registry holds the per-group subscription sets. Each hub owns its own
// registry and hands out handles for deterministic teardown; there is no
// process-wide listener map.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[uuid.UUID]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[uuid.UUID]*Subscription)}
}

func (r *Registry) Subscribe(groupID string, onMessages MessagesCallback, onMembership MembershipCallback) *Subscription {
	sub := &Subscription{
		ID:           uuid.New(),
		Group:        groupID,
		onMessages:   onMessages,
		onMembership: onMembership,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		r.groups[groupID] = make(map[uuid.UUID]*Subscription)
	}
	r.groups[groupID][sub.ID] = sub
	return sub
}

// Unsubscribe revokes a handle. It is safe to call more than once, and
// safe to call concurrently with an in-flight delivery: once it returns,
// no callback invocation will start.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	if subs, ok := r.groups[sub.Group]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(r.groups, sub.Group)
		}
	}
	r.mu.Unlock()

	// Taking the subscription lock waits out any delivery already in
	// flight, then marks the handle dead.
	sub.close()
}

// ForGroup returns the live subscriptions of a group, nil when there are
// none.
func (r *Registry) ForGroup(groupID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.groups[groupID]
	if len(subs) == 0 {
		return nil
	}
	return lo.Values(subs)
}
