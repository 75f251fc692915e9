package runtime

import (
	stderrors "errors"
	"log/slog"

	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
)

// Hub is the fan-out layer between the message log and its observers.
// Subscribers always receive the full current state of their group,
// never deltas: the snapshot push is idempotent, so late or repeated
// deliveries are harmless and at-least-once is enough.
//
// Deliveries to a single subscriber are ordered because one fan-out
// worker drains the event channel and every delivery loads a fresh
// snapshot. No ordering is guaranteed across subscribers or groups.
type Hub struct {
	log      *slog.Logger
	registry *Registry
	source   contract.SnapshotSource
	events   chan event.DomainEvent
}

func NewHub(log *slog.Logger, registry *Registry, source contract.SnapshotSource, bufferSize int) *Hub {
	return &Hub{
		log:      log,
		registry: registry,
		source:   source,
		events:   make(chan event.DomainEvent, bufferSize),
	}
}

// Publish hands an event to the fan-out pipeline without blocking the
// caller. A full buffer falls back to an asynchronous send rather than a
// drop; reordering under that fallback is safe because deliveries carry
// snapshots, not event payloads.
func (h *Hub) Publish(e event.DomainEvent) {
	select {
	case h.events <- e:
	default:
		h.log.Warn("Event buffer full, deferring fan-out", "group_id", e.GroupID())
		go func() { h.events <- e }()
	}
}

// Subscribe registers the callbacks and immediately pushes the current
// state, so there is no missed-events window between snapshot and feed.
// The initial push loads under the subscription lock like every other
// delivery, so a fan-out racing the subscribe cannot leave the
// subscriber holding a stale snapshot.
func (h *Hub) Subscribe(groupID string, onMessages MessagesCallback, onMembership MembershipCallback) (*Subscription, error) {
	sub := h.registry.Subscribe(groupID, onMessages, onMembership)

	if _, err := sub.DeliverMessages(h.messageLoader(groupID)); err != nil {
		if stderrors.Is(err, errSnapshotLoad) {
			h.registry.Unsubscribe(sub)
			return nil, err
		}
		h.log.Warn("Initial push rejected by subscriber", "group_id", groupID, "subscription_id", sub.ID, "error", err)
	}

	if onMembership != nil {
		if _, err := sub.DeliverMembers(h.memberLoader(groupID)); err != nil {
			h.log.Warn("Initial member push failed", "group_id", groupID, "subscription_id", sub.ID, "error", err)
		}
	}

	return sub, nil
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.registry.Unsubscribe(sub)
}

// fanout pushes the group's current state to every subscriber. Each
// delivery loads its own snapshot under the subscription lock, keeping
// per-subscriber deliveries in load order. One failing subscriber never
// blocks the others: its delivery is retried once with a fresh snapshot
// and then left for the next event.
func (h *Hub) fanout(e event.DomainEvent) {
	groupID := e.GroupID()
	subs := h.registry.ForGroup(groupID)
	if len(subs) == 0 {
		return
	}

	if _, ok := e.(event.MembershipChanged); ok {
		load := h.memberLoader(groupID)
		for _, sub := range subs {
			if _, err := sub.DeliverMembers(load); err != nil {
				if _, err := sub.DeliverMembers(load); err != nil {
					h.log.Warn("Subscriber member resync failed, will catch up on next event",
						"group_id", groupID, "subscription_id", sub.ID, "error", err)
				}
			}
		}
		return
	}

	load := h.messageLoader(groupID)
	for _, sub := range subs {
		if _, err := sub.DeliverMessages(load); err != nil {
			if _, err := sub.DeliverMessages(load); err != nil {
				h.log.Warn("Subscriber resync failed, will catch up on next event",
					"group_id", groupID, "subscription_id", sub.ID, "error", err)
			}
		}
	}
}

func (h *Hub) messageLoader(groupID string) func() ([]domain.Message, error) {
	return func() ([]domain.Message, error) { return h.source.RecentMessages(groupID) }
}

func (h *Hub) memberLoader(groupID string) func() ([]domain.User, error) {
	return func() ([]domain.User, error) { return h.source.Members(groupID) }
}
