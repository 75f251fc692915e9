// Package event defines the domain events fanned out to group
// subscribers. Events carry identifiers only: subscribers always receive
// a full state snapshot, never the event payload itself.
package event

import (
	"time"

	"github.com/google/uuid"
)

type DomainEvent interface {
	GroupID() string
}

type MessageAppended struct {
	ID    uuid.UUID
	Group string
	Seq   uint64
	At    time.Time
}

func (e MessageAppended) GroupID() string { return e.Group }

type ReceiptUpdated struct {
	Group   string
	Message uuid.UUID
	Reader  string
}

func (e ReceiptUpdated) GroupID() string { return e.Group }

type MembershipChanged struct {
	Group  string
	UserID string
	Joined bool
}

func (e MembershipChanged) GroupID() string { return e.Group }
