//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-sync/domain"
	"chat-sync/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, avoiding manual naming in the
// Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Notifier accepts domain events for asynchronous fan-out.
// Publishing never blocks the caller: fan-out is best-effort follow-up
// to an operation that has already fully succeeded.
type Notifier interface {
	Publish(e event.DomainEvent)
}

// SnapshotSource loads the full current state pushed to subscribers.
type SnapshotSource interface {
	RecentMessages(groupID string) ([]domain.Message, error)
	Members(groupID string) ([]domain.User, error)
}
