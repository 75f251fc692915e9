//go:generate go run go.uber.org/mock/mockgen -source=group.go -destination=../mocks/mock_group_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-sync/domain"
	"chat-sync/errors"
)

const (
	groupPrefix     = "group:"
	groupNamePrefix = "groupname:"
)

type IGroupRepository interface {
	CreateGroup(name, passwordHash string, creator domain.User) (domain.Group, error)
	GetGroup(groupID string) (domain.Group, error)
	ListGroups() ([]domain.GroupSummary, error)
	AddMember(groupID, userID string) (bool, error)
}

type GroupRepository struct {
	db *badger.DB
}

func NewGroupRepository(db *badger.DB) GroupRepository {
	return GroupRepository{db: db}
}

// groupRecord is the on-disk representation of a group.
type groupRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	PasswordHash string          `json:"password_hash,omitempty"`
	MemberIDs    map[string]bool `json:"member_ids"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CreateGroup persists a new group with the creator as its only member.
// A "groupname:<lowercased name>" index key is written in the same
// transaction, which makes the case-insensitive uniqueness check atomic
// with the insert. A transaction conflict is retried: two racing creates
// with the same name then resolve to one success and one
// ErrDuplicateName instead of a raw conflict.
func (r GroupRepository) CreateGroup(name, passwordHash string, creator domain.User) (domain.Group, error) {
	record := groupRecord{
		ID:           uuid.NewString(),
		Name:         name,
		PasswordHash: passwordHash,
		MemberIDs:    map[string]bool{creator.ID: true},
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return domain.Group{}, fmt.Errorf("marshal failed: %w", err)
	}

	for {
		err = r.db.Update(func(txn *badger.Txn) error {
			nameKey := []byte(groupNamePrefix + domain.NormalizeName(name))
			if _, err := txn.Get(nameKey); err == nil {
				return errors.ErrDuplicateName
			} else if !stderrors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(nameKey, []byte(record.ID)); err != nil {
				return err
			}
			return txn.Set([]byte(groupPrefix+record.ID), data)
		})
		if stderrors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.Group{}, err
		}
		return toGroup(record), nil
	}
}

func (r GroupRepository) GetGroup(groupID string) (domain.Group, error) {
	var record groupRecord
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, groupPrefix+groupID, &record)
	})
	if err != nil {
		return domain.Group{}, err
	}
	return toGroup(record), nil
}

// ListGroups returns the listing view of every group. Password hashes
// never leave the repository through this path.
func (r GroupRepository) ListGroups() ([]domain.GroupSummary, error) {
	var records []groupRecord
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(groupPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record groupRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return lo.Map(records, func(record groupRecord, _ int) domain.GroupSummary {
		return domain.GroupSummary{
			ID:          record.ID,
			Name:        record.Name,
			HasPassword: record.PasswordHash != "",
		}
	}), nil
}

// AddMember adds a user to the membership set. Adding an existing member
// is a no-op; the returned flag reports whether the set actually changed.
// The update is a read-modify-write retried on transaction conflict:
// concurrent joins by different users commute because the set only grows.
func (r GroupRepository) AddMember(groupID, userID string) (bool, error) {
	for {
		changed := false
		err := r.db.Update(func(txn *badger.Txn) error {
			var record groupRecord
			if err := getJSON(txn, groupPrefix+groupID, &record); err != nil {
				return err
			}
			if record.MemberIDs[userID] {
				return nil
			}
			if record.MemberIDs == nil {
				record.MemberIDs = make(map[string]bool)
			}
			record.MemberIDs[userID] = true

			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal failed: %w", err)
			}
			changed = true
			return txn.Set([]byte(groupPrefix+groupID), data)
		})
		if stderrors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, err
		}
		return changed, nil
	}
}

// getJSON reads a key and decodes its value, mapping a missing key to
// the domain's not-found error.
func getJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func toGroup(record groupRecord) domain.Group {
	return domain.Group{
		ID:           record.ID,
		Name:         record.Name,
		PasswordHash: record.PasswordHash,
		MemberIDs:    record.MemberIDs,
	}
}
