//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"chat-sync/domain"
)

const userPrefix = "user:"

type IUserRepository interface {
	PutUser(user domain.User) error
	GetUsers(ids []string) ([]domain.User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) UserRepository {
	return UserRepository{db: db}
}

type userRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PutUser upserts the user's global identity record. Display names are
// captured at join time, so a later join refreshes the stored name.
func (r UserRepository) PutUser(user domain.User) error {
	data, err := json.Marshal(userRecord{ID: user.ID, Name: user.Name})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(userPrefix+user.ID), data)
	})
}

// GetUsers resolves a set of user ids to identities. Ids without a
// stored record fall back to the id as display name rather than
// disappearing from member lists.
func (r UserRepository) GetUsers(ids []string) ([]domain.User, error) {
	users := make([]domain.User, 0, len(ids))
	err := r.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var record userRecord
			if err := getJSON(txn, userPrefix+id, &record); err != nil {
				record = userRecord{ID: id, Name: id}
			}
			users = append(users, domain.User{ID: record.ID, Name: record.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
