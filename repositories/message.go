//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-sync/domain"
	"chat-sync/errors"
)

const (
	messagePrefix    = "msg:"
	messageIdxPrefix = "msgid:"
	sequencePrefix   = "seq:"
)

type IMessageRepository interface {
	AppendMessage(groupID string, sender domain.User, content domain.Content) (domain.Message, error)
	ListRecent(groupID string, limit int) ([]domain.Message, error)
	GetMessage(groupID string, messageID uuid.UUID) (domain.Message, error)
	MarkRead(groupID string, messageID uuid.UUID, userID string) (bool, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// messageRecord is the on-disk representation of a message.
type messageRecord struct {
	ID         string            `json:"id"`
	GroupID    string            `json:"group_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	Text       string            `json:"text,omitempty"`
	Attachment *attachmentRecord `json:"attachment,omitempty"`
	Seq        uint64            `json:"seq"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadBy     map[string]bool   `json:"read_by"`
}

type attachmentRecord struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	PayloadRef string `json:"payload_ref"`
}

// messageKey pads the sequence number to 20 digits so that a prefix scan
// over "msg:<group>:" yields messages in log order lexicographically.
func messageKey(groupID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", messagePrefix, groupID, seq))
}

func messageIdxKey(groupID string, messageID uuid.UUID) []byte {
	return []byte(messageIdxPrefix + groupID + ":" + messageID.String())
}

// AppendMessage assigns the next per-group sequence number and persists
// the message in a single transaction, together with an id-to-sequence
// index entry used by read marking. The sender is the first reader.
func (r MessageRepository) AppendMessage(groupID string, sender domain.User, content domain.Content) (domain.Message, error) {
	msg := domain.Message{
		ID:         uuid.New(),
		GroupID:    groupID,
		Sender:     sender,
		Text:       content.Text,
		Attachment: content.Attachment,
		CreatedAt:  time.Now().UTC(),
		ReadBy:     map[string]bool{sender.ID: true},
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSequence(txn, groupID)
		if err != nil {
			return err
		}
		msg.Seq = seq

		data, err := json.Marshal(fromMessage(msg))
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}
		if err := txn.Set(messageKey(groupID, seq), data); err != nil {
			return err
		}

		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, seq)
		return txn.Set(messageIdxKey(groupID, msg.ID), seqBytes)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// nextSequence increments the per-group counter inside the caller's
// transaction so the allocation commits atomically with the message.
func nextSequence(txn *badger.Txn, groupID string) (uint64, error) {
	key := []byte(sequencePrefix + groupID)
	var current uint64

	item, err := txn.Get(key)
	switch {
	case stderrors.Is(err, badger.ErrKeyNotFound):
		current = 0
	case err != nil:
		return 0, err
	default:
		err = item.Value(func(val []byte) error {
			current = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	return next, txn.Set(key, buf)
}

// ListRecent returns the most recent messages for a group, oldest first,
// capped at limit. The reverse iterator walks newest to oldest thanks to
// the padded sequence in the key; the result is flipped before returning.
// Badger's snapshot isolation guarantees a consistent view even while
// appends are in flight.
func (r MessageRepository) ListRecent(groupID string, limit int) ([]domain.Message, error) {
	var records []messageRecord
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix + groupID + ":")
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the highest possible sequence, then walk backwards.
		seekKey := append(append([]byte{}, prefix...), []byte("99999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) == limit {
				break
			}
			var record messageRecord
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

	messages := lo.Map(records, func(record messageRecord, _ int) domain.Message {
		return toMessage(record)
	})
	return lo.Reverse(messages), nil
}

func (r MessageRepository) GetMessage(groupID string, messageID uuid.UUID) (domain.Message, error) {
	var record messageRecord
	err := r.db.View(func(txn *badger.Txn) error {
		seq, err := lookupSequence(txn, groupID, messageID)
		if err != nil {
			return err
		}
		return getJSON(txn, string(messageKey(groupID, seq)), &record)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(record), nil
}

// MarkRead adds userID to the message's read set. The update is a
// read-modify-write retried on transaction conflict: concurrent marks
// from different readers commute because the set only grows. The
// returned flag reports whether the set actually changed.
func (r MessageRepository) MarkRead(groupID string, messageID uuid.UUID, userID string) (bool, error) {
	for {
		changed := false
		err := r.db.Update(func(txn *badger.Txn) error {
			seq, err := lookupSequence(txn, groupID, messageID)
			if err != nil {
				return err
			}

			key := messageKey(groupID, seq)
			var record messageRecord
			if err := getJSON(txn, string(key), &record); err != nil {
				return err
			}
			if record.ReadBy[userID] {
				return nil
			}
			if record.ReadBy == nil {
				record.ReadBy = make(map[string]bool)
			}
			record.ReadBy[userID] = true

			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal failed: %w", err)
			}
			changed = true
			return txn.Set(key, data)
		})
		if stderrors.Is(err, badger.ErrConflict) {
			r.log.Debug("Read mark conflicted, retrying", "group_id", groupID, "message_id", messageID)
			continue
		}
		if err != nil {
			return false, err
		}
		return changed, nil
	}
}

func lookupSequence(txn *badger.Txn, groupID string, messageID uuid.UUID) (uint64, error) {
	item, err := txn.Get(messageIdxKey(groupID, messageID))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return 0, errors.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func fromMessage(msg domain.Message) messageRecord {
	record := messageRecord{
		ID:         msg.ID.String(),
		GroupID:    msg.GroupID,
		SenderID:   msg.Sender.ID,
		SenderName: msg.Sender.Name,
		Text:       msg.Text,
		Seq:        msg.Seq,
		CreatedAt:  msg.CreatedAt,
		ReadBy:     msg.ReadBy,
	}
	if msg.Attachment != nil {
		record.Attachment = &attachmentRecord{
			Filename:   msg.Attachment.Filename,
			MimeType:   msg.Attachment.MimeType,
			PayloadRef: msg.Attachment.PayloadRef,
		}
	}
	return record
}

func toMessage(record messageRecord) domain.Message {
	msg := domain.Message{
		ID:        uuid.MustParse(record.ID),
		GroupID:   record.GroupID,
		Sender:    domain.User{ID: record.SenderID, Name: record.SenderName},
		Text:      record.Text,
		Seq:       record.Seq,
		CreatedAt: record.CreatedAt,
		ReadBy:    record.ReadBy,
	}
	if record.Attachment != nil {
		msg.Attachment = &domain.Attachment{
			Filename:   record.Attachment.Filename,
			MimeType:   record.Attachment.MimeType,
			PayloadRef: record.Attachment.PayloadRef,
		}
	}
	return msg
}
