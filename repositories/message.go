//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"herdchat/domain"
	herderrors "herdchat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	Insert(channelID domain.ChannelID, authorID, body string) (domain.Message, error)
	Get(id uuid.UUID) (domain.Message, error)
	Edit(id uuid.UUID, body string) (domain.Message, error)
	Delete(id uuid.UUID) (domain.Message, error)
	History(channelID domain.ChannelID, limit int) ([]domain.Message, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// diskMessage is the stored shape of a message.
type diskMessage struct {
	ID       string `json:"id"`
	Channel  string `json:"channel"`
	Author   string `json:"author"`
	Body     string `json:"body"`
	At       int64  `json:"at"`
	EditedAt *int64 `json:"edited_at,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// Keys are formatted as "msg:{channel}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
//
// A secondary index "msgid:{uuid}" points back at the primary key so that
// edits and tombstones can find a row without knowing its timestamp.
func messageKey(channelID domain.ChannelID, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", channelID, at.UnixNano(), id))
}

func indexKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

// Insert assigns the authoritative id and timestamp and persists the message.
// The returned Message is the exact record every subscriber will see echoed
// through the feed.
func (m MessageRepository) Insert(channelID domain.ChannelID, authorID, body string) (domain.Message, error) {
	if !domain.ValidBody(body) {
		return domain.Message{}, herderrors.ErrEmptyBody
	}
	if authorID == "" {
		return domain.Message{}, herderrors.ErrAuthRequired
	}
	if !domain.ValidChannelID(channelID) {
		return domain.Message{}, fmt.Errorf("%w: %q", herderrors.ErrInvalidChannel, channelID)
	}

	message := domain.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	key := messageKey(channelID, message.CreatedAt, message.ID)
	value, err := json.Marshal(fromMessage(message))
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(message.ID), key)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert failed: %w", err)
	}
	return message, nil
}

// Get looks a message up by id through the secondary index. Tombstoned rows
// are returned as-is so callers can distinguish deleted from unknown.
func (m MessageRepository) Get(id uuid.UUID) (domain.Message, error) {
	var dm diskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return herderrors.ErrUnknownMessage
			}
			return err
		}
		var primaryKey []byte
		if err := item.Value(func(val []byte) error {
			primaryKey = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		row, err := txn.Get(primaryKey)
		if err != nil {
			return err
		}
		return row.Value(func(val []byte) error {
			return json.Unmarshal(val, &dm)
		})
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(dm)
}

// Edit replaces the body of an existing message and stamps EditedAt.
// Tombstoned messages cannot be edited.
func (m MessageRepository) Edit(id uuid.UUID, body string) (domain.Message, error) {
	if !domain.ValidBody(body) {
		return domain.Message{}, herderrors.ErrEmptyBody
	}
	return m.mutate(id, func(message *domain.Message) error {
		if message.Deleted {
			return herderrors.ErrUnknownMessage
		}
		message.Body = body
		message.EditedAt = lo.ToPtr(time.Now().UTC())
		return nil
	})
}

// Delete marks a message as a tombstone. The row is retained so that ordering
// stays stable for any client that received the id before the delete.
func (m MessageRepository) Delete(id uuid.UUID) (domain.Message, error) {
	return m.mutate(id, func(message *domain.Message) error {
		message.Deleted = true
		return nil
	})
}

func (m MessageRepository) mutate(id uuid.UUID, apply func(*domain.Message) error) (domain.Message, error) {
	var updated domain.Message
	err := withConflictRetry(func() error {
		return m.mutateOnce(id, apply, &updated)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return updated, nil
}

func (m MessageRepository) mutateOnce(id uuid.UUID, apply func(*domain.Message) error, updated *domain.Message) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return herderrors.ErrUnknownMessage
			}
			return err
		}
		var primaryKey []byte
		if err := item.Value(func(val []byte) error {
			primaryKey = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		row, err := txn.Get(primaryKey)
		if err != nil {
			return err
		}
		var dm diskMessage
		if err := row.Value(func(val []byte) error {
			return json.Unmarshal(val, &dm)
		}); err != nil {
			return err
		}

		message, err := toMessage(dm)
		if err != nil {
			return err
		}
		if err := apply(&message); err != nil {
			return err
		}

		value, err := json.Marshal(fromMessage(message))
		if err != nil {
			return err
		}
		*updated = message
		return txn.Set(primaryKey, value)
	})
}

// History retrieves the newest messages for a channel using a reverse prefix
// scan. Thanks to the padded timestamp in the key, rows come back newest-first;
// callers reorder to oldest-first for display. Tombstoned rows are skipped.
func (m MessageRepository) History(channelID domain.ChannelID, limit int) ([]domain.Message, error) {
	if !domain.ValidChannelID(channelID) {
		return nil, fmt.Errorf("%w: %q", herderrors.ErrInvalidChannel, channelID)
	}
	var rows []diskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", channelID))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key for this prefix, then walk back.
		seekKey := append(append([]byte(nil), prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(rows) == limit {
				m.log.Debug(fmt.Sprintf("History limit of %d messages reached", limit))
				break
			}
			var dm diskMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dm)
			})
			if err != nil {
				return err
			}
			if dm.Deleted {
				continue
			}
			// The key prefix alone does not prove the row's channel: an id
			// like "event-7:0", written before ids were restricted, shares
			// the byte prefix of "event-7". Trust the row, not the key.
			if dm.Channel != string(channelID) {
				continue
			}
			rows = append(rows, dm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history failed: %w", err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, dm := range rows {
		message, err := toMessage(dm)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func fromMessage(message domain.Message) diskMessage {
	dm := diskMessage{
		ID:      message.ID.String(),
		Channel: string(message.ChannelID),
		Author:  message.AuthorID,
		Body:    message.Body,
		At:      message.CreatedAt.UnixNano(),
		Deleted: message.Deleted,
	}
	if message.EditedAt != nil {
		dm.EditedAt = lo.ToPtr(message.EditedAt.UnixNano())
	}
	return dm
}

func toMessage(dm diskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(dm.ID)
	if err != nil {
		return domain.Message{}, err
	}
	message := domain.Message{
		ID:        parsedID,
		ChannelID: domain.ChannelID(dm.Channel),
		AuthorID:  dm.Author,
		Body:      dm.Body,
		CreatedAt: time.Unix(0, dm.At).UTC(),
		Deleted:   dm.Deleted,
	}
	if dm.EditedAt != nil {
		message.EditedAt = lo.ToPtr(time.Unix(0, *dm.EditedAt).UTC())
	}
	return message, nil
}
