//go:generate go run go.uber.org/mock/mockgen -source=channel.go -destination=../mocks/mock_channel_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"

	"herdchat/domain"

	"github.com/dgraph-io/badger/v4"
)

type IChannelRepository interface {
	Ensure(channel domain.Channel) (domain.Channel, bool, error)
	Get(id domain.ChannelID) (domain.Channel, bool, error)
	AddMember(id domain.ChannelID, userID string) error
}

type ChannelRepository struct {
	db *badger.DB
}

func NewChannelRepository(db *badger.DB) ChannelRepository {
	return ChannelRepository{db: db}
}

type diskChannel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
}

func channelKey(id domain.ChannelID) []byte {
	return []byte("chan:" + string(id))
}

// Ensure creates the channel record if absent and returns the stored record.
// The read-and-set runs inside one Badger transaction; when two concurrent
// callers race on the same id, the losing transaction hits ErrConflict and is
// replayed, so it observes and returns the winner's channel rather than an
// error. A second channel for the same id can never exist.
func (c ChannelRepository) Ensure(channel domain.Channel) (domain.Channel, bool, error) {
	var (
		stored  domain.Channel
		created bool
	)
	err := withConflictRetry(func() error {
		return c.ensureOnce(channel, &stored, &created)
	})
	if err != nil {
		return domain.Channel{}, false, fmt.Errorf("ensure channel %s: %w", channel.ID, err)
	}
	return stored, created, nil
}

func (c ChannelRepository) ensureOnce(channel domain.Channel, stored *domain.Channel, created *bool) error {
	return c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(channelKey(channel.ID))
		if err == nil {
			*created = false
			return item.Value(func(val []byte) error {
				return decodeChannel(val, stored)
			})
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		value, err := json.Marshal(diskChannel{
			ID:      string(channel.ID),
			Name:    channel.Name,
			Members: channel.Members,
		})
		if err != nil {
			return err
		}
		*created = true
		*stored = channel
		return txn.Set(channelKey(channel.ID), value)
	})
}

// withConflictRetry replays a Badger transaction that lost an SSI race.
func withConflictRetry(fn func() error) error {
	for {
		err := fn()
		if err != badger.ErrConflict {
			return err
		}
	}
}

func (c ChannelRepository) Get(id domain.ChannelID) (domain.Channel, bool, error) {
	var channel domain.Channel
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(channelKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return decodeChannel(val, &channel)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.Channel{}, false, nil
	}
	if err != nil {
		return domain.Channel{}, false, err
	}
	return channel, true, nil
}

// AddMember records channel membership. Membership is informational only and
// never gates reading or writing messages.
func (c ChannelRepository) AddMember(id domain.ChannelID, userID string) error {
	return withConflictRetry(func() error {
		return c.addMemberOnce(id, userID)
	})
}

func (c ChannelRepository) addMemberOnce(id domain.ChannelID, userID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(channelKey(id))
		if err != nil {
			return err
		}
		var channel domain.Channel
		if err := item.Value(func(val []byte) error {
			return decodeChannel(val, &channel)
		}); err != nil {
			return err
		}
		for _, member := range channel.Members {
			if member == userID {
				return nil
			}
		}
		channel.Members = append(channel.Members, userID)
		value, err := json.Marshal(diskChannel{
			ID:      string(channel.ID),
			Name:    channel.Name,
			Members: channel.Members,
		})
		if err != nil {
			return err
		}
		return txn.Set(channelKey(id), value)
	})
}

func decodeChannel(val []byte, out *domain.Channel) error {
	var dc diskChannel
	if err := json.Unmarshal(val, &dc); err != nil {
		return err
	}
	*out = domain.Channel{
		ID:      domain.ChannelID(dc.ID),
		Name:    dc.Name,
		Members: dc.Members,
	}
	return nil
}
