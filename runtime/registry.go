// Package runtime wires the chat subsystem's long-lived pieces: the channel
// registry and the supervised workers. It contains no domain rules.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"herdchat/domain"
	herderrors "herdchat/errors"
	"herdchat/repositories"
)

// ChannelRegistry maps an event id to its single chat channel, creating it
// lazily on first access. The durable record lives in the channel repository;
// the in-memory map only short-circuits repeat lookups.
type ChannelRegistry struct {
	mu       sync.Mutex
	log      *slog.Logger
	channels repositories.IChannelRepository
	handles  map[domain.ChannelID]domain.Channel
}

func NewChannelRegistry(log *slog.Logger, channels repositories.IChannelRepository) *ChannelRegistry {
	return &ChannelRegistry{
		log:      log,
		channels: channels,
		handles:  make(map[domain.ChannelID]domain.Channel),
	}
}

// EnsureChannel returns the channel for an event, creating it if needed.
// Idempotent under concurrent callers: the repository's transactional ensure
// guarantees a single record per id, so a losing caller receives the winner's
// channel, never an error. When the backend is unavailable an error comes
// back and no handle is fabricated; callers retry with their own backoff.
func (r *ChannelRegistry) EnsureChannel(ctx context.Context, id domain.ChannelID, name string) (domain.Channel, error) {
	if err := ctx.Err(); err != nil {
		return domain.Channel{}, err
	}
	if !domain.ValidChannelID(id) {
		return domain.Channel{}, fmt.Errorf("%w: %q", herderrors.ErrInvalidChannel, id)
	}

	r.mu.Lock()
	if handle, ok := r.handles[id]; ok {
		r.mu.Unlock()
		return handle, nil
	}
	r.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("Event Chat %s", id)
	}
	channel, created, err := r.channels.Ensure(domain.Channel{ID: id, Name: name})
	if err != nil {
		return domain.Channel{}, fmt.Errorf("channel registry: %w", err)
	}
	if created {
		r.log.Info("Channel created", "channel", id, "name", channel.Name)
	}

	r.mu.Lock()
	r.handles[id] = channel
	r.mu.Unlock()
	return channel, nil
}

// Join records informational membership; it never gates reading or writing.
func (r *ChannelRegistry) Join(ctx context.Context, id domain.ChannelID, userID string) error {
	if _, err := r.EnsureChannel(ctx, id, ""); err != nil {
		return err
	}
	return r.channels.AddMember(id, userID)
}
