package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"herdchat/domain"
	"herdchat/domain/event"
	herderrors "herdchat/errors"
)

// LocalFeed is the in-process adapter: a registry of per-channel subscriber
// sets with best-effort fanout. There is no transport to lose, so StatusDown
// only ever means the feed was closed underneath a session or a subscriber
// overflowed and must reseed.
//
// LocalFeed is safe for concurrent use by multiple goroutines.
type LocalFeed struct {
	mu          sync.RWMutex
	log         *slog.Logger
	bufferSize  int
	subscribers map[domain.ChannelID]map[*localSubscription]struct{}
	closed      bool
}

func NewLocalFeed(log *slog.Logger, bufferSize int) *LocalFeed {
	return &LocalFeed{
		log:         log,
		bufferSize:  bufferSize,
		subscribers: make(map[domain.ChannelID]map[*localSubscription]struct{}),
	}
}

type localSubscription struct {
	feed    *LocalFeed
	channel domain.ChannelID
	events  chan event.ChangeEvent
	status  chan Status
	once    sync.Once
}

func (s *localSubscription) Events() <-chan event.ChangeEvent { return s.events }
func (s *localSubscription) Status() <-chan Status            { return s.status }

func (s *localSubscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s)
		close(s.events)
		close(s.status)
	})
}

// Publish fans the event out to every subscriber of its channel. A subscriber
// whose buffer is full loses the event and is signalled StatusDown: a silent
// gap would leave it believing it is current, so overflow is treated exactly
// like a transport drop and the next connect cycle reseeds from history.
func (f *LocalFeed) Publish(_ context.Context, e event.ChangeEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return fmt.Errorf("publish on closed feed")
	}
	for sub := range f.subscribers[e.Channel()] {
		select {
		case sub.events <- e:
		default:
			f.log.Warn("Subscriber buffer full, dropping event",
				"channel", e.Channel(), "kind", e.Kind)
			select {
			case sub.status <- StatusDown:
			default:
			}
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(channelID domain.ChannelID) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("subscribe on closed feed")
	}
	if !domain.ValidChannelID(channelID) {
		return nil, fmt.Errorf("%w: %q", herderrors.ErrInvalidChannel, channelID)
	}
	sub := &localSubscription{
		feed:    f,
		channel: channelID,
		events:  make(chan event.ChangeEvent, f.bufferSize),
		status:  make(chan Status, 1),
	}
	if _, ok := f.subscribers[channelID]; !ok {
		f.subscribers[channelID] = make(map[*localSubscription]struct{})
	}
	f.subscribers[channelID][sub] = struct{}{}
	return sub, nil
}

func (f *LocalFeed) remove(sub *localSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if members, ok := f.subscribers[sub.channel]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(f.subscribers, sub.channel)
		}
	}
}

// Close signals StatusDown to every open subscription and refuses further use.
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, members := range f.subscribers {
		for sub := range members {
			select {
			case sub.status <- StatusDown:
			default:
			}
		}
	}
	return nil
}
