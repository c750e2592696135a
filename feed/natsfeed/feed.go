// Package natsfeed is the NATS-backed change feed adapter.
// Events are JSON-encoded on per-channel subjects; transport connectivity is
// surfaced through each subscription's Status channel so sessions can enter
// and leave their degraded state.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"herdchat/domain"
	"herdchat/domain/event"
	herderrors "herdchat/errors"
	"herdchat/feed"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "herdchat.channel."

// subjectFor assumes the id already passed domain.ValidChannelID, which bans
// the NATS token and wildcard characters ('.', '*', '>', spaces).
func subjectFor(channelID domain.ChannelID) string {
	return subjectPrefix + string(channelID)
}

// Feed publishes and subscribes over a single NATS connection with automatic
// reconnection. Disconnect and reconnect callbacks are broadcast to every
// open subscription.
type Feed struct {
	conn *nats.Conn
	log  *slog.Logger

	mu         sync.Mutex
	bufferSize int
	subs       map[*subscription]struct{}
}

// New connects to NATS. Extra nats.Option values can be appended by callers;
// the reconnect defaults mirror the subscriber side used across the codebase.
func New(url string, log *slog.Logger, bufferSize int, opts ...nats.Option) (*Feed, error) {
	f := &Feed{
		log:        log,
		bufferSize: bufferSize,
		subs:       make(map[*subscription]struct{}),
	}
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS connection lost", "error", err)
			}
			f.broadcast(feed.StatusDown)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS connection re-established", "url", nc.ConnectedUrl())
			f.broadcast(feed.StatusUp)
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	f.conn = nc
	return f, nil
}

func (f *Feed) Publish(_ context.Context, e event.ChangeEvent) error {
	if !domain.ValidChannelID(e.Channel()) {
		return fmt.Errorf("%w: %q", herderrors.ErrInvalidChannel, e.Channel())
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling change event: %w", err)
	}
	if err := f.conn.Publish(subjectFor(e.Channel()), data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subjectFor(e.Channel()), err)
	}
	return nil
}

func (f *Feed) Subscribe(channelID domain.ChannelID) (feed.Subscription, error) {
	if !domain.ValidChannelID(channelID) {
		return nil, fmt.Errorf("%w: %q", herderrors.ErrInvalidChannel, channelID)
	}
	sub := &subscription{
		feed:   f,
		events: make(chan event.ChangeEvent, f.bufferSize),
		status: make(chan feed.Status, 2),
	}

	natsSub, err := f.conn.Subscribe(subjectFor(channelID), func(msg *nats.Msg) {
		var e event.ChangeEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			f.log.Warn("Dropping undecodable change event", "subject", msg.Subject, "error", err)
			return
		}
		sub.deliver(e)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subjectFor(channelID), err)
	}
	sub.natsSub = natsSub

	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := f.conn.Flush(); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

func (f *Feed) broadcast(status feed.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.notify(status)
	}
}

func (f *Feed) remove(sub *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub)
}

func (f *Feed) Close() error {
	f.mu.Lock()
	subs := make([]*subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	f.conn.Close()
	return nil
}

type subscription struct {
	feed    *Feed
	natsSub *nats.Subscription
	events  chan event.ChangeEvent
	status  chan feed.Status

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (s *subscription) Events() <-chan event.ChangeEvent { return s.events }
func (s *subscription) Status() <-chan feed.Status       { return s.status }

func (s *subscription) deliver(e event.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
		// The session is not draining, so the event is lost. Report the gap
		// as a transport drop; the reconnect cycle reseeds from history.
		// notify would re-lock s.mu, so the send is inlined here.
		select {
		case s.status <- feed.StatusDown:
		default:
		}
	}
}

func (s *subscription) notify(status feed.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.status <- status:
	default:
	}
}

func (s *subscription) Close() {
	s.once.Do(func() {
		_ = s.natsSub.Unsubscribe()
		s.feed.remove(s)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		// Drain remaining events so the handler can't block, then close.
		for {
			select {
			case <-s.events:
			default:
				close(s.events)
				close(s.status)
				return
			}
		}
	})
}
