package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"herdchat/domain"
	"herdchat/domain/chat"
	"herdchat/domain/event"
	herderrors "herdchat/errors"
	"herdchat/feed"
)

// State of a chat session.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Synced       State = "synced"
	Degraded     State = "degraded"
)

// ChannelRegistry resolves an event id to its single chat channel,
// creating it on first access.
type ChannelRegistry interface {
	EnsureChannel(ctx context.Context, id domain.ChannelID, name string) (domain.Channel, error)
}

// HistoryStore is the bounded historical fetch the connect sequence needs.
type HistoryStore interface {
	History(channelID domain.ChannelID, limit int) ([]domain.Message, error)
}

// Sender persists a message. The session never inserts the result into its
// own buffer; it waits for the authoritative echo through the feed, so the
// buffer only ever holds ids that exist in the store.
type Sender interface {
	Send(ctx context.Context, cmd chat.SendMessageCommand) (domain.Message, error)
}

// IdentityResolver maps an author id to a display identity, never failing.
type IdentityResolver interface {
	Resolve(ctx context.Context, authorID string) domain.DisplayIdentity
}

// Rendered is one buffer entry ready for display.
type Rendered struct {
	Message domain.Message
	Author  domain.DisplayIdentity
}

// Options configure a session for one client on one channel.
type Options struct {
	UserID           string
	ChannelID        domain.ChannelID
	ChannelName      string
	HistoryLimit     int
	ReconnectWait    time.Duration
	MaxContentLength int
}

// Session is the per-client state machine. One goroutine owns the connect
// and event-pump cycle; public methods only read snapshots or hand work to
// collaborators, so sessions share nothing with each other.
type Session struct {
	log      *slog.Logger
	opts     Options
	registry ChannelRegistry
	store    HistoryStore
	sender   Sender
	feed     feed.Feed
	resolver IdentityResolver

	mu       sync.RWMutex
	state    State
	timeline *Timeline

	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *slog.Logger, opts Options, registry ChannelRegistry, store HistoryStore,
	sender Sender, f feed.Feed, resolver IdentityResolver) *Session {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 30
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = time.Second
	}
	return &Session{
		log:      log,
		opts:     opts,
		registry: registry,
		store:    store,
		sender:   sender,
		feed:     f,
		resolver: resolver,
		state:    Disconnected,
		timeline: NewTimeline(),
	}
}

// Start requires a resolved identity; without one the session refuses to
// enter Connecting and the caller handles the auth condition upstream.
func (s *Session) Start(ctx context.Context) error {
	if s.opts.UserID == "" {
		return herderrors.ErrAuthRequired
	}
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Stop moves the session to Disconnected from any state, releasing the feed
// subscription and any pending timers. Repeated enter/exit of the same chat
// view must not leak listeners, so Stop blocks until the loop has fully
// wound down.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Messages returns the rendered buffer snapshot in (CreatedAt, ID) order.
// Author identities come from the resolver cache at render time, so a
// fallback label is patched in place once a later resolution succeeds.
func (s *Session) Messages(ctx context.Context) []Rendered {
	s.mu.RLock()
	messages := s.timeline.Messages()
	s.mu.RUnlock()

	rendered := make([]Rendered, len(messages))
	for i, message := range messages {
		rendered[i] = Rendered{
			Message: message,
			Author:  s.resolver.Resolve(ctx, message.AuthorID),
		}
	}
	return rendered
}

// Send validates locally, then persists through the sender. There is no
// optimistic insert: the echo through the feed is the only path into the
// buffer. A failed send returns the error so the caller can keep the input
// content and retry; it is never silently dropped or blindly retried.
func (s *Session) Send(ctx context.Context, body string) error {
	cmd := chat.SendMessageCommand{
		ChannelID: string(s.opts.ChannelID),
		AuthorID:  s.opts.UserID,
		Body:      body,
	}
	if err := chat.ValidateSend(cmd, s.opts.MaxContentLength); err != nil {
		return err
	}

	switch s.State() {
	case Synced:
	case Disconnected:
		return herderrors.ErrSessionClosed
	default:
		// Connecting or Degraded: there is no live view to reconcile the
		// echo against yet, so the send is refused rather than queued.
		return herderrors.ErrFeedDown
	}

	if _, err := s.sender.Send(ctx, cmd); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// run is the session's single logical thread: connect, pump events until the
// transport degrades, reconnect with a fresh cycle. No buffer state survives
// a disconnect; reconnect always reseeds from the store.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(Disconnected)

	for {
		sub, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("Connect failed, retrying",
				"channel", s.opts.ChannelID, "error", err)
			s.setState(Degraded)
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.setState(Synced)
		degraded := s.pump(ctx, sub)
		sub.Close()
		if !degraded {
			return
		}

		s.setState(Degraded)
		s.log.Warn("Live feed lost, reconnecting", "channel", s.opts.ChannelID)
		if !s.sleep(ctx) {
			return
		}
	}
}

// connect runs the Connecting sequence: ensure the channel, open the live
// subscription, then fetch history. Subscribing before the fetch means any
// event racing the fetch waits in the subscription buffer; the timeline's
// dedup merges the overlap once history is seeded, so nothing is dropped or
// duplicated.
func (s *Session) connect(ctx context.Context) (feed.Subscription, error) {
	s.setState(Connecting)

	if _, err := s.registry.EnsureChannel(ctx, s.opts.ChannelID, s.opts.ChannelName); err != nil {
		return nil, fmt.Errorf("ensure channel: %w", err)
	}

	sub, err := s.feed.Subscribe(s.opts.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	history, err := s.store.History(s.opts.ChannelID, s.opts.HistoryLimit)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	if ctx.Err() != nil {
		// The view was left while the fetch was in flight; discard it.
		sub.Close()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.timeline = NewTimeline()
	s.timeline.Seed(history)
	s.mu.Unlock()
	return sub, nil
}

// pump applies feed events until the transport signals loss or the context
// ends. It reports whether the session should reconnect.
func (s *Session) pump(ctx context.Context, sub feed.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.Events():
			if !ok {
				return true
			}
			s.apply(ctx, e)
		case status, ok := <-sub.Status():
			if !ok || status == feed.StatusDown {
				return true
			}
		}
	}
}

func (s *Session) apply(ctx context.Context, e event.ChangeEvent) {
	// Resolve before taking the lock; resolution must never block or reorder
	// insertion, and the resolver guarantees an immediate (possibly fallback)
	// answer.
	s.resolver.Resolve(ctx, e.Message.AuthorID)

	s.mu.Lock()
	changed := s.timeline.Apply(e)
	s.mu.Unlock()
	if !changed {
		s.log.Debug("Change event was a no-op",
			"kind", e.Kind, "id", e.Message.ID, "channel", e.Channel())
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// sleep waits one reconnect interval, reporting false if the context ended.
func (s *Session) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.ReconnectWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
