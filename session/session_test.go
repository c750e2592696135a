package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"herdchat/domain"
	"herdchat/domain/chat"
	"herdchat/domain/event"
	herderrors "herdchat/errors"
	"herdchat/feed"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the message repository.
type memStore struct {
	mu          sync.Mutex
	messages    []domain.Message
	insertCalls int
}

func (s *memStore) Insert(channelID domain.ChannelID, authorID, body string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	m := domain.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *memStore) markDeleted(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Deleted = true
		}
	}
}

func (s *memStore) History(channelID domain.ChannelID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ChannelID == channelID && !m.Deleted {
			out = append(out, m)
		}
	}
	// Newest-first, like the store's reverse prefix scan.
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// stubFeed is a controllable in-process feed: Down broadcasts a transport
// loss to every open subscription.
type stubFeed struct {
	mu   sync.Mutex
	subs map[domain.ChannelID][]*stubSub
}

func newStubFeed() *stubFeed {
	return &stubFeed{subs: make(map[domain.ChannelID][]*stubSub)}
}

type stubSub struct {
	mu     sync.Mutex
	events chan event.ChangeEvent
	status chan feed.Status
	closed bool
}

func (s *stubSub) Events() <-chan event.ChangeEvent { return s.events }
func (s *stubSub) Status() <-chan feed.Status       { return s.status }

func (s *stubSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
	close(s.status)
}

func (s *stubSub) deliver(e event.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
	}
}

func (s *stubSub) down() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.status <- feed.StatusDown:
	default:
	}
}

func (f *stubFeed) Subscribe(channelID domain.ChannelID) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &stubSub{
		events: make(chan event.ChangeEvent, 32),
		status: make(chan feed.Status, 2),
	}
	f.subs[channelID] = append(f.subs[channelID], sub)
	return sub, nil
}

func (f *stubFeed) Publish(_ context.Context, e event.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs[e.Channel()] {
		sub.deliver(e)
	}
	return nil
}

func (f *stubFeed) Down() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, subs := range f.subs {
		for _, sub := range subs {
			sub.down()
		}
	}
	f.subs = make(map[domain.ChannelID][]*stubSub)
}

func (f *stubFeed) Close() error { return nil }

// echoSender persists to the store and publishes the authoritative echo,
// the way the chat service does.
type echoSender struct {
	store   *memStore
	feed    feed.Feed
	failing bool
}

func (e *echoSender) Send(ctx context.Context, cmd chat.SendMessageCommand) (domain.Message, error) {
	if e.failing {
		return domain.Message{}, fmt.Errorf("store backend unavailable")
	}
	m, err := e.store.Insert(domain.ChannelID(cmd.ChannelID), cmd.AuthorID, cmd.Body)
	if err != nil {
		return domain.Message{}, err
	}
	_ = e.feed.Publish(ctx, event.ChangeEvent{Kind: event.Created, Message: m})
	return m, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	names map[string]string
}

func (r *fakeResolver) Resolve(_ context.Context, authorID string) domain.DisplayIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.names[authorID]; ok {
		return domain.DisplayIdentity{AuthorID: authorID, Name: name}
	}
	return domain.AnonymousIdentity(authorID)
}

type fakeRegistry struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (r *fakeRegistry) EnsureChannel(_ context.Context, id domain.ChannelID, name string) (domain.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return domain.Channel{}, herderrors.ErrChannelCreate
	}
	return domain.Channel{ID: id, Name: name}, nil
}

type fixture struct {
	store    *memStore
	feed     *stubFeed
	sender   *echoSender
	resolver *fakeResolver
	registry *fakeRegistry
	session  *Session
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	store := &memStore{}
	f := newStubFeed()
	sender := &echoSender{store: store, feed: f}
	resolver := &fakeResolver{names: map[string]string{}}
	registry := &fakeRegistry{}

	s := New(slog.Default(), Options{
		UserID:        userID,
		ChannelID:     "event-42",
		ChannelName:   "Spring Fair",
		HistoryLimit:  30,
		ReconnectWait: 20 * time.Millisecond,
	}, registry, store, sender, f, resolver)

	return &fixture{store: store, feed: f, sender: sender, resolver: resolver, registry: registry, session: s}
}

func (fx *fixture) startSynced(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.session.Start(context.Background()))
	t.Cleanup(fx.session.Stop)
	require.Eventually(t, func() bool { return fx.session.State() == Synced },
		2*time.Second, 5*time.Millisecond)
}

func (fx *fixture) bufferBodies(t *testing.T) []string {
	t.Helper()
	rendered := fx.session.Messages(context.Background())
	out := make([]string, len(rendered))
	for i, r := range rendered {
		out[i] = r.Message.Body
	}
	return out
}

// persistAndEcho simulates another client's send landing in the store and
// echoing through the feed.
func (fx *fixture) persistAndEcho(t *testing.T, author, body string) domain.Message {
	t.Helper()
	m, err := fx.store.Insert("event-42", author, body)
	require.NoError(t, err)
	require.NoError(t, fx.feed.Publish(context.Background(), event.ChangeEvent{Kind: event.Created, Message: m}))
	return m
}

func Test_Start_Refuses_Without_Identity(t *testing.T) {
	fx := newFixture(t, "")
	err := fx.session.Start(context.Background())
	require.ErrorIs(t, err, herderrors.ErrAuthRequired)
	require.Equal(t, Disconnected, fx.session.State())
	require.Zero(t, fx.registry.calls)
}

func Test_Send_Echoes_Through_The_Feed(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)

	req.NoError(fx.session.Send(context.Background(), "hi everyone"))

	req.Eventually(func() bool {
		bodies := fx.bufferBodies(t)
		return len(bodies) == 1 && bodies[0] == "hi everyone"
	}, 2*time.Second, 5*time.Millisecond)

	// The buffer entry is the persisted record, not a local copy.
	fx.store.mu.Lock()
	persistedID := fx.store.messages[0].ID
	fx.store.mu.Unlock()
	rendered := fx.session.Messages(context.Background())
	req.Equal(persistedID, rendered[0].Message.ID)
}

func Test_Send_Empty_Body_Makes_No_Store_Call(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)

	err := fx.session.Send(context.Background(), "   ")
	req.ErrorIs(err, herderrors.ErrEmptyBody)
	req.Zero(fx.store.insertCalls)
	req.Empty(fx.bufferBodies(t))
}

func Test_Failed_Send_Leaves_No_Ghost_Message(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)
	fx.sender.failing = true

	err := fx.session.Send(context.Background(), "will not make it")
	req.Error(err)

	// No optimistic entry survives the failure.
	time.Sleep(50 * time.Millisecond)
	req.Empty(fx.bufferBodies(t))
	req.Zero(fx.store.insertCalls)
}

func Test_Send_While_Degraded_Is_Rejected_Not_Lost(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)

	fx.registry.mu.Lock()
	fx.registry.fail = true
	fx.registry.mu.Unlock()
	fx.feed.Down()
	req.Eventually(func() bool { return fx.session.State() == Degraded },
		2*time.Second, 5*time.Millisecond)

	err := fx.session.Send(context.Background(), "anyone there?")
	req.ErrorIs(err, herderrors.ErrFeedDown)
	req.Zero(fx.store.insertCalls)
}

func Test_Reconnect_Reseeds_From_The_Store(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)

	a := fx.persistAndEcho(t, "u2", "A")
	fx.persistAndEcho(t, "u2", "B")
	req.Eventually(func() bool { return len(fx.bufferBodies(t)) == 2 },
		2*time.Second, 5*time.Millisecond)

	// Hold the session in Degraded while the offline mutations happen.
	fx.registry.mu.Lock()
	fx.registry.fail = true
	fx.registry.mu.Unlock()
	fx.feed.Down()
	req.Eventually(func() bool { return fx.session.State() == Degraded },
		2*time.Second, 5*time.Millisecond)

	// While disconnected: C is created and A is deleted.
	_, err := fx.store.Insert("event-42", "u2", "C")
	req.NoError(err)
	fx.store.markDeleted(a.ID)

	fx.registry.mu.Lock()
	fx.registry.fail = false
	fx.registry.mu.Unlock()

	req.Eventually(func() bool { return fx.session.State() == Synced },
		2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"B", "C"}, fx.bufferBodies(t))
}

func Test_Duplicate_Echo_Yields_One_Entry(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)

	m := fx.persistAndEcho(t, "u2", "only once")
	req.NoError(fx.feed.Publish(context.Background(), event.ChangeEvent{Kind: event.Created, Message: m}))

	req.Eventually(func() bool { return len(fx.bufferBodies(t)) == 1 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	req.Equal([]string{"only once"}, fx.bufferBodies(t))
}

func Test_Anonymous_Fallback_Then_Patched_Label(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)

	fx.persistAndEcho(t, "u9", "who am I")
	req.Eventually(func() bool { return len(fx.bufferBodies(t)) == 1 },
		2*time.Second, 5*time.Millisecond)

	rendered := fx.session.Messages(context.Background())
	req.Equal(domain.AnonymousName, rendered[0].Author.Name)
	orderBefore := rendered[0].Message.ID

	// A later successful resolution patches the label without touching order.
	fx.resolver.mu.Lock()
	fx.resolver.names["u9"] = "nina"
	fx.resolver.mu.Unlock()

	rendered = fx.session.Messages(context.Background())
	req.Equal("nina", rendered[0].Author.Name)
	req.Equal(orderBefore, rendered[0].Message.ID)
}

func Test_Two_Sessions_Converge_On_One_Order(t *testing.T) {
	req := require.New(t)
	store := &memStore{}
	f := newStubFeed()
	sender := &echoSender{store: store, feed: f}
	resolver := &fakeResolver{names: map[string]string{}}
	registry := &fakeRegistry{}

	open := func(userID string) *Session {
		s := New(slog.Default(), Options{
			UserID:        userID,
			ChannelID:     "event-42",
			ChannelName:   "Spring Fair",
			ReconnectWait: 20 * time.Millisecond,
		}, registry, store, sender, f, resolver)
		req.NoError(s.Start(context.Background()))
		t.Cleanup(s.Stop)
		req.Eventually(func() bool { return s.State() == Synced },
			2*time.Second, 5*time.Millisecond)
		return s
	}

	alice := open("u1")
	bob := open("u2")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); req.NoError(alice.Send(context.Background(), "hi")) }()
	go func() { defer wg.Done(); req.NoError(bob.Send(context.Background(), "hello")) }()
	wg.Wait()

	ids := func(s *Session) []uuid.UUID {
		rendered := s.Messages(context.Background())
		out := make([]uuid.UUID, len(rendered))
		for i, r := range rendered {
			out[i] = r.Message.ID
		}
		return out
	}

	req.Eventually(func() bool {
		return len(ids(alice)) == 2 && len(ids(bob)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	req.Equal(ids(alice), ids(bob))
}

func Test_Stop_Releases_The_Subscription(t *testing.T) {
	req := require.New(t)
	fx := newFixture(t, "u1")
	fx.startSynced(t)

	fx.session.Stop()
	req.Equal(Disconnected, fx.session.State())

	// Events published after Stop must not reach a released session.
	fx.persistAndEcho(t, "u2", "into the void")
	time.Sleep(50 * time.Millisecond)
	req.Empty(fx.bufferBodies(t))
}
