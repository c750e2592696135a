package natsfeed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"herdchat/domain"
	"herdchat/domain/event"
	herderrors "herdchat/errors"
	"herdchat/feed"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"
)

// startTestNATS starts an embedded NATS server and returns it with its client URL.
func startTestNATS(t *testing.T) (*natsserver.Server, string) {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	require.True(t, srv.ReadyForConnections(5*time.Second), "embedded NATS not ready")
	return srv, srv.ClientURL()
}

func created(channelID domain.ChannelID, body string) event.ChangeEvent {
	return event.ChangeEvent{
		Kind: event.Created,
		Message: domain.Message{
			ID:        uuid.New(),
			ChannelID: channelID,
			AuthorID:  "u1",
			Body:      body,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func Test_Feed_Roundtrip(t *testing.T) {
	req := require.New(t)
	_, url := startTestNATS(t)

	f, err := New(url, slog.Default(), 8)
	req.NoError(err)
	defer f.Close()

	sub, err := f.Subscribe("event-42")
	req.NoError(err)
	defer sub.Close()

	want := created("event-42", "hello")
	req.NoError(f.Publish(context.Background(), want))

	select {
	case got := <-sub.Events():
		req.Equal(want.Kind, got.Kind)
		req.Equal(want.Message.ID, got.Message.ID)
		req.Equal("hello", got.Message.Body)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func Test_Feed_Channel_Isolation(t *testing.T) {
	req := require.New(t)
	_, url := startTestNATS(t)

	f, err := New(url, slog.Default(), 8)
	req.NoError(err)
	defer f.Close()

	sub, err := f.Subscribe("event-42")
	req.NoError(err)
	defer sub.Close()

	req.NoError(f.Publish(context.Background(), created("event-43", "elsewhere")))
	req.NoError(f.Publish(context.Background(), created("event-42", "here")))

	select {
	case got := <-sub.Events():
		req.Equal("here", got.Message.Body)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func Test_Feed_Rejects_Unsafe_Channel_Id(t *testing.T) {
	req := require.New(t)
	_, url := startTestNATS(t)

	f, err := New(url, slog.Default(), 8)
	req.NoError(err)
	defer f.Close()

	// These ids would otherwise become subject tokens or wildcards.
	for _, id := range []domain.ChannelID{"", "event.7", "event 7", "*", ">", "event:7"} {
		_, err := f.Subscribe(id)
		req.ErrorIs(err, herderrors.ErrInvalidChannel, "id %q", id)

		err = f.Publish(context.Background(), created(id, "hello"))
		req.ErrorIs(err, herderrors.ErrInvalidChannel, "id %q", id)
	}
}

func Test_Feed_Overflow_Signals_Down(t *testing.T) {
	req := require.New(t)
	_, url := startTestNATS(t)

	f, err := New(url, slog.Default(), 1)
	req.NoError(err)
	defer f.Close()

	sub, err := f.Subscribe("event-42")
	req.NoError(err)
	defer sub.Close()

	// Overflow the undrained buffer. The dropped event must surface as a
	// down status so the subscriber knows to reseed instead of trusting a
	// view with a silent gap.
	for i := 0; i < 4; i++ {
		req.NoError(f.Publish(context.Background(), created("event-42", "flood")))
	}

	select {
	case status := <-sub.Status():
		req.Equal(feed.StatusDown, status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for down status after overflow")
	}
}

func Test_Feed_Signals_Down_On_Server_Loss(t *testing.T) {
	req := require.New(t)
	srv, url := startTestNATS(t)

	f, err := New(url, slog.Default(), 8)
	req.NoError(err)
	defer f.Close()

	sub, err := f.Subscribe("event-42")
	req.NoError(err)
	defer sub.Close()

	srv.Shutdown()

	select {
	case status := <-sub.Status():
		req.Equal(feed.StatusDown, status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for down status")
	}
}

func Test_Subscription_Close_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	_, url := startTestNATS(t)

	f, err := New(url, slog.Default(), 8)
	req.NoError(err)
	defer f.Close()

	sub, err := f.Subscribe("event-42")
	req.NoError(err)

	sub.Close()
	sub.Close()

	_, open := <-sub.Events()
	req.False(open)
}
