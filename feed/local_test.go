package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"herdchat/domain"
	"herdchat/domain/event"
	herderrors "herdchat/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func createdEvent(channelID domain.ChannelID, body string) event.ChangeEvent {
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

func Test_LocalFeed_Delivers_To_Channel_Subscribers_Only(t *testing.T) {
	req := require.New(t)
	f := NewLocalFeed(slog.Default(), 8)
	defer f.Close()

	subA, err := f.Subscribe("event-42")
	req.NoError(err)
	defer subA.Close()
	subB, err := f.Subscribe("event-43")
	req.NoError(err)
	defer subB.Close()

	req.NoError(f.Publish(context.Background(), createdEvent("event-42", "hi")))

	select {
	case e := <-subA.Events():
		req.Equal(event.Created, e.Kind)
		req.Equal("hi", e.Message.Body)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e := <-subB.Events():
		t.Fatalf("event leaked across channels: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func Test_LocalFeed_Subscribe_Rejects_Unsafe_Id(t *testing.T) {
	req := require.New(t)
	f := NewLocalFeed(slog.Default(), 8)
	defer f.Close()

	for _, id := range []domain.ChannelID{"", "event:7", "event.7", "event 7", "*", ">"} {
		_, err := f.Subscribe(id)
		req.ErrorIs(err, herderrors.ErrInvalidChannel, "id %q", id)
	}
}

func Test_LocalFeed_Overflow_Signals_Down(t *testing.T) {
	req := require.New(t)
	f := NewLocalFeed(slog.Default(), 1)
	defer f.Close()

	sub, err := f.Subscribe("event-42")
	req.NoError(err)
	defer sub.Close()

	// Fill the buffer, then overflow it without draining. The lost event must
	// not be silent: the subscriber is told its view has a gap.
	req.NoError(f.Publish(context.Background(), createdEvent("event-42", "kept")))
	req.NoError(f.Publish(context.Background(), createdEvent("event-42", "dropped")))

	select {
	case status := <-sub.Status():
		req.Equal(StatusDown, status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for down status after overflow")
	}
}

func Test_LocalFeed_Close_Signals_Down(t *testing.T) {
	req := require.New(t)
	f := NewLocalFeed(slog.Default(), 8)

	sub, err := f.Subscribe("event-42")
	req.NoError(err)
	defer sub.Close()

	req.NoError(f.Close())

	select {
	case status := <-sub.Status():
		req.Equal(StatusDown, status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status")
	}

	req.Error(f.Publish(context.Background(), createdEvent("event-42", "late")))
}

func Test_LocalFeed_Subscription_Close_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	f := NewLocalFeed(slog.Default(), 8)
	defer f.Close()

	sub, err := f.Subscribe("event-42")
	req.NoError(err)

	sub.Close()
	sub.Close()

	// A publish after close must not panic or deliver.
	req.NoError(f.Publish(context.Background(), createdEvent("event-42", "after")))
	_, open := <-sub.Events()
	req.False(open)
}
