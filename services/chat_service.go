//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"

	"herdchat/auth"
	"herdchat/domain"
	"herdchat/domain/chat"
	"herdchat/domain/event"
	herderrors "herdchat/errors"
	"herdchat/feed"
	"herdchat/moderation"
	"herdchat/presence"
	"herdchat/repositories"
	"herdchat/runtime"
	"herdchat/session"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
)

type IChatService interface {
	EnsureChannel(ctx context.Context, id domain.ChannelID, name string) (domain.Channel, error)
	Send(ctx context.Context, cmd chat.SendMessageCommand) (domain.Message, error)
	Edit(ctx context.Context, cmd chat.EditMessageCommand) (domain.Message, error)
	Delete(ctx context.Context, cmd chat.DeleteMessageCommand) (domain.Message, error)
	History(ctx context.Context, query chat.HistoryQuery) ([]domain.Message, error)
	OpenSession(ctx context.Context, identity auth.Identity, channelID domain.ChannelID, channelName string) (*session.Session, error)
}

// ChatService is the write path shared by every session and the RPC surface.
// It owns the persist-then-echo contract: a mutation is first committed to the
// store, then the stored record is published verbatim on the feed. Clients
// never see a message the store has not accepted.
type ChatService struct {
	log       *slog.Logger
	registry  *runtime.ChannelRegistry
	messages  repositories.IMessageRepository
	profiles  repositories.IProfileRepository
	feed      feed.Feed
	moderator *moderation.Moderator

	maxContentLength int
	historyLimit     int
	sessionOpts      session.Options
}

// Params groups the ChatService collaborators and tunables.
type Params struct {
	Log              *slog.Logger
	Registry         *runtime.ChannelRegistry
	Messages         repositories.IMessageRepository
	Profiles         repositories.IProfileRepository
	Feed             feed.Feed
	Moderator        *moderation.Moderator
	MaxContentLength int
	HistoryLimit     int
	SessionOptions   session.Options
}

func NewChatService(p Params) *ChatService {
	return &ChatService{
		log:              p.Log,
		registry:         p.Registry,
		messages:         p.Messages,
		profiles:         p.Profiles,
		feed:             p.Feed,
		moderator:        p.Moderator,
		maxContentLength: p.MaxContentLength,
		historyLimit:     p.HistoryLimit,
		sessionOpts:      p.SessionOptions,
	}
}

// EnsureChannel delegates to the registry; exposed here so the RPC surface
// and sessions share one idempotent creation path.
func (s *ChatService) EnsureChannel(ctx context.Context, id domain.ChannelID, name string) (domain.Channel, error) {
	return s.registry.EnsureChannel(ctx, id, name)
}

// Send validates, censors, persists and echoes a new message. The returned
// Message carries the store-assigned id and timestamp; it is exactly what
// subscribers receive through the feed.
func (s *ChatService) Send(ctx context.Context, cmd chat.SendMessageCommand) (domain.Message, error) {
	if err := chat.ValidateSend(cmd, s.maxContentLength); err != nil {
		return domain.Message{}, err
	}
	if _, err := s.registry.EnsureChannel(ctx, cmd.Channel(), ""); err != nil {
		return domain.Message{}, err
	}

	body := s.censor(cmd.Body, cmd.AuthorID)

	message, err := s.messages.Insert(cmd.Channel(), cmd.AuthorID, body)
	if err != nil {
		return domain.Message{}, fmt.Errorf("persist message: %w", err)
	}

	s.echo(ctx, event.ChangeEvent{Kind: event.Created, Message: message})
	return message, nil
}

// Edit rewrites a message body in place. Only the original author may edit,
// and tombstoned messages are refused by the repository.
func (s *ChatService) Edit(ctx context.Context, cmd chat.EditMessageCommand) (domain.Message, error) {
	if err := chat.ValidateEdit(cmd, s.maxContentLength); err != nil {
		return domain.Message{}, err
	}
	if err := s.requireAuthor(cmd.MessageID, cmd.AuthorID); err != nil {
		return domain.Message{}, err
	}

	message, err := s.messages.Edit(cmd.MessageID, s.censor(cmd.Body, cmd.AuthorID))
	if err != nil {
		return domain.Message{}, err
	}

	s.echo(ctx, event.ChangeEvent{Kind: event.Updated, Message: message})
	return message, nil
}

// Delete tombstones a message. The echoed event carries the tombstone so live
// buffers remove the entry; history fetches skip it server-side.
func (s *ChatService) Delete(ctx context.Context, cmd chat.DeleteMessageCommand) (domain.Message, error) {
	if err := s.requireAuthor(cmd.MessageID, cmd.AuthorID); err != nil {
		return domain.Message{}, err
	}

	message, err := s.messages.Delete(cmd.MessageID)
	if err != nil {
		return domain.Message{}, err
	}

	s.echo(ctx, event.ChangeEvent{Kind: event.Deleted, Message: message})
	return message, nil
}

// History returns the newest messages for a channel, newest-first.
func (s *ChatService) History(ctx context.Context, query chat.HistoryQuery) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = s.historyLimit
	}
	return s.messages.History(query.Channel(), limit)
}

// OpenSession builds and starts a per-client session wired to this service.
// The session sends through the service, so every client shares the same
// moderation and persist-then-echo path.
func (s *ChatService) OpenSession(ctx context.Context, identity auth.Identity, channelID domain.ChannelID, channelName string) (*session.Session, error) {
	opts := s.sessionOpts
	opts.UserID = identity.UserID
	opts.ChannelID = channelID
	opts.ChannelName = channelName
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = s.historyLimit
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = s.maxContentLength
	}

	resolver := presence.NewResolver(s.profiles, s.log)
	sess := session.New(s.log, opts, s.registry, s.messages, s, s.feed, resolver)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// echo publishes the stored record on the feed. A publish failure is logged
// rather than returned: the store already accepted the mutation, and any
// subscriber that missed the event repairs itself by reseeding history on its
// next reconnect.
func (s *ChatService) echo(ctx context.Context, e event.ChangeEvent) {
	if err := s.feed.Publish(ctx, e); err != nil {
		s.log.Error("Echo publish failed",
			"kind", e.Kind, "id", e.Message.ID, "channel", e.Channel(), "error", err)
	}
}

// requireAuthor loads the target row and checks ownership before any mutation.
func (s *ChatService) requireAuthor(id uuid.UUID, authorID string) error {
	message, err := s.messages.Get(id)
	if err != nil {
		return err
	}
	if message.AuthorID != authorID {
		return herderrors.ErrNotAuthor
	}
	return nil
}

// censor sanitizes a body through the word list when a moderator is
// configured. Detection is logged, not enforced; a flagged message still goes
// through with the matched words masked.
func (s *ChatService) censor(body, authorID string) string {
	if s.moderator == nil {
		return body
	}
	sanitized, found := s.moderator.Censor(body)
	if len(found) > 0 {
		info := whatlanggo.Detect(body)
		s.log.Warn("Message censored",
			"author", authorID,
			"words", len(found),
			"lang", info.Lang.Iso6391())
	}
	return sanitized
}
