package api

import (
	"context"
	"time"

	"herdchat/auth"
	"herdchat/domain"
	"herdchat/domain/chat"
	"herdchat/presence"
	"herdchat/services"

	"github.com/google/uuid"
)

// EnsureChannelReq resolves an event id to its chat channel, creating it on
// first access.
type EnsureChannelReq struct {
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	Name      string `json:"name,omitempty"`
}

type ChannelRes struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SendMessageReq struct {
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	Body      string `json:"body"`
}

type EditMessageReq struct {
	Token     string    `json:"token"`
	ChannelID string    `json:"channel_id"`
	MessageID uuid.UUID `json:"message_id"`
	Body      string    `json:"body"`
}

type DeleteMessageReq struct {
	Token     string    `json:"token"`
	ChannelID string    `json:"channel_id"`
	MessageID uuid.UUID `json:"message_id"`
}

type HistoryReq struct {
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	Limit     int    `json:"limit,omitempty"`
}

// MessageRes is a message decorated with its author's display identity.
type MessageRes struct {
	ID        uuid.UUID  `json:"id"`
	ChannelID string     `json:"channel_id"`
	AuthorID  string     `json:"author_id"`
	Author    string     `json:"author"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

type HistoryRes struct {
	Messages []MessageRes `json:"messages"`
}

// RPC is the dispatch target. Every request carries a token; the author of a
// mutation is always the token's identity, never a field a client chooses.
type RPC struct {
	tokens   auth.Tokens
	service  services.IChatService
	resolver presence.IResolver
}

func NewRPC(tokens auth.Tokens, service services.IChatService, resolver presence.IResolver) *RPC {
	return &RPC{tokens: tokens, service: service, resolver: resolver}
}

func (r *RPC) EnsureChannel(ctx context.Context, req *EnsureChannelReq) (*ChannelRes, error) {
	if _, err := r.tokens.Validate(req.Token); err != nil {
		return nil, err
	}
	channel, err := r.service.EnsureChannel(ctx, domain.ChannelID(req.ChannelID), req.Name)
	if err != nil {
		return nil, err
	}
	return &ChannelRes{ID: string(channel.ID), Name: channel.Name}, nil
}

func (r *RPC) SendMessage(ctx context.Context, req *SendMessageReq) (*MessageRes, error) {
	identity, err := r.tokens.Validate(req.Token)
	if err != nil {
		return nil, err
	}
	message, err := r.service.Send(ctx, chat.SendMessageCommand{
		ChannelID: req.ChannelID,
		AuthorID:  identity.UserID,
		Body:      req.Body,
	})
	if err != nil {
		return nil, err
	}
	return r.render(ctx, message), nil
}

func (r *RPC) EditMessage(ctx context.Context, req *EditMessageReq) (*MessageRes, error) {
	identity, err := r.tokens.Validate(req.Token)
	if err != nil {
		return nil, err
	}
	message, err := r.service.Edit(ctx, chat.EditMessageCommand{
		ChannelID: req.ChannelID,
		MessageID: req.MessageID,
		AuthorID:  identity.UserID,
		Body:      req.Body,
	})
	if err != nil {
		return nil, err
	}
	return r.render(ctx, message), nil
}

func (r *RPC) DeleteMessage(ctx context.Context, req *DeleteMessageReq) error {
	identity, err := r.tokens.Validate(req.Token)
	if err != nil {
		return err
	}
	_, err = r.service.Delete(ctx, chat.DeleteMessageCommand{
		ChannelID: req.ChannelID,
		MessageID: req.MessageID,
		AuthorID:  identity.UserID,
	})
	return err
}

// History returns the newest messages, oldest-first for direct display.
func (r *RPC) History(ctx context.Context, req *HistoryReq) (*HistoryRes, error) {
	if _, err := r.tokens.Validate(req.Token); err != nil {
		return nil, err
	}
	messages, err := r.service.History(ctx, chat.HistoryQuery{
		ChannelID: req.ChannelID,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, err
	}

	res := &HistoryRes{Messages: make([]MessageRes, len(messages))}
	for i, message := range messages {
		// The store hands rows back newest-first; reverse while rendering.
		res.Messages[len(messages)-1-i] = *r.render(ctx, message)
	}
	return res, nil
}

func (r *RPC) render(ctx context.Context, message domain.Message) *MessageRes {
	author := r.resolver.Resolve(ctx, message.AuthorID)
	return &MessageRes{
		ID:        message.ID,
		ChannelID: string(message.ChannelID),
		AuthorID:  message.AuthorID,
		Author:    author.Name,
		AvatarURL: author.AvatarURL,
		Body:      message.Body,
		CreatedAt: message.CreatedAt,
		EditedAt:  message.EditedAt,
	}
}
