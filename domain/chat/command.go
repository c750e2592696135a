// Package chat holds the commands accepted by the chat service.
package chat

import (
	"herdchat/domain"

	"github.com/google/uuid"
)

type Command interface {
	Channel() domain.ChannelID
}

type SendMessageCommand struct {
	ChannelID string `validate:"required"`
	AuthorID  string `validate:"required"`
	Body      string `validate:"required"`
}

func (c SendMessageCommand) Channel() domain.ChannelID {
	return domain.ChannelID(c.ChannelID)
}

type EditMessageCommand struct {
	ChannelID string    `validate:"required"`
	MessageID uuid.UUID `validate:"required"`
	AuthorID  string    `validate:"required"`
	Body      string    `validate:"required"`
}

func (c EditMessageCommand) Channel() domain.ChannelID {
	return domain.ChannelID(c.ChannelID)
}

type DeleteMessageCommand struct {
	ChannelID string    `validate:"required"`
	MessageID uuid.UUID `validate:"required"`
	AuthorID  string    `validate:"required"`
}

func (c DeleteMessageCommand) Channel() domain.ChannelID {
	return domain.ChannelID(c.ChannelID)
}

type HistoryQuery struct {
	ChannelID string `validate:"required"`
	Limit     int    `validate:"gte=0"`
}

func (c HistoryQuery) Channel() domain.ChannelID {
	return domain.ChannelID(c.ChannelID)
}
