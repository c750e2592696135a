// Package event defines the tagged change events delivered by the feed.
// Both feed adapters emit the same shape; consumers dispatch on Kind only.
package event

import (
	"herdchat/domain"
)

type Kind string

const (
	Created Kind = "message.created"
	Updated Kind = "message.updated"
	Deleted Kind = "message.deleted"
)

// ChangeEvent is the single event surface for message lifecycle changes.
type ChangeEvent struct {
	Kind    Kind           `json:"kind"`
	Message domain.Message `json:"message"`
}

func (e ChangeEvent) Channel() domain.ChannelID {
	return e.Message.ChannelID
}
