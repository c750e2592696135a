// Package domain contains core concepts of the event chat system.
// This file defines Message records and their ordering rules.
// Messages are append-only: edits and deletes mutate flags, never remove rows.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChannelID identifies a per-event chat stream. It is the event identifier.
type ChannelID string

// Message is a single chat entry. ID and CreatedAt are assigned by the store
// and are authoritative for ordering and deduplication.
type Message struct {
	ID        uuid.UUID
	ChannelID ChannelID
	AuthorID  string
	Body      string
	CreatedAt time.Time
	EditedAt  *time.Time
	Deleted   bool
}

// Before reports whether m sorts before other in the per-channel total order:
// CreatedAt first, ID string as tiebreaker.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}

// ValidBody reports whether a body survives local validation:
// non-empty after trimming.
func ValidBody(body string) bool {
	return strings.TrimSpace(body) != ""
}
