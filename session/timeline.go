// Package session implements the per-client chat session: a state machine
// owning one channel subscription and an ordered, deduplicated local buffer.
package session

import (
	"sort"

	"herdchat/domain"
	"herdchat/domain/event"

	"github.com/google/uuid"
)

// Timeline is the local ordered message buffer. Entries are kept in the
// per-channel total order (CreatedAt, ID) no matter the order events arrive
// in, and an id can never appear twice.
//
// Timeline is not safe for concurrent use; the owning session serializes
// access.
type Timeline struct {
	entries []domain.Message
	seen    map[uuid.UUID]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[uuid.UUID]struct{})}
}

// Apply dispatches one change event. It reports whether the buffer changed.
func (t *Timeline) Apply(e event.ChangeEvent) bool {
	switch e.Kind {
	case event.Created:
		return t.insert(e.Message)
	case event.Updated:
		return t.replace(e.Message)
	case event.Deleted:
		return t.remove(e.Message.ID)
	default:
		return false
	}
}

// Seed replaces the buffer with a historical fetch. The fetch arrives
// newest-first from the store and is reordered here.
func (t *Timeline) Seed(history []domain.Message) {
	t.entries = t.entries[:0]
	t.seen = make(map[uuid.UUID]struct{})
	for _, message := range history {
		t.insert(message)
	}
}

// insert places the message at its sorted position. Duplicate delivery of
// the same id is a no-op, which makes reconnect-replay idempotent.
func (t *Timeline) insert(message domain.Message) bool {
	if _, dup := t.seen[message.ID]; dup {
		return false
	}
	pos := sort.Search(len(t.entries), func(i int) bool {
		return message.Before(t.entries[i])
	})
	t.entries = append(t.entries, domain.Message{})
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = message
	t.seen[message.ID] = struct{}{}
	return true
}

// replace swaps the entry matching the id in place. An unknown id is a
// benign race (an update for a message outside the fetched window), not an
// error. An edit never moves an entry: its (CreatedAt, ID) key is immutable.
func (t *Timeline) replace(message domain.Message) bool {
	for i := range t.entries {
		if t.entries[i].ID == message.ID {
			t.entries[i] = message
			return true
		}
	}
	return false
}

// remove drops the entry matching the id. Unknown ids are a no-op. The id
// stays in the seen set so a replayed creation event cannot resurrect a
// deleted message within the same connect cycle.
func (t *Timeline) remove(id uuid.UUID) bool {
	for i := range t.entries {
		if t.entries[i].ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a copy of the ordered buffer.
func (t *Timeline) Messages() []domain.Message {
	out := make([]domain.Message, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) Len() int {
	return len(t.entries)
}
