//go:generate go run go.uber.org/mock/mockgen -source=resolver.go -destination=../mocks/mock_resolver.go -package=mocks
// Package presence resolves message authors to display identities.
// Resolution failures degrade display quality, never delivery or ordering:
// the resolver always answers, falling back to the Anonymous identity.
package presence

import (
	"context"
	"log/slog"
	"sync"

	"herdchat/domain"
)

type IResolver interface {
	Resolve(ctx context.Context, authorID string) domain.DisplayIdentity
}

// ProfileLookup is the identity collaborator. The bool reports whether a
// profile exists; absence is a normal case, not an error.
type ProfileLookup interface {
	Get(userID string) (domain.Profile, bool, error)
}

// Resolver caches resolved identities for its lifetime, so every message
// from the same author within a session reuses one lookup. A failed lookup
// caches the fallback and is not retried synchronously; Warm can patch the
// cache later from another code path.
type Resolver struct {
	mu      sync.RWMutex
	lookup  ProfileLookup
	log     *slog.Logger
	cache   map[string]domain.DisplayIdentity
	unknown map[string]struct{}
}

func NewResolver(lookup ProfileLookup, log *slog.Logger) *Resolver {
	return &Resolver{
		lookup:  lookup,
		log:     log,
		cache:   make(map[string]domain.DisplayIdentity),
		unknown: make(map[string]struct{}),
	}
}

// Resolve never fails: on lookup error or missing profile it answers with
// the Anonymous fallback so the triggering message can always render.
func (r *Resolver) Resolve(_ context.Context, authorID string) domain.DisplayIdentity {
	r.mu.RLock()
	identity, hit := r.cache[authorID]
	r.mu.RUnlock()
	if hit {
		return identity
	}

	profile, found, err := r.lookup.Get(authorID)
	if err != nil {
		r.log.Warn("Identity lookup failed, using fallback", "author", authorID, "error", err)
		r.remember(authorID, domain.AnonymousIdentity(authorID), false)
		return domain.AnonymousIdentity(authorID)
	}
	if !found {
		r.remember(authorID, domain.AnonymousIdentity(authorID), false)
		return domain.AnonymousIdentity(authorID)
	}

	identity = domain.DisplayIdentity{
		AuthorID:  authorID,
		Name:      profile.DisplayName(),
		AvatarURL: profile.AvatarURL,
	}
	r.remember(authorID, identity, true)
	return identity
}

// Warm installs an identity resolved elsewhere, replacing a cached fallback.
// Best-effort: previously rendered rows pick it up on their next render pass.
func (r *Resolver) Warm(profile domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[profile.ID] = domain.DisplayIdentity{
		AuthorID:  profile.ID,
		Name:      profile.DisplayName(),
		AvatarURL: profile.AvatarURL,
	}
	delete(r.unknown, profile.ID)
}

// Unresolved reports whether authorID is cached as a fallback, meaning a
// later Warm could still improve its display.
func (r *Resolver) Unresolved(authorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.unknown[authorID]
	return ok
}

func (r *Resolver) remember(authorID string, identity domain.DisplayIdentity, resolved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[authorID] = identity
	if !resolved {
		r.unknown[authorID] = struct{}{}
	}
}
