// Package presence tracks who is online. Updates arrive on the shared
// broadcast topic and are last-write-wins; announcements of our own state
// go through the durable REST endpoint, best-effort.
package presence

import (
	"context"
	"log/slog"

	"github.com/c-pro/geche"

	"talanta/internal/models"
)

// StatusAPI is the slice of the REST client presence needs.
type StatusAPI interface {
	UpdateUserStatus(ctx context.Context, userID int64, status models.Status) error
	GetUserStatus(ctx context.Context, userID int64) (models.PresenceStatus, error)
}

type Store struct {
	api    StatusAPI
	userID int64
	cache  geche.Geche[int64, models.Status]
}

func NewStore(api StatusAPI, userID int64) *Store {
	return &Store{
		api:    api,
		userID: userID,
		cache:  geche.NewMapCache[int64, models.Status](),
	}
}

// Update applies a broadcast presence change. Unknown users are stored too:
// the marketplace UI may open their conversation later.
func (s *Store) Update(ps models.PresenceStatus) {
	s.cache.Set(ps.UserID, ps.Status)
}

// Get returns the last known status for a user, defaulting to OFFLINE when
// no broadcast or lookup has been seen.
func (s *Store) Get(userID int64) models.Status {
	status, err := s.cache.Get(userID)
	if err != nil {
		return models.StatusOffline
	}
	return status
}

func (s *Store) IsOnline(userID int64) bool {
	return s.Get(userID) == models.StatusOnline
}

// Announce publishes our own state to the durable store. Failures are
// logged, never surfaced: presence is advisory, and the OFFLINE announce on
// teardown runs when the network may already be gone.
func (s *Store) Announce(ctx context.Context, status models.Status) {
	if err := s.api.UpdateUserStatus(ctx, s.userID, status); err != nil {
		slog.Warn("presence announce failed", "userId", s.userID, "status", status, "error", err)
		return
	}
	s.cache.Set(s.userID, status)
}

// Lookup fetches a user's presence over REST and seeds the store, for the
// initial render before any broadcast arrives.
func (s *Store) Lookup(ctx context.Context, userID int64) (models.Status, error) {
	ps, err := s.api.GetUserStatus(ctx, userID)
	if err != nil {
		return models.StatusOffline, err
	}
	s.cache.Set(ps.UserID, ps.Status)
	return ps.Status, nil
}
