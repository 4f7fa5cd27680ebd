package recipients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ProfileStore is the slice of Store the service needs.
type ProfileStore interface {
	Get(ctx context.Context, id string) (*Recipient, error)
	Upsert(ctx context.Context, rec *Recipient) error
}

// ProfileFetcher pulls fresh profiles from the profile service.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, recipientID string) (*Profile, error)
}

// Service resolves recipients cache-first: a fresh cached profile is used
// as-is, a stale one is refreshed over the network, and a failed refresh
// falls back to the stale copy because eligibility checks prefer stale data
// over failing on a flaky network.
type Service struct {
	store   ProfileStore
	fetcher ProfileFetcher
	ttl     time.Duration
	logger  *slog.Logger
}

// NewService creates a recipient service. ttl bounds how old a cached
// profile may be before a refresh is attempted.
func NewService(store ProfileStore, fetcher ProfileFetcher, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Service{
		store:   store,
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
	}
}

// Lookup returns the recipient with a profile no older than the ttl when
// the network cooperates. Unknown recipients return ErrNotFound.
func (s *Service) Lookup(ctx context.Context, id string) (*Recipient, error) {
	cached, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load recipient: %w", err)
	}

	if time.Since(cached.ProfileFetchedAt) < s.ttl {
		return cached, nil
	}

	profile, err := s.fetcher.FetchProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The profile service no longer knows the recipient; the local
			// row stands until it is cleaned up.
			s.logger.Warn("Recipient profile gone upstream, using cached profile",
				slog.String("recipient_id", id),
			)
			return cached, nil
		}

		s.logger.Warn("Profile refresh failed, using cached profile",
			slog.String("recipient_id", id),
			slog.String("error", err.Error()),
		)
		return cached, nil
	}

	refreshed := *cached
	refreshed.DisplayName = profile.DisplayName
	refreshed.CanReceiveGifts = profile.CanReceiveGifts
	refreshed.IdentityKey = profile.IdentityKey
	refreshed.MessageTimerSeconds = profile.MessageTimerSeconds
	refreshed.ProfileFetchedAt = time.Now().UTC()

	if err := s.store.Upsert(ctx, &refreshed); err != nil {
		s.logger.Warn("Failed to cache refreshed profile",
			slog.String("recipient_id", id),
			slog.String("error", err.Error()),
		)
	}

	return &refreshed, nil
}
