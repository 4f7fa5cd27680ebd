// Package recipients tracks who gifts can go to: the local recipient table
// with block state, and profile data refreshed from the profile service.
package recipients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a recipient id is unknown locally.
var ErrNotFound = errors.New("recipient not found")

// Recipient is a locally known contact enriched with cached profile data.
type Recipient struct {
	ID                  string    `db:"id" json:"id"`
	DisplayName         string    `db:"display_name" json:"display_name"`
	Blocked             bool      `db:"blocked" json:"blocked"`
	CanReceiveGifts     bool      `db:"can_receive_gifts" json:"can_receive_gifts"`
	IdentityKey         string    `db:"identity_key" json:"identity_key"`
	MessageTimerSeconds int64     `db:"message_timer_seconds" json:"message_timer_seconds"`
	ProfileFetchedAt    time.Time `db:"profile_fetched_at" json:"profile_fetched_at"`
}

// Store reads and writes the recipients table.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a recipient store.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Get returns the recipient by id.
func (s *Store) Get(ctx context.Context, id string) (*Recipient, error) {
	query := `
		SELECT id, display_name, blocked, can_receive_gifts, identity_key,
		       message_timer_seconds, profile_fetched_at
		FROM recipients
		WHERE id = $1
	`

	var rec Recipient
	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recipient %s: %w", id, err)
	}

	return &rec, nil
}

// Upsert inserts the recipient or refreshes its profile fields.
func (s *Store) Upsert(ctx context.Context, rec *Recipient) error {
	query := `
		INSERT INTO recipients (
			id, display_name, blocked, can_receive_gifts, identity_key,
			message_timer_seconds, profile_fetched_at
		) VALUES (
			:id, :display_name, :blocked, :can_receive_gifts, :identity_key,
			:message_timer_seconds, :profile_fetched_at
		)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			can_receive_gifts = EXCLUDED.can_receive_gifts,
			identity_key = EXCLUDED.identity_key,
			message_timer_seconds = EXCLUDED.message_timer_seconds,
			profile_fetched_at = EXCLUDED.profile_fetched_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to upsert recipient %s: %w", rec.ID, err)
	}
	return nil
}

// SetBlocked flips the local block state. Blocking is local-only and never
// touched by profile refreshes.
func (s *Store) SetBlocked(ctx context.Context, id string, blocked bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET blocked = $2 WHERE id = $1`, id, blocked)
	if err != nil {
		return fmt.Errorf("failed to set blocked for recipient %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Info("Recipient block state changed",
		slog.String("recipient_id", id),
		slog.Bool("blocked", blocked),
	)
	return nil
}
