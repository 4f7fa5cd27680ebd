// Package broadcast creates and executes broadcast media message jobs: one
// media message per recipient, each carrying that recipient's own copies of
// the source attachments.
package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrNotFound is returned when no broadcast exists for a job id.
var ErrNotFound = errors.New("broadcast not found")

// Broadcast is the message side of a broadcast job: who receives it and the
// shared body text. The attachment copy plan lives on the job record itself.
type Broadcast struct {
	JobID        string         `db:"job_id" json:"job_id"`
	Body         string         `db:"body" json:"body"`
	RecipientIDs pq.StringArray `db:"recipient_ids" json:"recipient_ids"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Store reads and writes broadcast rows.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a broadcast store.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Create inserts the broadcast row inside the caller's transaction so it
// commits atomically with its job record.
func (s *Store) Create(ctx context.Context, tx *sqlx.Tx, b *Broadcast) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO broadcasts (job_id, body, recipient_ids, created_at)
		VALUES (:job_id, :body, :recipient_ids, :created_at)
	`
	if _, err := tx.NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("failed to insert broadcast %s: %w", b.JobID, err)
	}
	return nil
}

// Get returns the broadcast for the job id.
func (s *Store) Get(ctx context.Context, jobID string) (*Broadcast, error) {
	query := `
		SELECT job_id, body, recipient_ids, created_at
		FROM broadcasts
		WHERE job_id = $1
	`

	var b Broadcast
	if err := s.db.GetContext(ctx, &b, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get broadcast %s: %w", jobID, err)
	}

	return &b, nil
}
