// Package jobstore persists job records in the key-value object store
// backed by PostgreSQL. Rows live in the "JobRecord" collection; the value
// column holds the serialized record and the label column discriminates the
// concrete kind. The store only consumes the database: callers supply the
// transactions, and every mutation goes through a read-modify-write update.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/jmoiron/sqlx"
)

// Collection is the key-value collection job records are stored under.
const Collection = "JobRecord"

var (
	// ErrRecordNotFound is returned when no record exists for an id.
	ErrRecordNotFound = errors.New("job record not found")
)

// Store handles job record persistence.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Store on top of an open database handle.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

type kvRow struct {
	UID    string `db:"uid"`
	Label  string `db:"label"`
	SortID uint64 `db:"sort_id"`
	Value  []byte `db:"value"`
}

func decodeRow(r *kvRow) (jobrecord.Persistable, error) {
	rec, err := jobrecord.Decode(r.Label, r.Value)
	if err != nil {
		return nil, err
	}
	rec.Base().SortID = r.SortID
	return rec, nil
}

// Insert stores a new record under the caller's write transaction and
// assigns its insertion-order sort id.
func (s *Store) Insert(ctx context.Context, tx *sqlx.Tx, rec jobrecord.Persistable) error {
	base := rec.Base()

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", base.Label, err)
	}

	query := `
		INSERT INTO kv_records (collection, uid, label, value)
		VALUES ($1, $2, $3, $4)
		RETURNING sort_id
	`

	if err := tx.QueryRowxContext(ctx, query, Collection, base.ID, base.Label, value).Scan(&base.SortID); err != nil {
		return fmt.Errorf("failed to insert job record: %w", err)
	}

	s.logger.Info("Job record inserted",
		slog.String("job_id", base.ID),
		slog.String("label", base.Label),
		slog.Uint64("sort_id", base.SortID),
	)

	return nil
}

// Get loads a record by id.
func (s *Store) Get(ctx context.Context, id string) (jobrecord.Persistable, error) {
	query := `
		SELECT uid, label, sort_id, value
		FROM kv_records
		WHERE collection = $1 AND uid = $2
	`

	var r kvRow
	if err := s.db.GetContext(ctx, &r, query, Collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}

	return decodeRow(&r)
}

// Update is the read-modify-write primitive: it loads the record under a row
// lock, applies mutate to the decoded concrete type, and writes the result
// back. Errors from mutate — including illegal state transitions — abort the
// update and are returned to the caller unchanged.
func (s *Store) Update(ctx context.Context, tx *sqlx.Tx, id string, mutate func(jobrecord.Persistable) error) error {
	query := `
		SELECT uid, label, sort_id, value
		FROM kv_records
		WHERE collection = $1 AND uid = $2
		FOR UPDATE
	`

	var r kvRow
	if err := tx.GetContext(ctx, &r, query, Collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to load job record for update: %w", err)
	}

	rec, err := decodeRow(&r)
	if err != nil {
		return err
	}

	if err := mutate(rec); err != nil {
		return err
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", r.Label, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE kv_records SET value = $1 WHERE collection = $2 AND uid = $3`,
		value, Collection, id,
	); err != nil {
		return fmt.Errorf("failed to update job record: %w", err)
	}

	s.logger.Debug("Job record updated",
		slog.String("job_id", id),
		slog.String("label", r.Label),
		slog.String("status", rec.Base().Status.String()),
	)

	return nil
}

// Remove deletes a record. The record types themselves never delete; only
// the owning job queue removes finished work.
func (s *Store) Remove(ctx context.Context, tx *sqlx.Tx, id string) error {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM kv_records WHERE collection = $1 AND uid = $2`,
		Collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to remove job record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRecordNotFound
	}

	s.logger.Info("Job record removed",
		slog.String("job_id", id),
	)

	return nil
}

// MarkPermanentlyFailed applies the terminal failure override.
func (s *Store) MarkPermanentlyFailed(ctx context.Context, tx *sqlx.Tx, id string) error {
	err := s.Update(ctx, tx, id, func(rec jobrecord.Persistable) error {
		rec.Base().MarkPermanentlyFailed()
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Job record marked permanently failed",
		slog.String("job_id", id),
	)
	return nil
}

// MarkObsolete applies the terminal obsolete override. An obsolete record
// keeps its row but can never be claimed again; announcements for it are
// dropped at claim time.
func (s *Store) MarkObsolete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return s.Update(ctx, tx, id, func(rec jobrecord.Persistable) error {
		rec.Base().MarkObsolete()
		return nil
	})
}
