package jobstore

import (
	"context"
	"fmt"

	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/jmoiron/sqlx"
)

// HasInFlightGiftSend reports whether a gift send job for the recipient is
// still pending or running. The donation flow uses this as its duplicate
// guard so the check survives restarts instead of living in process memory.
func (s *Store) HasInFlightGiftSend(ctx context.Context, recipientID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM kv_records
			WHERE collection = $1
			  AND label = $2
			  AND value->>'recipient_id' = $3
			  AND (value->>'status')::int IN ($4, $5)
		)
	`

	var exists bool
	err := s.db.GetContext(ctx, &exists, query,
		Collection,
		jobrecord.LabelSendGiftBadge,
		recipientID,
		int(jobrecord.StatusReady),
		int(jobrecord.StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("failed to query in-flight gift sends: %w", err)
	}

	return exists, nil
}

// StaleRunning returns Running records whose exclusive process marker names
// a process other than the given one. After a restart these are claims left
// behind by a dead worker.
func (s *Store) StaleRunning(ctx context.Context, processID string) ([]jobrecord.Persistable, error) {
	query := `
		SELECT uid, label, sort_id, value
		FROM kv_records
		WHERE collection = $1
		  AND (value->>'status')::int = $2
		  AND COALESCE(value->>'exclusive_process_id', '') <> $3
		ORDER BY sort_id
	`

	var rows []kvRow
	err := s.db.SelectContext(ctx, &rows, query,
		Collection,
		int(jobrecord.StatusRunning),
		processID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale running records: %w", err)
	}

	records := make([]jobrecord.Persistable, 0, len(rows))
	for i := range rows {
		rec, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// ReadyIDs returns the ids of ready records carrying one of the given
// labels, oldest first. The recovery sweep re-announces these on the job
// queue; duplicate announcements are harmless because claiming is guarded
// by the ready-to-running transition.
func (s *Store) ReadyIDs(ctx context.Context, labels ...string) ([]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT uid
		FROM kv_records
		WHERE collection = ?
		  AND (value->>'status')::int = ?
		  AND label IN (?)
		ORDER BY sort_id
	`, Collection, int(jobrecord.StatusReady), labels)
	if err != nil {
		return nil, fmt.Errorf("failed to build ready records query: %w", err)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query ready records: %w", err)
	}

	return ids, nil
}

// ListFilter narrows the record listing.
type ListFilter struct {
	Label    string
	Status   *jobrecord.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor marks the position after the last returned record. Sort ids are
// assigned in insertion order, so paging walks newest to oldest.
type Cursor struct {
	SortID uint64
}

// List returns up to PageSize+1 records matching the filter, newest first.
// The extra record tells the caller another page exists.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]jobrecord.Persistable, error) {
	query := `
		SELECT uid, label, sort_id, value
		FROM kv_records
		WHERE collection = $1
	`
	args := []interface{}{Collection}
	argIdx := 2

	if filter.Label != "" {
		query += fmt.Sprintf(" AND label = $%d", argIdx)
		args = append(args, filter.Label)
		argIdx++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND (value->>'status')::int = $%d", argIdx)
		args = append(args, int(*filter.Status))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND sort_id < $%d", argIdx)
		args = append(args, filter.Cursor.SortID)
		argIdx++
	}

	query += " ORDER BY sort_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []kvRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list job records: %w", err)
	}

	records := make([]jobrecord.Persistable, 0, len(rows))
	for i := range rows {
		rec, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}
