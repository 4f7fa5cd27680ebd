package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/jobstore"
	"github.com/echomsg/gifting-be/shared/postgresql"
	"github.com/echomsg/gifting-be/shared/rabbitmq"
)

// jobMessage is the payload announcing a persisted job on the work queue.
// Only the id travels; workers load the record from the store.
type jobMessage struct {
	JobID string `json:"job_id"`
}

// parseJobMessage extracts and validates the job id from an announcement.
func parseJobMessage(body []byte) (string, error) {
	var msg jobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("invalid announcement JSON: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return "", fmt.Errorf("job id %q is not a UUID: %w", msg.JobID, err)
	}
	return msg.JobID, nil
}

// Queue persists job records and announces them to workers. The record is
// the durable source of truth; the announcement is a hint that can be
// replayed by the recovery sweep if it gets lost.
type Queue struct {
	db     *postgresql.Client
	store  *jobstore.Store
	jobs   *rabbitmq.Client
	logger *slog.Logger
}

// NewQueue creates a Queue publishing on the jobs topology client.
func NewQueue(db *postgresql.Client, store *jobstore.Store, jobs *rabbitmq.Client, logger *slog.Logger) *Queue {
	return &Queue{
		db:     db,
		store:  store,
		jobs:   jobs,
		logger: logger,
	}
}

// Add inserts the record inside the caller's transaction. The caller commits
// and then calls Announce; announcing before commit would let a worker look
// up a row that is not visible yet.
func (q *Queue) Add(ctx context.Context, tx *sqlx.Tx, rec jobrecord.Persistable) error {
	if err := q.store.Insert(ctx, tx, rec); err != nil {
		return err
	}

	q.logger.Info("Job record enqueued",
		slog.String("job_id", rec.Base().ID),
		slog.String("label", rec.Base().Label),
	)
	return nil
}

// AddAndAnnounce inserts the record in its own transaction and announces it
// once committed. Most callers without surrounding writes use this.
func (q *Queue) AddAndAnnounce(ctx context.Context, rec jobrecord.Persistable) error {
	err := q.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return q.Add(ctx, tx, rec)
	})
	if err != nil {
		return err
	}

	return q.Announce(ctx, rec.Base().ID)
}

// Cancel marks a stored record obsolete so it never runs again. A ready
// record is withdrawn before any worker claims it; a record canceled mid-run
// keeps whatever side effects already happened, and its announcement is
// dropped at the next claim attempt.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	err := q.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return q.store.MarkObsolete(ctx, tx, jobID)
	})
	if err != nil {
		return err
	}

	q.logger.Info("Job record canceled",
		slog.String("job_id", jobID),
	)
	return nil
}

// Announce publishes the job id to the work queue. A failed announcement is
// logged and returned but leaves the committed record in place for the
// recovery sweep to re-announce.
func (q *Queue) Announce(ctx context.Context, jobID string) error {
	body, err := json.Marshal(jobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.jobs.PublishWithRetry(ctx, body, "application/json"); err != nil {
		q.logger.Error("Failed to announce job, sweep will re-announce",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to announce job %s: %w", jobID, err)
	}

	return nil
}
