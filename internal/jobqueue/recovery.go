package jobqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/echomsg/gifting-be/internal/jobrecord"
)

// sweepLoop periodically reclaims orphaned work. It covers the two ways a
// job can fall out of the announcement path: a worker died holding a claim,
// or a committed record was never announced because the publish failed.
func (r *Runner) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			r.logger.Info("Recovery sweep stopped")
			return
		case <-ctx.Done():
			r.logger.Info("Recovery sweep stopped - context canceled")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep reverts stale claims left by other processes and re-announces every
// ready record this runner can execute. Duplicate announcements are dropped
// at claim time, so re-announcing is safe.
func (r *Runner) sweep(ctx context.Context) {
	reverted := r.revertStaleClaims(ctx)

	ready, err := r.store.ReadyIDs(ctx, r.labels()...)
	if err != nil {
		r.logger.Error("Recovery sweep failed to list ready jobs",
			slog.String("error", err.Error()),
		)
		return
	}

	announced := 0
	for _, id := range ready {
		body, err := json.Marshal(jobMessage{JobID: id})
		if err != nil {
			continue
		}
		if err := r.jobsClient.PublishWithRetry(ctx, body, "application/json"); err != nil {
			r.logger.Error("Recovery sweep failed to announce job",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		announced++
	}

	if reverted > 0 || announced > 0 {
		r.logger.Info("Recovery sweep finished",
			slog.Int("stale_claims_reverted", reverted),
			slog.Int("jobs_announced", announced),
		)
	}
}

// revertStaleClaims puts running records claimed by other processes back to
// ready. On a single-worker deployment these are always leftovers from a
// previous incarnation; with several workers a claim is only considered
// stale by the sweep, never preempted mid-run, because the claim transition
// re-checks under the row lock.
func (r *Runner) revertStaleClaims(ctx context.Context) int {
	stale, err := r.store.StaleRunning(ctx, r.processID)
	if err != nil {
		r.logger.Error("Recovery sweep failed to list stale claims",
			slog.String("error", err.Error()),
		)
		return 0
	}

	reverted := 0
	for _, rec := range stale {
		base := rec.Base()

		err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			return r.store.Update(ctx, tx, base.ID, func(cur jobrecord.Persistable) error {
				curBase := cur.Base()
				// Re-check under the lock: the owner may have finished or
				// another sweep may have beaten us.
				if curBase.Status != jobrecord.StatusRunning {
					return nil
				}
				if curBase.ExclusiveProcessID != nil && *curBase.ExclusiveProcessID == r.processID {
					return nil
				}
				return curBase.RevertToReady()
			})
		})
		if err != nil {
			r.logger.Error("Failed to revert stale claim",
				slog.String("job_id", base.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.logger.Warn("Reverted stale claim",
			slog.String("job_id", base.ID),
			slog.String("label", base.Label),
		)
		reverted++
	}

	return reverted
}
