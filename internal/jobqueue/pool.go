package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/echomsg/gifting-be/internal/jobrecord"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (r *Runner) spawnWorkerPool(ctx context.Context) {
	r.logger.Info("Spawning worker pool",
		slog.Int("concurrency", r.concurrency),
		slog.String("process_id", r.processID),
	)

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}

	r.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", r.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (r *Runner) workerLoop(ctx context.Context, workerNum int) {
	defer r.wg.Done()

	workerName := fmt.Sprintf("%s-%d", r.processID, workerNum)
	r.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		select {
		case <-r.stopChan:
			r.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			r.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-r.jobsChan:
			if !ok {
				r.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			r.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.jobID),
				slog.Uint64("delivery_tag", msg.deliveryTag),
			)

			err := r.processJob(ctx, msg)

			channel := r.jobsClient.GetChannel()
			if channel == nil {
				r.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.jobID),
				)
				continue
			}

			if err != nil {
				requeue := r.shouldRequeue(err)

				if nackErr := channel.Nack(msg.deliveryTag, false, requeue); nackErr != nil {
					r.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.jobID),
						slog.String("error", nackErr.Error()),
					)
				} else {
					r.logger.Info("Message NACKed",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.jobID),
						slog.Bool("requeue", requeue),
					)
				}
			} else {
				if ackErr := channel.Ack(msg.deliveryTag, false); ackErr != nil {
					r.logger.Error("Failed to ACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.jobID),
						slog.String("error", ackErr.Error()),
					)
				}
			}
		}
	}
}

// shouldRequeue determines whether the announcement goes back on the queue
// after a processing error.
func (r *Runner) shouldRequeue(err error) bool {
	// A claim rejection means another process owns the job.
	if errors.Is(err, jobrecord.ErrIllegalStateTransition) {
		return false
	}

	// The record settled as permanently failed.
	if errors.Is(err, ErrMaxFailuresExceeded) {
		return false
	}

	// Nothing can run this label; requeueing would loop forever.
	if errors.Is(err, ErrNoExecutor) {
		return false
	}

	// Requeue for transient/retryable errors
	if IsRetryable(err) {
		return true
	}

	// Default: don't requeue for unknown errors
	return false
}
