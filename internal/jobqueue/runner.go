package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/jobstore"
	"github.com/echomsg/gifting-be/shared/logger"
	"github.com/echomsg/gifting-be/shared/postgresql"
	"github.com/echomsg/gifting-be/shared/rabbitmq"
)

// Executor runs jobs of a single label. Execute must be safe to call again
// for a record that already ran partially: announcements can be duplicated
// and stale claims can be taken over.
type Executor interface {
	Label() string
	Execute(ctx context.Context, rec jobrecord.Persistable) error
}

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	Logger        *slog.Logger
	DB            *postgresql.Client
	Store         *jobstore.Store
	JobsClient    *rabbitmq.Client
	Events        EventPublisher
	ProcessID     string
	Concurrency   int
	PrefetchCount int
	MaxFailures   uint64
	JobTimeout    time.Duration
	SweepInterval time.Duration
}

// Runner consumes job announcements, claims the backing records, and runs
// them through registered executors. Claiming is the ready-to-running
// transition plus this process's exclusive marker, so a record can only be
// executed by one process at a time and orphaned claims are detectable.
type Runner struct {
	logger      *slog.Logger
	db          *postgresql.Client
	store       *jobstore.Store
	jobsClient  *rabbitmq.Client
	events      EventPublisher
	executors   map[string]Executor
	processID   string
	concurrency int
	prefetch    int
	maxFailures uint64
	jobTimeout  time.Duration
	sweepEvery  time.Duration

	wg       sync.WaitGroup
	jobsChan chan *jobDelivery
	stopChan chan struct{}
}

// jobDelivery pairs an announced job id with the AMQP delivery tag needed
// to ack or nack it.
type jobDelivery struct {
	jobID       string
	deliveryTag uint64
}

// NewRunner creates a runner instance. Executors are registered separately
// before Start.
func NewRunner(cfg *RunnerConfig) *Runner {
	processID := cfg.ProcessID
	if processID == "" {
		processID = uuid.NewString()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency * 2
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 60 * time.Second
	}

	sweepEvery := cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}

	return &Runner{
		logger:      cfg.Logger,
		db:          cfg.DB,
		store:       cfg.Store,
		jobsClient:  cfg.JobsClient,
		events:      cfg.Events,
		executors:   make(map[string]Executor),
		processID:   processID,
		concurrency: concurrency,
		prefetch:    prefetch,
		maxFailures: maxFailures,
		jobTimeout:  jobTimeout,
		sweepEvery:  sweepEvery,
		jobsChan:    make(chan *jobDelivery),
		stopChan:    make(chan struct{}),
	}
}

// Register adds an executor for its label. Registering two executors for
// the same label is a wiring bug.
func (r *Runner) Register(executor Executor) error {
	label := executor.Label()
	if _, exists := r.executors[label]; exists {
		return fmt.Errorf("executor for label %q already registered", label)
	}
	r.executors[label] = executor
	return nil
}

// ProcessID returns this runner's exclusive process marker.
func (r *Runner) ProcessID() string {
	return r.processID
}

// labels returns the labels this runner can execute.
func (r *Runner) labels() []string {
	labels := make([]string, 0, len(r.executors))
	for label := range r.executors {
		labels = append(labels, label)
	}
	return labels
}

// Start begins consuming and processing jobs. It blocks until the context
// is canceled or the delivery channel closes.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Starting job runner",
		slog.String("process_id", r.processID),
		slog.Int("concurrency", r.concurrency),
		slog.Int("prefetch_count", r.prefetch),
		slog.Uint64("max_failures", r.maxFailures),
		slog.Duration("job_timeout", r.jobTimeout),
	)

	if len(r.executors) == 0 {
		return fmt.Errorf("no executors registered")
	}

	deliveries, err := r.setupConsumer()
	if err != nil {
		return err
	}

	// Reclaim work orphaned before this process came up.
	r.sweep(ctx)

	r.spawnWorkerPool(ctx)

	r.wg.Add(1)
	go r.sweepLoop(ctx)

	r.startMessageDispatcher(ctx, deliveries)
	return nil
}

// Stop gracefully stops the runner and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.logger.Info("Stopping job runner...")
	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("Job runner stopped")
}

// setupConsumer sets QoS on the jobs channel and starts consuming.
func (r *Runner) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := r.jobsClient.Qos(r.prefetch); err != nil {
		return nil, err
	}

	r.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", r.prefetch),
	)

	deliveries, err := r.jobsClient.Consume(r.processID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return deliveries, nil
}

// startMessageDispatcher listens to announcements and hands them to the
// worker pool.
func (r *Runner) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	r.logger.Info("Message dispatcher started",
		slog.String("process_id", r.processID),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-r.stopChan:
			r.logger.Info("Message dispatcher stopped - runner stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			jobID, err := parseJobMessage(delivery.Body)
			if err != nil {
				r.logger.Error("Failed to parse job announcement",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed announcements never become valid; drop them.
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					r.logger.Error("Failed to NACK malformed announcement",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &jobDelivery{
				jobID:       jobID,
				deliveryTag: delivery.DeliveryTag,
			}

			select {
			case r.jobsChan <- msg:
				r.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", jobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				r.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					r.logger.Error("Failed to NACK announcement on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			case <-r.stopChan:
				r.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					r.logger.Error("Failed to NACK announcement on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

// processJob claims the record, runs its executor, and settles the record
// according to the outcome. The returned error drives the ack decision.
func (r *Runner) processJob(ctx context.Context, msg *jobDelivery) error {
	rec, err := r.claim(ctx, msg.jobID)
	if err != nil {
		switch {
		case errors.Is(err, jobstore.ErrRecordNotFound):
			// The record was removed, so the job already finished and this
			// announcement is stale.
			r.logger.Info("Job record gone, dropping stale announcement",
				slog.String("job_id", msg.jobID),
			)
			return nil

		case errors.Is(err, jobrecord.ErrIllegalStateTransition):
			r.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.jobID),
			)
			return fmt.Errorf("job already claimed: %w", err)

		default:
			r.logger.Error("Failed to claim job",
				slog.String("job_id", msg.jobID),
				slog.String("error", err.Error()),
			)
			return NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
		}
	}

	base := rec.Base()

	executor, ok := r.executors[base.Label]
	if !ok {
		logger.Unexpected(r.logger, "No executor registered for claimed job",
			slog.String("job_id", base.ID),
			slog.String("label", base.Label),
		)
		r.settlePermanentFailure(ctx, base.ID, base.Label)
		return fmt.Errorf("%w: %s", ErrNoExecutor, base.Label)
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	execErr := executor.Execute(jobCtx, rec)
	if execErr == nil {
		return r.settleSuccess(ctx, base.ID, base.Label)
	}

	r.logger.Error("Job execution failed",
		slog.String("job_id", base.ID),
		slog.String("label", base.Label),
		slog.String("error", execErr.Error()),
	)

	return r.settleFailure(ctx, base.ID, base.Label, execErr)
}

// claim transitions the record to running under this process's marker.
// A running record marked by another process is treated as a stale claim
// and reverted before starting.
func (r *Runner) claim(ctx context.Context, jobID string) (jobrecord.Persistable, error) {
	var claimed jobrecord.Persistable

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.store.Update(ctx, tx, jobID, func(rec jobrecord.Persistable) error {
			base := rec.Base()

			if base.Status == jobrecord.StatusRunning &&
				base.ExclusiveProcessID != nil &&
				*base.ExclusiveProcessID != r.processID {
				r.logger.Warn("Taking over stale claim",
					slog.String("job_id", base.ID),
					slog.String("stale_process_id", *base.ExclusiveProcessID),
				)
				if err := base.RevertToReady(); err != nil {
					return err
				}
			}

			if err := base.Start(); err != nil {
				return err
			}

			processID := r.processID
			base.ExclusiveProcessID = &processID
			claimed = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("process_id", r.processID),
	)
	return claimed, nil
}

// settleSuccess removes the finished record and broadcasts success. The
// record's absence is what marks the job done; there is no success status.
func (r *Runner) settleSuccess(ctx context.Context, jobID, label string) error {
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.store.Remove(ctx, tx, jobID)
	})
	if err != nil && !errors.Is(err, jobstore.ErrRecordNotFound) {
		// The job ran; a leftover running record is reclaimed by another
		// process's sweep and the executor tolerates the rerun.
		r.logger.Error("Failed to remove finished job record",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	r.publishEvent(ctx, Event{JobID: jobID, Label: label, Code: EventCodeJobSucceeded})

	r.logger.Info("Job completed successfully",
		slog.String("job_id", jobID),
		slog.String("label", label),
	)
	return nil
}

// settleFailure counts the failure and either puts the record back in line
// for a retry or marks it permanently failed.
func (r *Runner) settleFailure(ctx context.Context, jobID, label string, execErr error) error {
	retryable := IsRetryable(execErr) ||
		errors.Is(execErr, context.DeadlineExceeded) ||
		errors.Is(execErr, context.Canceled)

	var failures uint64
	var retrying bool

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.store.Update(ctx, tx, jobID, func(rec jobrecord.Persistable) error {
			base := rec.Base()
			if err := base.AddFailure(); err != nil {
				return err
			}
			failures = base.FailureCount

			if retryable && failures < r.maxFailures {
				retrying = true
				return base.RevertToReady()
			}

			retrying = false
			base.MarkPermanentlyFailed()
			return nil
		})
	})
	if err != nil {
		// Could not settle, likely a dead database or canceled shutdown
		// context. The record stays running under our marker until a sweep
		// reclaims it.
		r.logger.Error("Failed to record job failure",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return NewRetryableError(fmt.Errorf("failed to record job failure: %w", err))
	}

	if retrying {
		r.logger.Info("Job will be retried",
			slog.String("job_id", jobID),
			slog.Uint64("failure_count", failures),
			slog.Uint64("max_failures", r.maxFailures),
		)
		return NewRetryableError(execErr)
	}

	r.logger.Warn("Job failed permanently",
		slog.String("job_id", jobID),
		slog.Uint64("failure_count", failures),
	)
	r.publishEvent(ctx, Event{JobID: jobID, Label: label, Code: EventCodeJobFailed})

	return fmt.Errorf("%w: %v", ErrMaxFailuresExceeded, execErr)
}

// settlePermanentFailure force-fails a record outside the usual execution
// path, such as when no executor exists for its label.
func (r *Runner) settlePermanentFailure(ctx context.Context, jobID, label string) {
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return r.store.MarkPermanentlyFailed(ctx, tx, jobID)
	})
	if err != nil {
		r.logger.Error("Failed to mark job permanently failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	r.publishEvent(ctx, Event{JobID: jobID, Label: label, Code: EventCodeJobFailed})
}

func (r *Runner) publishEvent(ctx context.Context, event Event) {
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Error("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.String("event", event.Code.String()),
			slog.String("error", err.Error()),
		)
	}
}
