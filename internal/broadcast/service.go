package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/shared/postgresql"
)

// AttachmentChecker verifies source attachments exist before a broadcast is
// accepted.
type AttachmentChecker interface {
	Get(ctx context.Context, id string) (*attachments.Attachment, error)
}

// JobEnqueuer persists a job record inside the caller's transaction and
// announces it after commit.
type JobEnqueuer interface {
	Add(ctx context.Context, tx *sqlx.Tx, rec jobrecord.Persistable) error
	Announce(ctx context.Context, jobID string) error
}

// Service creates broadcast jobs.
type Service struct {
	db          *postgresql.Client
	store       *Store
	attachments AttachmentChecker
	queue       JobEnqueuer
	logger      *slog.Logger
}

// NewService creates a broadcast service.
func NewService(db *postgresql.Client, store *Store, attachments AttachmentChecker, queue JobEnqueuer, logger *slog.Logger) *Service {
	return &Service{
		db:          db,
		store:       store,
		attachments: attachments,
		queue:       queue,
		logger:      logger,
	}
}

// CreateParams describes a broadcast to enqueue.
type CreateParams struct {
	Body          string
	RecipientIDs  []string
	AttachmentIDs []string
}

// Create plans per-recipient attachment copies, persists the broadcast and
// its job record in one transaction, and announces the job. Copy ids are
// allocated up front so a retried job can tell which copies already exist.
func (s *Service) Create(ctx context.Context, params CreateParams) (*jobrecord.BroadcastMediaMessageRecord, error) {
	if len(params.RecipientIDs) == 0 {
		return nil, fmt.Errorf("broadcast needs at least one recipient")
	}
	if len(params.AttachmentIDs) == 0 {
		return nil, fmt.Errorf("broadcast needs at least one attachment")
	}

	for _, id := range params.AttachmentIDs {
		if _, err := s.attachments.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("attachment %s: %w", id, err)
		}
	}

	idMap := make(map[string][]string, len(params.AttachmentIDs))
	for _, src := range params.AttachmentIDs {
		copies := make([]string, len(params.RecipientIDs))
		for i := range copies {
			copies[i] = uuid.NewString()
		}
		idMap[src] = copies
	}

	rec := jobrecord.NewBroadcastMediaMessage(idMap)

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.Create(ctx, tx, &Broadcast{
			JobID:        rec.ID,
			Body:         params.Body,
			RecipientIDs: params.RecipientIDs,
		}); err != nil {
			return err
		}
		return s.queue.Add(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.Announce(ctx, rec.ID); err != nil {
		// The committed record is re-announced by the recovery sweep.
		s.logger.Warn("Broadcast job announce failed",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Broadcast created",
		slog.String("job_id", rec.ID),
		slog.Int("recipient_count", len(params.RecipientIDs)),
		slog.Int("attachment_count", len(params.AttachmentIDs)),
	)
	return rec, nil
}
