package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/chat"
	"github.com/echomsg/gifting-be/internal/jobqueue"
	"github.com/echomsg/gifting-be/internal/jobrecord"
)

// BroadcastGetter loads the broadcast for a job.
type BroadcastGetter interface {
	Get(ctx context.Context, jobID string) (*Broadcast, error)
}

// CopyMaterializer creates per-recipient attachment copies.
type CopyMaterializer interface {
	MaterializeCopy(ctx context.Context, sourceID, copyID string) error
}

// MessageSender delivers media messages.
type MessageSender interface {
	SendMediaMessage(ctx context.Context, msg chat.MediaMessage) error
}

// Executor runs broadcast media message jobs: materialize every recipient's
// attachment copies, then send each recipient a message referencing its own
// copies. Both steps tolerate re-runs.
type Executor struct {
	store  BroadcastGetter
	copier CopyMaterializer
	sender MessageSender
	logger *slog.Logger
}

// NewExecutor creates a broadcast executor.
func NewExecutor(store BroadcastGetter, copier CopyMaterializer, sender MessageSender, logger *slog.Logger) *Executor {
	return &Executor{
		store:  store,
		copier: copier,
		sender: sender,
		logger: logger,
	}
}

// Label implements jobqueue.Executor.
func (e *Executor) Label() string {
	return jobrecord.LabelBroadcastMediaMessage
}

// Execute implements jobqueue.Executor.
func (e *Executor) Execute(ctx context.Context, rec jobrecord.Persistable) error {
	record, ok := rec.(*jobrecord.BroadcastMediaMessageRecord)
	if !ok {
		return fmt.Errorf("broadcast executor got record type %T", rec)
	}

	b, err := e.store.Get(ctx, record.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("no broadcast row for job %s: %w", record.ID, err)
		}
		return jobqueue.NewRetryableError(err)
	}

	// Deterministic source order keeps each recipient's attachment list
	// stable across retries.
	sources := make([]string, 0, len(record.AttachmentIDMap))
	for src := range record.AttachmentIDMap {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		copies := record.AttachmentIDMap[src]
		if len(copies) != len(b.RecipientIDs) {
			return fmt.Errorf("attachment %s has %d copies for %d recipients",
				src, len(copies), len(b.RecipientIDs))
		}

		for _, copyID := range copies {
			if err := e.copier.MaterializeCopy(ctx, src, copyID); err != nil {
				if errors.Is(err, attachments.ErrNotFound) {
					return fmt.Errorf("source attachment %s gone: %w", src, err)
				}
				return jobqueue.NewRetryableError(err)
			}
		}
	}

	for i, recipientID := range b.RecipientIDs {
		attIDs := make([]string, 0, len(sources))
		for _, src := range sources {
			attIDs = append(attIDs, record.AttachmentIDMap[src][i])
		}

		msg := chat.MediaMessage{
			RecipientID:   recipientID,
			AttachmentIDs: attIDs,
			Body:          b.Body,
			Reference:     fmt.Sprintf("%s/%d", record.ID, i),
		}

		if err := e.sender.SendMediaMessage(ctx, msg); err != nil {
			return classifySendError(err)
		}

		e.logger.Debug("Broadcast message sent",
			slog.String("job_id", record.ID),
			slog.String("recipient_id", recipientID),
		)
	}

	return nil
}

// classifySendError marks delivery failures retryable unless the service
// definitively rejected the message.
func classifySendError(err error) error {
	var apiErr *chat.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return jobqueue.NewRetryableError(err)
		}
		return err
	}
	// Transport-level failure: the send may or may not have landed, but the
	// delivery service dedupes by reference, so retrying is safe.
	return jobqueue.NewRetryableError(err)
}
