package gifting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/echomsg/gifting-be/internal/chat"
	"github.com/echomsg/gifting-be/internal/jobqueue"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/payments"
	"github.com/echomsg/gifting-be/internal/recipients"
)

// IntentConfirmer is the slice of the payment client the executor needs:
// re-reading intent status and confirming the charge.
type IntentConfirmer interface {
	GetPaymentIntent(ctx context.Context, intentID, clientSecret string) (*payments.PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, clientSecret, paymentMethodID, idempotencyKey string) (*payments.PaymentIntent, error)
}

// GiftMessageSender delivers the gift message.
type GiftMessageSender interface {
	SendGiftMessage(ctx context.Context, msg chat.GiftMessage) error
}

// Executor runs gift send jobs: confirm the prepared payment intent, then
// deliver the gift message. Each step is idempotent so the job survives
// retries without double charging or double sending.
type Executor struct {
	payments   IntentConfirmer
	chat       GiftMessageSender
	recipients RecipientDirectory
	events     jobqueue.EventPublisher
	logger     *slog.Logger
}

// NewExecutor creates a gift send executor.
func NewExecutor(payments IntentConfirmer, chat GiftMessageSender, recipients RecipientDirectory, events jobqueue.EventPublisher, logger *slog.Logger) *Executor {
	return &Executor{
		payments:   payments,
		chat:       chat,
		recipients: recipients,
		events:     events,
		logger:     logger,
	}
}

// Label implements jobqueue.Executor.
func (e *Executor) Label() string {
	return jobrecord.LabelSendGiftBadge
}

// Execute implements jobqueue.Executor.
func (e *Executor) Execute(ctx context.Context, rec jobrecord.Persistable) error {
	record, ok := rec.(*jobrecord.GiftSendRecord)
	if !ok {
		return fmt.Errorf("gift send executor got record type %T", rec)
	}

	if err := e.ensureCharged(ctx, record); err != nil {
		return err
	}

	// Announce the charge before attempting delivery; a failed send after
	// this point is reported as charged-but-not-delivered. A retried job
	// re-announces and subscribers ignore the duplicate.
	e.publishChargeSucceeded(ctx, record)

	recipient, err := e.recipients.Lookup(ctx, record.RecipientID)
	if err != nil {
		if errors.Is(err, recipients.ErrNotFound) {
			return fmt.Errorf("recipient %s no longer exists: %w", record.RecipientID, err)
		}
		return jobqueue.NewRetryableError(err)
	}

	msg := chat.GiftMessage{
		RecipientID:        record.RecipientID,
		BadgeLevel:         record.BadgeLevel,
		ReceiptReference:   record.PaymentIntentID,
		Message:            record.Message,
		ExpireTimerSeconds: recipient.MessageTimerSeconds,
	}

	if err := e.chat.SendGiftMessage(ctx, msg); err != nil {
		return classifyGiftSendError(err)
	}

	e.logger.Info("Gift delivered",
		slog.String("job_id", record.ID),
		slog.String("recipient_id", record.RecipientID),
		slog.Uint64("badge_level", record.BadgeLevel),
	)
	return nil
}

// ensureCharged brings the payment intent to a charged state. The status is
// re-read first so a retried job never confirms an intent that already
// charged, and the confirm call carries the job id as its idempotency key so
// a replayed confirm cannot charge twice either.
func (e *Executor) ensureCharged(ctx context.Context, record *jobrecord.GiftSendRecord) error {
	intent, err := e.payments.GetPaymentIntent(ctx, record.PaymentIntentID, record.PaymentIntentClientSecret)
	if err != nil {
		return classifyPaymentError(err)
	}

	if intent.Status.Charged() {
		return nil
	}
	if intent.Status == payments.IntentStatusCanceled {
		return fmt.Errorf("payment intent %s was canceled", record.PaymentIntentID)
	}

	confirmed, err := e.payments.ConfirmPaymentIntent(ctx,
		record.PaymentIntentID,
		record.PaymentIntentClientSecret,
		record.PaymentMethodID,
		record.ID,
	)
	if err != nil {
		return classifyPaymentError(err)
	}

	if !confirmed.Status.Charged() {
		return fmt.Errorf("payment intent %s stuck in status %q after confirm",
			record.PaymentIntentID, confirmed.Status)
	}

	e.logger.Info("Payment charged",
		slog.String("job_id", record.ID),
		slog.String("payment_intent_id", record.PaymentIntentID),
	)
	return nil
}

func (e *Executor) publishChargeSucceeded(ctx context.Context, record *jobrecord.GiftSendRecord) {
	event := jobqueue.Event{
		JobID: record.ID,
		Label: record.Label,
		Code:  jobqueue.EventCodeChargeSucceeded,
	}
	if err := e.events.Publish(ctx, event); err != nil {
		// Advisory only: the waiting flow falls back to a pending result
		// and the job itself carries on.
		e.logger.Warn("Failed to publish charge event",
			slog.String("job_id", record.ID),
			slog.String("error", err.Error()),
		)
	}
}

// classifyPaymentError maps processor failures to retry behavior. A
// definitive rejection (card declined, bad request) is permanent; anything
// where the outcome is unknown retries, which the status re-check and the
// idempotency key make safe.
func classifyPaymentError(err error) error {
	var apiErr *payments.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return jobqueue.NewRetryableError(err)
		}
		return err
	}
	return jobqueue.NewRetryableError(err)
}

// classifyGiftSendError marks delivery failures retryable unless the chat
// service definitively rejected the message. Transport failures retry: the
// receipt reference dedupes a send that actually landed.
func classifyGiftSendError(err error) error {
	var apiErr *chat.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return jobqueue.NewRetryableError(err)
		}
		return err
	}
	return jobqueue.NewRetryableError(err)
}
