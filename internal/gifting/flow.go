// Package gifting implements the gift badge donation flow: confirm the
// recipient can receive the gift, authorize the payment, durably enqueue the
// send job, and report the outcome from the job's lifecycle events.
package gifting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echomsg/gifting-be/internal/jobqueue"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/payments"
	"github.com/echomsg/gifting-be/internal/recipients"
	"github.com/echomsg/gifting-be/shared/logger"
)

// RecipientDirectory resolves recipients cache-first.
type RecipientDirectory interface {
	Lookup(ctx context.Context, id string) (*recipients.Recipient, error)
}

// InFlightChecker reports whether a gift send job for the recipient is
// already pending or running.
type InFlightChecker interface {
	HasInFlightGiftSend(ctx context.Context, recipientID string) (bool, error)
}

// PaymentAuthorizer prepares the charge: an intent for the amount and a
// method from the donor's payment sheet token.
type PaymentAuthorizer interface {
	CreatePaymentIntent(ctx context.Context, amount payments.Amount, level uint64) (*payments.PaymentIntent, error)
	CreatePaymentMethod(ctx context.Context, token string) (string, error)
}

// Enqueuer persists and announces the send job.
type Enqueuer interface {
	AddAndAnnounce(ctx context.Context, rec jobrecord.Persistable) error
}

// EventSubscriber delivers lifecycle events for one job id.
type EventSubscriber interface {
	Subscribe(jobID string) (<-chan jobqueue.Event, func())
}

const defaultWaitBudget = 30 * time.Second

// FlowConfig wires the donation flow's collaborators.
type FlowConfig struct {
	Recipients RecipientDirectory
	Jobs       InFlightChecker
	Payments   PaymentAuthorizer
	Queue      Enqueuer
	Observers  EventSubscriber

	// WaitBudget bounds how long Send blocks for a terminal job event
	// before returning a pending result.
	WaitBudget time.Duration

	Logger *slog.Logger
}

// Flow runs gift badge donations end to end.
type Flow struct {
	recipients RecipientDirectory
	jobs       InFlightChecker
	payments   PaymentAuthorizer
	queue      Enqueuer
	observers  EventSubscriber
	waitBudget time.Duration
	logger     *slog.Logger
}

// NewFlow creates a donation flow.
func NewFlow(cfg FlowConfig) *Flow {
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = defaultWaitBudget
	}

	return &Flow{
		recipients: cfg.Recipients,
		jobs:       cfg.Jobs,
		payments:   cfg.Payments,
		queue:      cfg.Queue,
		observers:  cfg.Observers,
		waitBudget: cfg.WaitBudget,
		logger:     cfg.Logger,
	}
}

// Preview is the confirmation summary shown to the donor before paying. The
// identity key is echoed back on Send; a mismatch there means the recipient's
// safety number changed between confirmation and submission.
type Preview struct {
	RecipientID         string          `json:"recipient_id"`
	DisplayName         string          `json:"display_name"`
	BadgeLevel          uint64          `json:"badge_level"`
	Amount              payments.Amount `json:"amount"`
	DisplayAmount       string          `json:"display_amount"`
	Message             string          `json:"message,omitempty"`
	MessageTimerSeconds int64           `json:"message_timer_seconds"`
	IdentityKey         string          `json:"identity_key"`
}

// Preview resolves the recipient and builds the confirmation summary:
// display name, badge, amount, optional message text, and the
// disappearing-message notice from the conversation's timer.
func (f *Flow) Preview(ctx context.Context, recipientID string, badgeLevel uint64, amount payments.Amount, message string) (*Preview, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("recipient id is required")
	}
	if badgeLevel == 0 {
		return nil, fmt.Errorf("badge level is required")
	}
	if err := amount.Validate(); err != nil {
		return nil, err
	}

	recipient, err := f.recipients.Lookup(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}

	return &Preview{
		RecipientID:         recipient.ID,
		DisplayName:         recipient.DisplayName,
		BadgeLevel:          badgeLevel,
		Amount:              amount,
		DisplayAmount:       amount.String(),
		Message:             message,
		MessageTimerSeconds: recipient.MessageTimerSeconds,
		IdentityKey:         recipient.IdentityKey,
	}, nil
}

// SendRequest submits a confirmed donation. ConfirmedIdentityKey is the
// recipient identity key the donor saw when confirming; PaymentToken comes
// from the platform payment sheet.
type SendRequest struct {
	RecipientID          string          `json:"recipient_id"`
	BadgeLevel           uint64          `json:"badge_level"`
	Amount               payments.Amount `json:"amount"`
	Message              string          `json:"message,omitempty"`
	PaymentToken         string          `json:"payment_token"`
	ConfirmedIdentityKey string          `json:"confirmed_identity_key"`
}

func (r SendRequest) validate() error {
	if r.RecipientID == "" {
		return fmt.Errorf("recipient id is required")
	}
	if r.BadgeLevel == 0 {
		return fmt.Errorf("badge level is required")
	}
	if r.PaymentToken == "" {
		return fmt.Errorf("payment token is required")
	}
	return r.Amount.Validate()
}

// SendStatus is how a send attempt resolved from the donor's perspective.
type SendStatus string

const (
	// SendCompleted means the charge cleared and the gift message was
	// delivered.
	SendCompleted SendStatus = "completed"
	// SendPending means the job had not finished when the wait budget ran
	// out. The job stays durable; poll it for the final outcome.
	SendPending SendStatus = "pending"
	// SendFailed means the job failed permanently. The accompanying error
	// says whether the donor was charged.
	SendFailed SendStatus = "failed"
)

// SendResult reports how far a gift send got. It is non-nil whenever the
// job was durably enqueued, including alongside a terminal error.
type SendResult struct {
	JobID   string     `json:"job_id"`
	Status  SendStatus `json:"status"`
	Charged bool       `json:"charged"`
}

// Send runs the donation: in-flight guard, eligibility, safety number check,
// payment authorization, durable enqueue, then waits for the job's terminal
// event. Context cancellation before the enqueue maps to ErrUserCanceled;
// after it the job keeps running and a pending result is returned.
func (f *Flow) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	inFlight, err := f.jobs.HasInFlightGiftSend(ctx, req.RecipientID)
	if err != nil {
		if canceled(ctx, err) {
			return nil, ErrUserCanceled
		}
		return nil, fmt.Errorf("failed to check in-flight gifts: %w", err)
	}
	if inFlight {
		return nil, ErrGiftInFlight
	}

	recipient, err := f.recipients.Lookup(ctx, req.RecipientID)
	if err != nil {
		if canceled(ctx, err) {
			return nil, ErrUserCanceled
		}
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	if recipient.Blocked {
		return nil, ErrRecipientBlocked
	}
	if !recipient.CanReceiveGifts {
		return nil, ErrRecipientCannotReceiveGifts
	}
	if recipient.IdentityKey != req.ConfirmedIdentityKey {
		return nil, &SafetyNumberChangedError{
			RecipientID: recipient.ID,
			IdentityKey: recipient.IdentityKey,
		}
	}

	intent, err := f.payments.CreatePaymentIntent(ctx, req.Amount, req.BadgeLevel)
	if err != nil {
		if canceled(ctx, err) {
			return nil, ErrUserCanceled
		}
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	methodID, err := f.payments.CreatePaymentMethod(ctx, req.PaymentToken)
	if err != nil {
		if canceled(ctx, err) {
			return nil, ErrUserCanceled
		}
		return nil, fmt.Errorf("failed to create payment method: %w", err)
	}

	rec := jobrecord.NewGiftSend(jobrecord.GiftSendParams{
		RecipientID:               req.RecipientID,
		BadgeLevel:                req.BadgeLevel,
		CurrencyCode:              req.Amount.CurrencyCode,
		AmountMinorUnits:          req.Amount.MinorUnits,
		Message:                   req.Message,
		PaymentIntentID:           intent.ID,
		PaymentIntentClientSecret: intent.ClientSecret,
		PaymentMethodID:           methodID,
	})

	// Subscribe before the job exists so no lifecycle event can slip past.
	events, unsubscribe := f.observers.Subscribe(rec.ID)
	defer unsubscribe()

	if err := f.queue.AddAndAnnounce(ctx, rec); err != nil {
		if canceled(ctx, err) {
			return nil, ErrUserCanceled
		}
		return nil, fmt.Errorf("failed to enqueue gift send job: %w", err)
	}

	f.logger.Info("Gift send enqueued",
		slog.String("job_id", rec.ID),
		slog.String("recipient_id", req.RecipientID),
		slog.String("amount", req.Amount.String()),
	)

	return f.awaitOutcome(ctx, rec.ID, events)
}

// awaitOutcome blocks until the job reports a terminal event, the wait
// budget runs out, or the donor hangs up. The enqueued job keeps running in
// the last two cases, so they resolve to a pending result, not an error.
func (f *Flow) awaitOutcome(ctx context.Context, jobID string, events <-chan jobqueue.Event) (*SendResult, error) {
	prog := &progress{jobID: jobID, done: newCompletion(), logger: f.logger}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			select {
			case <-stop:
				return
			case event := <-events:
				prog.apply(event)
			}
		}
	}()

	timer := time.NewTimer(f.waitBudget)
	defer timer.Stop()

	select {
	case out := <-prog.done.ch:
		result := &SendResult{JobID: jobID, Status: out.status, Charged: out.charged}
		return result, out.err
	case <-timer.C:
		f.logger.Info("Gift send still in progress after wait budget",
			slog.String("job_id", jobID),
		)
		return &SendResult{JobID: jobID, Status: SendPending, Charged: prog.charged.Load()}, nil
	case <-ctx.Done():
		return &SendResult{JobID: jobID, Status: SendPending, Charged: prog.charged.Load()}, nil
	}
}

// canceled reports whether the failure is the donor abandoning the request
// rather than an upstream misbehaving.
func canceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

// outcome is the terminal result of one send attempt.
type outcome struct {
	status  SendStatus
	charged bool
	err     error
}

// completion delivers the outcome exactly once no matter how many event
// paths try to finish the flow.
type completion struct {
	once sync.Once
	ch   chan outcome
}

func newCompletion() *completion {
	return &completion{ch: make(chan outcome, 1)}
}

func (c *completion) complete(out outcome) {
	c.once.Do(func() {
		c.ch <- out
	})
}

// progress folds a job's lifecycle events into an outcome. The charge flag
// and the completion are both idempotent, so duplicate event deliveries are
// ignored after the first.
type progress struct {
	jobID   string
	logger  *slog.Logger
	charged atomic.Bool
	done    *completion
}

func (p *progress) apply(event jobqueue.Event) {
	switch event.Code {
	case jobqueue.EventCodeChargeSucceeded:
		if p.charged.Swap(true) {
			p.logger.Debug("Duplicate charge event ignored",
				slog.String("job_id", p.jobID),
			)
		}
	case jobqueue.EventCodeJobSucceeded:
		p.done.complete(outcome{status: SendCompleted, charged: true})
	case jobqueue.EventCodeJobFailed:
		if p.charged.Load() {
			p.done.complete(outcome{status: SendFailed, charged: true, err: ErrSendFailedAfterCharge})
		} else {
			p.done.complete(outcome{status: SendFailed, err: ErrChargeOutcomeUnknown})
		}
	default:
		// The event consumer drops invalid codes before dispatch.
		logger.Unexpected(p.logger, "Job event with unrecognized code",
			slog.String("job_id", p.jobID),
			slog.Int("code", int(event.Code)),
		)
	}
}
