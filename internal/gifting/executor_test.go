package gifting

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echomsg/gifting-be/internal/chat"
	"github.com/echomsg/gifting-be/internal/jobqueue"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/payments"
	"github.com/echomsg/gifting-be/internal/recipients"
)

type fakeConfirmer struct {
	intent       *payments.PaymentIntent
	getErr       error
	confirmed    *payments.PaymentIntent
	confirmErr   error
	getCalls     int
	confirmCalls int
	lastMethodID string
	lastIdemKey  string
}

func (f *fakeConfirmer) GetPaymentIntent(_ context.Context, _, _ string) (*payments.PaymentIntent, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.intent, nil
}

func (f *fakeConfirmer) ConfirmPaymentIntent(_ context.Context, _, _, methodID, idempotencyKey string) (*payments.PaymentIntent, error) {
	f.confirmCalls++
	f.lastMethodID = methodID
	f.lastIdemKey = idempotencyKey
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.confirmed, nil
}

type fakeGiftSender struct {
	sent []chat.GiftMessage
	err  error
}

func (f *fakeGiftSender) SendGiftMessage(_ context.Context, msg chat.GiftMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeEventPublisher struct {
	events []jobqueue.Event
	err    error
}

func (f *fakeEventPublisher) Publish(_ context.Context, event jobqueue.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func giftRecord() *jobrecord.GiftSendRecord {
	return jobrecord.NewGiftSend(jobrecord.GiftSendParams{
		RecipientID:               "rcpt-1",
		BadgeLevel:                10,
		CurrencyCode:              "USD",
		AmountMinorUnits:          500,
		Message:                   "for you",
		PaymentIntentID:           "pi-1",
		PaymentIntentClientSecret: "cs-1",
		PaymentMethodID:           "pm-1",
	})
}

type executorFixture struct {
	confirmer *fakeConfirmer
	sender    *fakeGiftSender
	directory *fakeDirectory
	events    *fakeEventPublisher
	executor  *Executor
}

func newExecutorFixture() *executorFixture {
	f := &executorFixture{
		confirmer: &fakeConfirmer{
			intent: &payments.PaymentIntent{
				ID:           "pi-1",
				ClientSecret: "cs-1",
				Status:       payments.IntentStatusRequiresConfirmation,
			},
			confirmed: &payments.PaymentIntent{
				ID:           "pi-1",
				ClientSecret: "cs-1",
				Status:       payments.IntentStatusSucceeded,
			},
		},
		sender:    &fakeGiftSender{},
		directory: &fakeDirectory{recipient: eligibleRecipient()},
		events:    &fakeEventPublisher{},
	}
	f.executor = NewExecutor(f.confirmer, f.sender, f.directory, f.events, testLogger())
	return f
}

func TestGiftExecutor_Label(t *testing.T) {
	f := newExecutorFixture()
	assert.Equal(t, jobrecord.LabelSendGiftBadge, f.executor.Label())
}

func TestGiftExecutor_Execute(t *testing.T) {
	f := newExecutorFixture()
	record := giftRecord()

	err := f.executor.Execute(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, 1, f.confirmer.getCalls)
	assert.Equal(t, 1, f.confirmer.confirmCalls)
	assert.Equal(t, "pm-1", f.confirmer.lastMethodID)
	assert.Equal(t, record.ID, f.confirmer.lastIdemKey, "the job id keys confirm idempotency")

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	assert.Equal(t, record.ID, event.JobID)
	assert.Equal(t, jobrecord.LabelSendGiftBadge, event.Label)
	assert.Equal(t, jobqueue.EventCodeChargeSucceeded, event.Code)

	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, "rcpt-1", msg.RecipientID)
	assert.Equal(t, uint64(10), msg.BadgeLevel)
	assert.Equal(t, "pi-1", msg.ReceiptReference)
	assert.Equal(t, "for you", msg.Message)
	assert.Equal(t, int64(3600), msg.ExpireTimerSeconds)
}

func TestGiftExecutor_ExecuteAlreadyCharged(t *testing.T) {
	f := newExecutorFixture()
	f.confirmer.intent.Status = payments.IntentStatusSucceeded

	err := f.executor.Execute(context.Background(), giftRecord())
	require.NoError(t, err)

	assert.Zero(t, f.confirmer.confirmCalls, "a charged intent must not be confirmed again")
	assert.Len(t, f.events.events, 1)
	assert.Len(t, f.sender.sent, 1)
}

func TestGiftExecutor_ExecuteIntentCanceled(t *testing.T) {
	f := newExecutorFixture()
	f.confirmer.intent.Status = payments.IntentStatusCanceled

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.False(t, jobqueue.IsRetryable(err))
	assert.Zero(t, f.confirmer.confirmCalls)
	assert.Empty(t, f.events.events)
	assert.Empty(t, f.sender.sent)
}

func TestGiftExecutor_ExecuteStatusCheckFlake(t *testing.T) {
	f := newExecutorFixture()
	f.confirmer.getErr = errors.New("timeout")

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.True(t, jobqueue.IsRetryable(err))
	assert.Zero(t, f.confirmer.confirmCalls)
}

func TestGiftExecutor_ExecuteCardDeclined(t *testing.T) {
	f := newExecutorFixture()
	f.confirmer.confirmErr = &payments.APIError{StatusCode: 402, Code: "card_declined", Message: "declined"}

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.False(t, jobqueue.IsRetryable(err))
	assert.Empty(t, f.events.events, "a declined charge must not announce success")
	assert.Empty(t, f.sender.sent)
}

func TestGiftExecutor_ExecuteConfirmOutcomeUnknown(t *testing.T) {
	f := newExecutorFixture()
	f.confirmer.confirmErr = errors.New("connection reset")

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.True(t, jobqueue.IsRetryable(err), "unknown confirm outcome retries behind the status re-check")
}

func TestGiftExecutor_ExecuteProcessorOverloaded(t *testing.T) {
	f := newExecutorFixture()
	f.confirmer.confirmErr = &payments.APIError{StatusCode: 503, Code: "overloaded", Message: "try later"}

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.True(t, jobqueue.IsRetryable(err))
}

func TestGiftExecutor_ExecuteConfirmStuck(t *testing.T) {
	f := newExecutorFixture()
	f.confirmer.confirmed.Status = payments.IntentStatusRequiresPaymentMethod

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.False(t, jobqueue.IsRetryable(err))
	assert.Contains(t, err.Error(), "requires_payment_method")
	assert.Empty(t, f.sender.sent)
}

func TestGiftExecutor_ExecuteRecipientGone(t *testing.T) {
	f := newExecutorFixture()
	f.directory.err = recipients.ErrNotFound

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.False(t, jobqueue.IsRetryable(err))
	assert.Len(t, f.events.events, 1, "the charge already happened and must be announced")
	assert.Empty(t, f.sender.sent)
}

func TestGiftExecutor_ExecuteRecipientLookupFlake(t *testing.T) {
	f := newExecutorFixture()
	f.directory.err = errors.New("recipient store down")

	err := f.executor.Execute(context.Background(), giftRecord())

	require.Error(t, err)
	assert.True(t, jobqueue.IsRetryable(err))
}

func TestGiftExecutor_ExecuteChatErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "temporary chat failure",
			err:       &chat.APIError{StatusCode: 503, Message: "overloaded"},
			retryable: true,
		},
		{
			name:      "definitive chat rejection",
			err:       &chat.APIError{StatusCode: 400, Message: "bad message"},
			retryable: false,
		},
		{
			name:      "transport failure",
			err:       errors.New("connection reset"),
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecutorFixture()
			f.sender.err = tt.err

			err := f.executor.Execute(context.Background(), giftRecord())

			require.Error(t, err)
			assert.Equal(t, tt.retryable, jobqueue.IsRetryable(err))
			assert.Len(t, f.events.events, 1, "charge events precede the delivery attempt")
		})
	}
}

func TestGiftExecutor_ExecuteEventPublishFailureTolerated(t *testing.T) {
	f := newExecutorFixture()
	f.events.err = errors.New("broker down")

	err := f.executor.Execute(context.Background(), giftRecord())

	require.NoError(t, err, "the event stream is advisory, delivery still proceeds")
	assert.Len(t, f.sender.sent, 1)
}

func TestGiftExecutor_ExecuteWrongRecordType(t *testing.T) {
	f := newExecutorFixture()

	record := jobrecord.NewBroadcastMediaMessage(map[string][]string{"src": {"copy"}})
	err := f.executor.Execute(context.Background(), record)

	require.Error(t, err)
	assert.False(t, jobqueue.IsRetryable(err))
	assert.Zero(t, f.confirmer.getCalls)
}
