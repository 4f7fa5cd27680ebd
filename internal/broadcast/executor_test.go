package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/chat"
	"github.com/echomsg/gifting-be/internal/jobqueue"
	"github.com/echomsg/gifting-be/internal/jobrecord"
)

type fakeBroadcastGetter struct {
	broadcast *Broadcast
	err       error
}

func (f *fakeBroadcastGetter) Get(_ context.Context, _ string) (*Broadcast, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.broadcast, nil
}

type copyCall struct {
	sourceID string
	copyID   string
}

type fakeCopier struct {
	calls []copyCall
	errs  map[string]error
}

func (f *fakeCopier) MaterializeCopy(_ context.Context, sourceID, copyID string) error {
	f.calls = append(f.calls, copyCall{sourceID: sourceID, copyID: copyID})
	if err, ok := f.errs[sourceID]; ok {
		return err
	}
	return nil
}

type fakeSender struct {
	sent []chat.MediaMessage
	errs map[string]error
}

func (f *fakeSender) SendMediaMessage(_ context.Context, msg chat.MediaMessage) error {
	if err, ok := f.errs[msg.RecipientID]; ok {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testBroadcastLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBroadcastRecord(attachmentIDMap map[string][]string) *jobrecord.BroadcastMediaMessageRecord {
	rec := jobrecord.NewBroadcastMediaMessage(attachmentIDMap)
	return rec
}

func TestExecutor_Execute(t *testing.T) {
	record := newBroadcastRecord(map[string][]string{
		"src-b": {"copy-b-1", "copy-b-2"},
		"src-a": {"copy-a-1", "copy-a-2"},
	})
	getter := &fakeBroadcastGetter{
		broadcast: &Broadcast{
			JobID:        record.ID,
			Body:         "look at this",
			RecipientIDs: []string{"rcpt-1", "rcpt-2"},
		},
	}
	copier := &fakeCopier{}
	sender := &fakeSender{}

	executor := NewExecutor(getter, copier, sender, testBroadcastLogger())
	err := executor.Execute(context.Background(), record)
	require.NoError(t, err)

	// Sources are walked in sorted order, so src-a copies come first.
	require.Len(t, copier.calls, 4)
	assert.Equal(t, copyCall{sourceID: "src-a", copyID: "copy-a-1"}, copier.calls[0])
	assert.Equal(t, copyCall{sourceID: "src-a", copyID: "copy-a-2"}, copier.calls[1])
	assert.Equal(t, copyCall{sourceID: "src-b", copyID: "copy-b-1"}, copier.calls[2])
	assert.Equal(t, copyCall{sourceID: "src-b", copyID: "copy-b-2"}, copier.calls[3])

	require.Len(t, sender.sent, 2)

	first := sender.sent[0]
	assert.Equal(t, "rcpt-1", first.RecipientID)
	assert.Equal(t, []string{"copy-a-1", "copy-b-1"}, first.AttachmentIDs)
	assert.Equal(t, "look at this", first.Body)
	assert.Equal(t, record.ID+"/0", first.Reference)

	second := sender.sent[1]
	assert.Equal(t, "rcpt-2", second.RecipientID)
	assert.Equal(t, []string{"copy-a-2", "copy-b-2"}, second.AttachmentIDs)
	assert.Equal(t, record.ID+"/1", second.Reference)
}

func TestExecutor_ExecuteWrongRecordType(t *testing.T) {
	executor := NewExecutor(&fakeBroadcastGetter{}, &fakeCopier{}, &fakeSender{}, testBroadcastLogger())

	gift := jobrecord.NewGiftSend(jobrecord.GiftSendParams{RecipientID: "rcpt-1"})
	err := executor.Execute(context.Background(), gift)
	require.Error(t, err)
	assert.False(t, jobqueue.IsRetryable(err))
}

func TestExecutor_ExecuteMissingBroadcast(t *testing.T) {
	record := newBroadcastRecord(map[string][]string{"src-a": {"copy-a-1"}})
	getter := &fakeBroadcastGetter{err: ErrNotFound}

	executor := NewExecutor(getter, &fakeCopier{}, &fakeSender{}, testBroadcastLogger())
	err := executor.Execute(context.Background(), record)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, jobqueue.IsRetryable(err))
}

func TestExecutor_ExecuteBroadcastLookupFailure(t *testing.T) {
	record := newBroadcastRecord(map[string][]string{"src-a": {"copy-a-1"}})
	getter := &fakeBroadcastGetter{err: errors.New("connection refused")}

	executor := NewExecutor(getter, &fakeCopier{}, &fakeSender{}, testBroadcastLogger())
	err := executor.Execute(context.Background(), record)

	require.Error(t, err)
	assert.True(t, jobqueue.IsRetryable(err))
}

func TestExecutor_ExecuteCopyCountMismatch(t *testing.T) {
	record := newBroadcastRecord(map[string][]string{
		"src-a": {"copy-a-1"},
	})
	getter := &fakeBroadcastGetter{
		broadcast: &Broadcast{
			JobID:        record.ID,
			RecipientIDs: []string{"rcpt-1", "rcpt-2"},
		},
	}
	sender := &fakeSender{}

	executor := NewExecutor(getter, &fakeCopier{}, sender, testBroadcastLogger())
	err := executor.Execute(context.Background(), record)

	require.Error(t, err)
	assert.False(t, jobqueue.IsRetryable(err))
	assert.Empty(t, sender.sent)
}

func TestExecutor_ExecuteSourceAttachmentGone(t *testing.T) {
	record := newBroadcastRecord(map[string][]string{"src-a": {"copy-a-1"}})
	getter := &fakeBroadcastGetter{
		broadcast: &Broadcast{
			JobID:        record.ID,
			RecipientIDs: []string{"rcpt-1"},
		},
	}
	copier := &fakeCopier{errs: map[string]error{"src-a": attachments.ErrNotFound}}

	executor := NewExecutor(getter, copier, &fakeSender{}, testBroadcastLogger())
	err := executor.Execute(context.Background(), record)

	require.Error(t, err)
	assert.ErrorIs(t, err, attachments.ErrNotFound)
	assert.False(t, jobqueue.IsRetryable(err))
}

func TestExecutor_ExecuteCopyFailureRetries(t *testing.T) {
	record := newBroadcastRecord(map[string][]string{"src-a": {"copy-a-1"}})
	getter := &fakeBroadcastGetter{
		broadcast: &Broadcast{
			JobID:        record.ID,
			RecipientIDs: []string{"rcpt-1"},
		},
	}
	copier := &fakeCopier{errs: map[string]error{"src-a": errors.New("disk full")}}

	executor := NewExecutor(getter, copier, &fakeSender{}, testBroadcastLogger())
	err := executor.Execute(context.Background(), record)

	require.Error(t, err)
	assert.True(t, jobqueue.IsRetryable(err))
}

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "server error is retryable",
			err:       &chat.APIError{StatusCode: 503, Message: "overloaded"},
			retryable: true,
		},
		{
			name:      "rate limit is retryable",
			err:       &chat.APIError{StatusCode: 429, Message: "slow down"},
			retryable: true,
		},
		{
			name:      "client rejection is permanent",
			err:       &chat.APIError{StatusCode: 413, Message: "attachment too large"},
			retryable: false,
		},
		{
			name:      "transport failure is retryable",
			err:       errors.New("dial tcp: connection refused"),
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySendError(tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.retryable, jobqueue.IsRetryable(got))
		})
	}
}

func TestExecutor_ExecuteSendFailureStopsFanout(t *testing.T) {
	record := newBroadcastRecord(map[string][]string{
		"src-a": {"copy-a-1", "copy-a-2"},
	})
	getter := &fakeBroadcastGetter{
		broadcast: &Broadcast{
			JobID:        record.ID,
			RecipientIDs: []string{"rcpt-1", "rcpt-2"},
		},
	}
	sender := &fakeSender{
		errs: map[string]error{"rcpt-1": &chat.APIError{StatusCode: 500, Message: "boom"}},
	}

	executor := NewExecutor(getter, &fakeCopier{}, sender, testBroadcastLogger())
	err := executor.Execute(context.Background(), record)

	require.Error(t, err)
	assert.True(t, jobqueue.IsRetryable(err))
	assert.Empty(t, sender.sent)
}
