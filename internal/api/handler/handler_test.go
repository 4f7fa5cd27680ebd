package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/broadcast"
	"github.com/echomsg/gifting-be/internal/gifting"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/jobstore"
	"github.com/echomsg/gifting-be/internal/payments"
)

type fakeFlow struct {
	preview    *gifting.Preview
	previewErr error
	result     *gifting.SendResult
	sendErr    error

	previewCalls int
	sendCalls    int
	lastSendReq  gifting.SendRequest
}

func (f *fakeFlow) Preview(ctx context.Context, recipientID string, badgeLevel uint64, amount payments.Amount, message string) (*gifting.Preview, error) {
	f.previewCalls++
	return f.preview, f.previewErr
}

func (f *fakeFlow) Send(ctx context.Context, req gifting.SendRequest) (*gifting.SendResult, error) {
	f.sendCalls++
	f.lastSendReq = req
	return f.result, f.sendErr
}

type fakeBroadcasts struct {
	record *jobrecord.BroadcastMediaMessageRecord
	err    error

	lastParams broadcast.CreateParams
}

func (f *fakeBroadcasts) Create(ctx context.Context, params broadcast.CreateParams) (*jobrecord.BroadcastMediaMessageRecord, error) {
	f.lastParams = params
	return f.record, f.err
}

type fakeAttachments struct {
	att *attachments.Attachment
	err error

	lastID          string
	lastContentType string
	lastBody        []byte
}

func (f *fakeAttachments) Create(ctx context.Context, id, contentType string, r io.Reader) (*attachments.Attachment, error) {
	f.lastID = id
	f.lastContentType = contentType
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.lastBody = body
	return f.att, f.err
}

type fakeJobs struct {
	rec    jobrecord.Persistable
	getErr error

	records []jobrecord.Persistable
	listErr error

	lastGetID  string
	lastFilter jobstore.ListFilter
}

func (f *fakeJobs) Get(ctx context.Context, id string) (jobrecord.Persistable, error) {
	f.lastGetID = id
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.rec, nil
}

func (f *fakeJobs) List(ctx context.Context, filter jobstore.ListFilter) ([]jobrecord.Persistable, error) {
	f.lastFilter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

type fakeCanceler struct {
	err error

	lastCancelID string
}

func (f *fakeCanceler) Cancel(ctx context.Context, jobID string) error {
	f.lastCancelID = jobID
	return f.err
}

type handlerFixture struct {
	flow        *fakeFlow
	broadcasts  *fakeBroadcasts
	attachments *fakeAttachments
	jobs        *fakeJobs
	canceler    *fakeCanceler
	engine      *gin.Engine
}

func newHandlerFixture() *handlerFixture {
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		flow:        &fakeFlow{},
		broadcasts:  &fakeBroadcasts{},
		attachments: &fakeAttachments{},
		jobs:        &fakeJobs{},
		canceler:    &fakeCanceler{},
	}

	deps := &Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Flow:        f.flow,
		Broadcasts:  f.broadcasts,
		Attachments: f.attachments,
		Jobs:        f.jobs,
		Queue:       f.canceler,
	}

	gifts := NewGiftHandler(deps)
	broadcasts := NewBroadcastHandler(deps)
	jobs := NewJobHandler(deps)

	r := gin.New()
	r.POST("/api/v1/gifts/preview", gifts.PreviewGift)
	r.POST("/api/v1/gifts", gifts.SendGift)
	r.GET("/api/v1/gifts/:job_id", gifts.GetGift)
	r.POST("/api/v1/attachments", broadcasts.UploadAttachment)
	r.POST("/api/v1/broadcasts", broadcasts.CreateBroadcast)
	r.GET("/api/v1/jobs", jobs.ListJobs)
	r.GET("/api/v1/jobs/:job_id", jobs.GetJob)
	r.DELETE("/api/v1/jobs/:job_id", jobs.CancelJob)

	f.engine = r
	return f
}

func (f *handlerFixture) performJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) performRaw(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
