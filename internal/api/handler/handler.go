package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/broadcast"
	"github.com/echomsg/gifting-be/internal/gifting"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/jobstore"
	"github.com/echomsg/gifting-be/internal/payments"
)

// GiftFlow is the donation flow surface the gift handler drives.
type GiftFlow interface {
	Preview(ctx context.Context, recipientID string, badgeLevel uint64, amount payments.Amount, message string) (*gifting.Preview, error)
	Send(ctx context.Context, req gifting.SendRequest) (*gifting.SendResult, error)
}

// BroadcastCreator enqueues broadcast media message jobs.
type BroadcastCreator interface {
	Create(ctx context.Context, params broadcast.CreateParams) (*jobrecord.BroadcastMediaMessageRecord, error)
}

// AttachmentCreator stores uploaded attachment blobs.
type AttachmentCreator interface {
	Create(ctx context.Context, id, contentType string, r io.Reader) (*attachments.Attachment, error)
}

// JobReader inspects stored job records.
type JobReader interface {
	Get(ctx context.Context, id string) (jobrecord.Persistable, error)
	List(ctx context.Context, filter jobstore.ListFilter) ([]jobrecord.Persistable, error)
}

// JobCanceler marks stored job records obsolete so they never run.
type JobCanceler interface {
	Cancel(ctx context.Context, jobID string) error
}

// HealthChecker verifies a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports whether the message broker connection is up.
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	DB          HealthChecker
	Broker      BrokerStatus
	Flow        GiftFlow
	Broadcasts  BroadcastCreator
	Attachments AttachmentCreator
	Jobs        JobReader
	Queue       JobCanceler
}

// GiftHandler handles gift donation HTTP requests
type GiftHandler struct {
	logger *slog.Logger
	flow   GiftFlow
	jobs   JobReader
}

// NewGiftHandler creates a new GiftHandler instance
func NewGiftHandler(deps *Dependencies) *GiftHandler {
	return &GiftHandler{
		logger: deps.Logger,
		flow:   deps.Flow,
		jobs:   deps.Jobs,
	}
}

// BroadcastHandler handles broadcast and attachment HTTP requests
type BroadcastHandler struct {
	logger      *slog.Logger
	broadcasts  BroadcastCreator
	attachments AttachmentCreator
}

// NewBroadcastHandler creates a new BroadcastHandler instance
func NewBroadcastHandler(deps *Dependencies) *BroadcastHandler {
	return &BroadcastHandler{
		logger:      deps.Logger,
		broadcasts:  deps.Broadcasts,
		attachments: deps.Attachments,
	}
}

// JobHandler handles job-record inspection and cancelation HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobReader
	queue  JobCanceler
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
		queue:  deps.Queue,
	}
}
