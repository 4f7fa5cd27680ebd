// Package jobrecord defines the durable job record types and their status
// lifecycle. Records are plain values; persistence is handled by the job
// store, which applies every mutation under a caller-supplied transaction.
package jobrecord

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job record.
type Status int

const (
	StatusUnknown Status = iota
	StatusReady
	StatusRunning
	StatusPermanentlyFailed
	StatusObsolete
)

// String returns the lowercase name used in logs and API responses.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusPermanentlyFailed:
		return "permanently_failed"
	case StatusObsolete:
		return "obsolete"
	default:
		return "unknown"
	}
}

// ParseStatus maps a lowercase status name back to its value. Unrecognized
// names report false.
func ParseStatus(name string) (Status, bool) {
	switch name {
	case "ready":
		return StatusReady, true
	case "running":
		return StatusRunning, true
	case "permanently_failed":
		return StatusPermanentlyFailed, true
	case "obsolete":
		return StatusObsolete, true
	default:
		return StatusUnknown, false
	}
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusPermanentlyFailed || s == StatusObsolete
}

// Record is the base descriptor of a deferred background task. Concrete job
// kinds embed it and add their own payload fields; Label discriminates the
// kind when decoding a stored record.
type Record struct {
	ID                 string  `json:"id"`
	Label              string  `json:"label"`
	Status             Status  `json:"status"`
	FailureCount       uint64  `json:"failure_count"`
	ExclusiveProcessID *string `json:"exclusive_process_id,omitempty"`

	// SortID is the insertion-order sort key assigned by the store; it is
	// kept on the row, not in the serialized value.
	SortID uint64 `json:"-"`
}

// New creates a record in StatusReady with a fresh id.
func New(label string) Record {
	return Record{
		ID:     uuid.New().String(),
		Label:  label,
		Status: StatusReady,
	}
}

// Base returns the embedded base record. It makes Record and every type
// embedding it satisfy Persistable.
func (r *Record) Base() *Record { return r }

// Start moves the record from Ready to Running. Any other starting status is
// an illegal transition.
func (r *Record) Start() error {
	if r.Status != StatusReady {
		return fmt.Errorf("%w: cannot start %s job %s from status %s",
			ErrIllegalStateTransition, r.Label, r.ID, r.Status)
	}
	r.Status = StatusRunning
	return nil
}

// RevertToReady moves a Running record back to Ready so it can be retried.
func (r *Record) RevertToReady() error {
	if r.Status != StatusRunning {
		return fmt.Errorf("%w: cannot revert %s job %s to ready from status %s",
			ErrIllegalStateTransition, r.Label, r.ID, r.Status)
	}
	r.Status = StatusReady
	return nil
}

// MarkPermanentlyFailed is a terminal override and applies from any status.
func (r *Record) MarkPermanentlyFailed() {
	r.Status = StatusPermanentlyFailed
}

// MarkObsolete is a terminal override and applies from any status.
func (r *Record) MarkObsolete() {
	r.Status = StatusObsolete
}

// AddFailure increments the failure counter of a Running record. The counter
// saturates at the maximum representable value instead of wrapping.
func (r *Record) AddFailure() error {
	if r.Status != StatusRunning {
		return fmt.Errorf("%w: cannot record failure for %s job %s in status %s",
			ErrIllegalStateTransition, r.Label, r.ID, r.Status)
	}
	if r.FailureCount < math.MaxUint64 {
		r.FailureCount++
	}
	return nil
}

// Persistable is satisfied by every record kind the store can persist.
type Persistable interface {
	Base() *Record
}

// Decode unmarshals a stored record value into its concrete type based on
// label. Unknown labels decode as a base Record so that records written by a
// newer build still load.
func Decode(label string, value []byte) (Persistable, error) {
	switch label {
	case LabelBroadcastMediaMessage:
		var rec BroadcastMediaMessageRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", label, err)
		}
		return &rec, nil

	case LabelSendGiftBadge:
		var rec GiftSendRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", label, err)
		}
		return &rec, nil

	default:
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record with label %q: %w", label, err)
		}
		return &rec, nil
	}
}
