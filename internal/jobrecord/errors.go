package jobrecord

import "errors"

var (
	// ErrIllegalStateTransition is returned when a status mutation is not
	// permitted from the record's current status. Callers must treat it as a
	// caller bug, not as a transient condition.
	ErrIllegalStateTransition = errors.New("illegal job record state transition")
)
