package gifting

import (
	"errors"
	"fmt"
)

var (
	// ErrRecipientBlocked rejects gifts to recipients the donor has blocked.
	ErrRecipientBlocked = errors.New("recipient is blocked")

	// ErrRecipientCannotReceiveGifts rejects recipients whose profile does
	// not advertise the gift capability.
	ErrRecipientCannotReceiveGifts = errors.New("recipient cannot receive gifts")

	// ErrGiftInFlight rejects a second gift to a recipient while an earlier
	// one is still pending or running.
	ErrGiftInFlight = errors.New("a gift to this recipient is already in flight")

	// ErrUserCanceled reports that the donor abandoned the flow before the
	// job was durably enqueued. Nothing was charged.
	ErrUserCanceled = errors.New("gift send canceled")

	// ErrChargeOutcomeUnknown reports a failed gift job where the charge was
	// never observed to succeed. The donor may or may not have been charged.
	ErrChargeOutcomeUnknown = errors.New("gift failed, charge outcome unknown")

	// ErrSendFailedAfterCharge reports a failed gift job after the charge
	// went through. The donor paid but the recipient got nothing.
	ErrSendFailedAfterCharge = errors.New("charge succeeded but the gift message failed to send")
)

// SafetyNumberChangedError reports that the recipient's identity key no
// longer matches the one the donor confirmed. The donor has to review the
// new identity and resubmit with it before any money moves.
type SafetyNumberChangedError struct {
	RecipientID string
	IdentityKey string
}

func (e *SafetyNumberChangedError) Error() string {
	return fmt.Sprintf("safety number changed for recipient %s", e.RecipientID)
}
