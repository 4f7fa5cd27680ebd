package jobrecord

// LabelSendGiftBadge marks records for the gift badge send job, which charges
// the prepared payment method and delivers the gift message.
const LabelSendGiftBadge = "SendGiftBadge"

// GiftSendRecord carries everything the worker needs to finish a gift after
// the donor confirmed: the prepared payment intent and method, the recipient,
// the badge, and the optional message text.
type GiftSendRecord struct {
	Record
	RecipientID               string `json:"recipient_id"`
	BadgeLevel                uint64 `json:"badge_level"`
	CurrencyCode              string `json:"currency_code"`
	AmountMinorUnits          int64  `json:"amount_minor_units"`
	Message                   string `json:"message,omitempty"`
	PaymentIntentID           string `json:"payment_intent_id"`
	PaymentIntentClientSecret string `json:"payment_intent_client_secret"`
	PaymentMethodID           string `json:"payment_method_id"`
}

// GiftSendParams are the inputs for a new gift send record.
type GiftSendParams struct {
	RecipientID               string
	BadgeLevel                uint64
	CurrencyCode              string
	AmountMinorUnits          int64
	Message                   string
	PaymentIntentID           string
	PaymentIntentClientSecret string
	PaymentMethodID           string
}

// NewGiftSend creates a ready record from params.
func NewGiftSend(params GiftSendParams) *GiftSendRecord {
	return &GiftSendRecord{
		Record:                    New(LabelSendGiftBadge),
		RecipientID:               params.RecipientID,
		BadgeLevel:                params.BadgeLevel,
		CurrencyCode:              params.CurrencyCode,
		AmountMinorUnits:          params.AmountMinorUnits,
		Message:                   params.Message,
		PaymentIntentID:           params.PaymentIntentID,
		PaymentIntentClientSecret: params.PaymentIntentClientSecret,
		PaymentMethodID:           params.PaymentMethodID,
	}
}
