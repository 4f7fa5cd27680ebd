package dto

type AmountDTO struct {
	CurrencyCode string `json:"currency_code" binding:"required"`
	MinorUnits   int64  `json:"minor_units" binding:"required"`
}

type PreviewGiftRequest struct {
	RecipientID string    `json:"recipient_id" binding:"required"`
	BadgeLevel  uint64    `json:"badge_level" binding:"required"`
	Amount      AmountDTO `json:"amount" binding:"required"`
	Message     string    `json:"message"`
}

type SendGiftRequest struct {
	RecipientID string    `json:"recipient_id" binding:"required"`
	BadgeLevel  uint64    `json:"badge_level" binding:"required"`
	Amount      AmountDTO `json:"amount" binding:"required"`
	Message     string    `json:"message"`

	// PaymentToken is the tokenized card or wallet payment from the
	// client's payment sheet.
	PaymentToken string `json:"payment_token" binding:"required"`

	// ConfirmedIdentityKey is the recipient identity key the donor saw at
	// confirmation. Omitting it on the first submit is fine; the safety
	// number conflict response carries the key to confirm.
	ConfirmedIdentityKey string `json:"confirmed_identity_key"`
}

type SendGiftResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Charged bool   `json:"charged"`
}
