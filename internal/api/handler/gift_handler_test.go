package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echomsg/gifting-be/internal/api/dto"
	"github.com/echomsg/gifting-be/internal/gifting"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/jobstore"
	"github.com/echomsg/gifting-be/internal/payments"
	"github.com/echomsg/gifting-be/internal/recipients"
)

func previewRequestBody() dto.PreviewGiftRequest {
	return dto.PreviewGiftRequest{
		RecipientID: "rcpt-1",
		BadgeLevel:  10,
		Amount:      dto.AmountDTO{CurrencyCode: "usd", MinorUnits: 500},
		Message:     "happy birthday",
	}
}

func sendRequestBody() dto.SendGiftRequest {
	return dto.SendGiftRequest{
		RecipientID:          "rcpt-1",
		BadgeLevel:           10,
		Amount:               dto.AmountDTO{CurrencyCode: "usd", MinorUnits: 500},
		Message:              "happy birthday",
		PaymentToken:         "tok-visa",
		ConfirmedIdentityKey: "ik-current",
	}
}

func TestPreviewGift(t *testing.T) {
	f := newHandlerFixture()
	f.flow.preview = &gifting.Preview{
		RecipientID:         "rcpt-1",
		DisplayName:         "Alex",
		BadgeLevel:          10,
		Amount:              payments.NewAmount("USD", 500),
		DisplayAmount:       "USD 500",
		Message:             "happy birthday",
		MessageTimerSeconds: 3600,
		IdentityKey:         "ik-current",
	}

	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts/preview", previewRequestBody())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.flow.previewCalls)

	body := decodeBody(t, w)
	assert.Equal(t, "Alex", body["display_name"])
	assert.Equal(t, "USD 500", body["display_amount"])
	assert.Equal(t, "ik-current", body["identity_key"])
	assert.Equal(t, float64(3600), body["message_timer_seconds"])
}

func TestPreviewGift_InvalidBody(t *testing.T) {
	f := newHandlerFixture()

	req := previewRequestBody()
	req.RecipientID = ""
	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts/preview", req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.flow.previewCalls)
}

func TestPreviewGift_InvalidAmount(t *testing.T) {
	f := newHandlerFixture()

	req := previewRequestBody()
	req.Amount.CurrencyCode = "us"
	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts/preview", req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.flow.previewCalls)
}

func TestPreviewGift_RecipientNotFound(t *testing.T) {
	f := newHandlerFixture()
	f.flow.previewErr = fmt.Errorf("failed to resolve recipient: %w", recipients.ErrNotFound)

	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts/preview", previewRequestBody())

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendGift(t *testing.T) {
	f := newHandlerFixture()
	f.flow.result = &gifting.SendResult{
		JobID:   "3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01",
		Status:  gifting.SendCompleted,
		Charged: true,
	}

	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts", sendRequestBody())

	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01", body["job_id"])
	assert.Equal(t, string(gifting.SendCompleted), body["status"])
	assert.Equal(t, true, body["charged"])

	// The handler normalizes the currency before handing off.
	assert.Equal(t, 1, f.flow.sendCalls)
	assert.Equal(t, "rcpt-1", f.flow.lastSendReq.RecipientID)
	assert.Equal(t, payments.Amount{CurrencyCode: "USD", MinorUnits: 500}, f.flow.lastSendReq.Amount)
	assert.Equal(t, "tok-visa", f.flow.lastSendReq.PaymentToken)
	assert.Equal(t, "ik-current", f.flow.lastSendReq.ConfirmedIdentityKey)
}

func TestSendGift_Pending(t *testing.T) {
	f := newHandlerFixture()
	f.flow.result = &gifting.SendResult{
		JobID:   "3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01",
		Status:  gifting.SendPending,
		Charged: false,
	}

	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts", sendRequestBody())

	require.Equal(t, http.StatusAccepted, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, string(gifting.SendPending), body["status"])
}

func TestSendGift_InvalidBody(t *testing.T) {
	f := newHandlerFixture()

	req := sendRequestBody()
	req.PaymentToken = ""
	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts", req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.flow.sendCalls)
}

func TestSendGift_ErrorMapping(t *testing.T) {
	failedResult := &gifting.SendResult{
		JobID:  "3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01",
		Status: gifting.SendFailed,
	}

	tests := []struct {
		name       string
		sendErr    error
		result     *gifting.SendResult
		wantStatus int
		wantCode   string
	}{
		{
			name:       "safety number changed",
			sendErr:    &gifting.SafetyNumberChangedError{RecipientID: "rcpt-1", IdentityKey: "ik-new"},
			wantStatus: http.StatusConflict,
			wantCode:   "safety_number_changed",
		},
		{
			name:       "gift already in flight",
			sendErr:    gifting.ErrGiftInFlight,
			wantStatus: http.StatusConflict,
			wantCode:   "gift_in_flight",
		},
		{
			name:       "recipient blocked",
			sendErr:    gifting.ErrRecipientBlocked,
			wantStatus: http.StatusForbidden,
			wantCode:   "recipient_blocked",
		},
		{
			name:       "recipient cannot receive gifts",
			sendErr:    gifting.ErrRecipientCannotReceiveGifts,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "cannot_receive_gifts",
		},
		{
			name:       "user canceled",
			sendErr:    gifting.ErrUserCanceled,
			wantStatus: http.StatusBadRequest,
			wantCode:   "user_canceled",
		},
		{
			name:       "charge outcome unknown",
			sendErr:    gifting.ErrChargeOutcomeUnknown,
			result:     failedResult,
			wantStatus: http.StatusBadGateway,
			wantCode:   "charge_outcome_unknown",
		},
		{
			name:       "send failed after charge",
			sendErr:    gifting.ErrSendFailedAfterCharge,
			result:     failedResult,
			wantStatus: http.StatusBadGateway,
			wantCode:   "send_failed_after_charge",
		},
		{
			name:       "recipient not found",
			sendErr:    fmt.Errorf("failed to resolve recipient: %w", recipients.ErrNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unexpected error",
			sendErr:    errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture()
			f.flow.sendErr = tt.sendErr
			f.flow.result = tt.result

			w := f.performJSON(t, http.MethodPost, "/api/v1/gifts", sendRequestBody())

			require.Equal(t, tt.wantStatus, w.Code)

			body := decodeBody(t, w)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestSendGift_SafetyNumberConflictCarriesKey(t *testing.T) {
	f := newHandlerFixture()
	f.flow.sendErr = &gifting.SafetyNumberChangedError{RecipientID: "rcpt-1", IdentityKey: "ik-new"}

	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts", sendRequestBody())

	require.Equal(t, http.StatusConflict, w.Code)

	// The client resubmits with this key after the donor re-confirms.
	body := decodeBody(t, w)
	assert.Equal(t, "ik-new", body["identity_key"])
	assert.Equal(t, "rcpt-1", body["recipient_id"])
}

func TestSendGift_FailureAfterChargeReportsJob(t *testing.T) {
	f := newHandlerFixture()
	f.flow.sendErr = gifting.ErrSendFailedAfterCharge
	f.flow.result = &gifting.SendResult{
		JobID:   "3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01",
		Status:  gifting.SendFailed,
		Charged: true,
	}

	w := f.performJSON(t, http.MethodPost, "/api/v1/gifts", sendRequestBody())

	require.Equal(t, http.StatusBadGateway, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01", body["job_id"])
	assert.Equal(t, true, body["charged"])
}

func TestGetGift(t *testing.T) {
	f := newHandlerFixture()

	record := jobrecord.NewGiftSend(jobrecord.GiftSendParams{
		RecipientID:      "rcpt-1",
		BadgeLevel:       10,
		CurrencyCode:     "USD",
		AmountMinorUnits: 500,
	})
	f.jobs.rec = record

	w := f.performJSON(t, http.MethodGet, "/api/v1/gifts/"+record.ID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, record.ID, f.jobs.lastGetID)

	body := decodeBody(t, w)
	assert.Equal(t, record.ID, body["job_id"])
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "rcpt-1", body["recipient_id"])

	amount, ok := body["amount"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "USD", amount["currency_code"])
	assert.Equal(t, float64(500), amount["minor_units"])
}

func TestGetGift_InvalidID(t *testing.T) {
	f := newHandlerFixture()

	w := f.performJSON(t, http.MethodGet, "/api/v1/gifts/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.jobs.lastGetID)
}

func TestGetGift_NotFound(t *testing.T) {
	f := newHandlerFixture()
	f.jobs.getErr = jobstore.ErrRecordNotFound

	w := f.performJSON(t, http.MethodGet, "/api/v1/gifts/3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetGift_WrongRecordType(t *testing.T) {
	f := newHandlerFixture()
	f.jobs.rec = jobrecord.NewBroadcastMediaMessage(map[string][]string{"src": {"copy"}})

	w := f.performJSON(t, http.MethodGet, "/api/v1/gifts/3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetGift_StorageFailure(t *testing.T) {
	f := newHandlerFixture()
	f.jobs.getErr = errors.New("connection refused")

	w := f.performJSON(t, http.MethodGet, "/api/v1/gifts/3e8e0f4e-54a7-4b39-9f3b-6e5c2e4fdc01", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
