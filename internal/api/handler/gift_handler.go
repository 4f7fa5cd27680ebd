package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/echomsg/gifting-be/internal/api/dto"
	"github.com/echomsg/gifting-be/internal/gifting"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/jobstore"
	"github.com/echomsg/gifting-be/internal/payments"
	"github.com/echomsg/gifting-be/internal/recipients"
)

// PreviewGift handles POST /api/v1/gifts/preview
// Builds the confirmation summary the donor reviews before paying
func (h *GiftHandler) PreviewGift(c *gin.Context) {
	var req dto.PreviewGiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	amount := payments.NewAmount(req.Amount.CurrencyCode, req.Amount.MinorUnits)
	if err := amount.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	preview, err := h.flow.Preview(c.Request.Context(), req.RecipientID, req.BadgeLevel, amount, req.Message)
	if err != nil {
		h.respondFlowError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, preview)
}

// SendGift handles POST /api/v1/gifts
// Runs the donation and reports how it resolved
func (h *GiftHandler) SendGift(c *gin.Context) {
	var req dto.SendGiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	amount := payments.NewAmount(req.Amount.CurrencyCode, req.Amount.MinorUnits)
	if err := amount.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	result, err := h.flow.Send(c.Request.Context(), gifting.SendRequest{
		RecipientID:          req.RecipientID,
		BadgeLevel:           req.BadgeLevel,
		Amount:               amount,
		Message:              req.Message,
		PaymentToken:         req.PaymentToken,
		ConfirmedIdentityKey: req.ConfirmedIdentityKey,
	})
	if err != nil {
		h.respondFlowError(c, err, result)
		return
	}

	status := http.StatusOK
	if result.Status == gifting.SendPending {
		status = http.StatusAccepted
	}
	c.JSON(status, dto.SendGiftResponse{
		JobID:   result.JobID,
		Status:  string(result.Status),
		Charged: result.Charged,
	})
}

// GetGift handles GET /api/v1/gifts/:job_id
// A finished gift job is removed from the store, so 404 covers both unknown
// and already-completed jobs
func (h *GiftHandler) GetGift(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	rec, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "gift job not found",
			})
			return
		}
		h.logger.Error("Failed to get gift job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get gift job",
		})
		return
	}

	record, ok := rec.(*jobrecord.GiftSendRecord)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "gift job not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":        record.ID,
		"status":        record.Status.String(),
		"failure_count": record.FailureCount,
		"recipient_id":  record.RecipientID,
		"badge_level":   record.BadgeLevel,
		"amount": gin.H{
			"currency_code": record.CurrencyCode,
			"minor_units":   record.AmountMinorUnits,
		},
	})
}

// respondFlowError maps every donation flow error to its own status and code
// so clients can present distinct messaging per case.
func (h *GiftHandler) respondFlowError(c *gin.Context, err error, result *gifting.SendResult) {
	var changed *gifting.SafetyNumberChangedError
	switch {
	case errors.As(err, &changed):
		c.JSON(http.StatusConflict, gin.H{
			"error":        changed.Error(),
			"code":         "safety_number_changed",
			"recipient_id": changed.RecipientID,
			"identity_key": changed.IdentityKey,
		})
	case errors.Is(err, gifting.ErrGiftInFlight):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"code":  "gift_in_flight",
		})
	case errors.Is(err, gifting.ErrRecipientBlocked):
		c.JSON(http.StatusForbidden, gin.H{
			"error": err.Error(),
			"code":  "recipient_blocked",
		})
	case errors.Is(err, gifting.ErrRecipientCannotReceiveGifts):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
			"code":  "cannot_receive_gifts",
		})
	case errors.Is(err, gifting.ErrUserCanceled):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  "user_canceled",
		})
	case errors.Is(err, gifting.ErrChargeOutcomeUnknown):
		body := gin.H{
			"error": err.Error(),
			"code":  "charge_outcome_unknown",
		}
		if result != nil {
			body["job_id"] = result.JobID
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, gifting.ErrSendFailedAfterCharge):
		body := gin.H{
			"error":   err.Error(),
			"code":    "send_failed_after_charge",
			"charged": true,
		}
		if result != nil {
			body["job_id"] = result.JobID
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, recipients.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "recipient not found",
		})
	default:
		h.logger.Error("Gift request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process gift",
		})
	}
}
