package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/echomsg/gifting-be/internal/api/dto"
	"github.com/echomsg/gifting-be/internal/attachments"
	"github.com/echomsg/gifting-be/internal/broadcast"
)

// CreateBroadcast handles POST /api/v1/broadcasts
// Plans per-recipient attachment copies and enqueues the fan-out job
func (h *BroadcastHandler) CreateBroadcast(c *gin.Context) {
	var req dto.CreateBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if len(req.RecipientIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "recipient_ids must not be empty",
		})
		return
	}
	if len(req.AttachmentIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "attachment_ids must not be empty",
		})
		return
	}

	record, err := h.broadcasts.Create(c.Request.Context(), broadcast.CreateParams{
		Body:          req.Body,
		RecipientIDs:  req.RecipientIDs,
		AttachmentIDs: req.AttachmentIDs,
	})
	if err != nil {
		if errors.Is(err, attachments.ErrNotFound) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": err.Error(),
				"code":  "unknown_attachment",
			})
			return
		}
		h.logger.Error("Failed to create broadcast", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create broadcast",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateBroadcastResponse{
		JobID:           record.ID,
		AttachmentIDMap: record.AttachmentIDMap,
	})
}

// UploadAttachment handles POST /api/v1/attachments
// Stores the raw request body as a source attachment blob
func (h *BroadcastHandler) UploadAttachment(c *gin.Context) {
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att, err := h.attachments.Create(c.Request.Context(), uuid.NewString(), contentType, c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to store attachment", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store attachment",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.UploadAttachmentResponse{
		AttachmentID: att.ID,
		ContentType:  att.ContentType,
		SizeBytes:    att.SizeBytes,
	})
}
