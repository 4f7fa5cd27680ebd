package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/echomsg/gifting-be/internal/api/dto"
	"github.com/echomsg/gifting-be/internal/jobrecord"
	"github.com/echomsg/gifting-be/internal/jobstore"
)

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the status of a stored job record
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	rec, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	base := rec.Base()
	c.JSON(http.StatusOK, dto.JobDTO{
		JobID:        base.ID,
		Label:        base.Label,
		Status:       base.Status.String(),
		FailureCount: base.FailureCount,
	})
}

// CancelJob handles DELETE /api/v1/jobs/:job_id
// Marks a stored job record obsolete so no worker will run it. Canceling an
// already-terminal record is a no-op, which keeps retried cancels idempotent.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.queue.Cancel(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, jobstore.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListJobs handles GET /api/v1/jobs
// Lists job records with optional label/status filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	var status *jobrecord.Status
	if req.Status != "" {
		parsed, ok := jobrecord.ParseStatus(req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid status filter",
			})
			return
		}
		status = &parsed
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := jobstore.ListFilter{
		Label:    req.Label,
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	records, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(records) > req.PageSize
	if hasMore {
		records = records[:req.PageSize]
	}

	jobs := make([]dto.JobDTO, len(records))
	for i, rec := range records {
		base := rec.Base()
		jobs[i] = dto.JobDTO{
			JobID:        base.ID,
			Label:        base.Label,
			Status:       base.Status.String(),
			FailureCount: base.FailureCount,
		}
	}

	var nextCursor string
	if hasMore {
		last := records[len(records)-1].Base()
		nextCursor = EncodeJobCursor(&jobstore.Cursor{SortID: last.SortID})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: nextCursor,
	})
}
