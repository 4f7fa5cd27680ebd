package dto

type CreateBroadcastRequest struct {
	Body          string   `json:"body"`
	RecipientIDs  []string `json:"recipient_ids" binding:"required"`
	AttachmentIDs []string `json:"attachment_ids" binding:"required"`
}

type CreateBroadcastResponse struct {
	JobID           string              `json:"job_id"`
	AttachmentIDMap map[string][]string `json:"attachment_id_map"`
}

type UploadAttachmentResponse struct {
	AttachmentID string `json:"attachment_id"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
}
