package dto

type ListJobsRequest struct {
	Label    string `form:"label"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	Label        string `json:"label"`
	Status       string `json:"status"`
	FailureCount uint64 `json:"failure_count"`
}
