package model

// ConvertResponse is returned by POST /api/convert
type ConvertResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// JobStatusResponse is returned by GET /api/jobs/:id
type JobStatusResponse struct {
	JobID         string    `json:"jobId"`
	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// DeleteJobResponse is returned by DELETE /api/jobs/:id
type DeleteJobResponse struct {
	Success bool `json:"success"`
}

// HTMLToPDFRequest is the body of POST /api/html-to-pdf
type HTMLToPDFRequest struct {
	HTML     string `json:"html" validate:"required,max=5242880"`
	Filename string `json:"filename" validate:"omitempty,max=255"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}
