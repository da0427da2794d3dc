package dto

type SubmitResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

type TaskResponse struct {
	ID               string  `json:"id"`
	TraceID          string  `json:"trace_id"`
	OriginalFilename string  `json:"original_filename"`
	Status           string  `json:"status"`
	Progress         int     `json:"progress"`
	Message          string  `json:"message,omitempty"`
	OriginalSize     string  `json:"original_size,omitempty"`
	NewSize          string  `json:"new_size,omitempty"`
	Reduction        string  `json:"reduction,omitempty"`
	DownloadURL      string  `json:"download_url,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	CreatedAt        string  `json:"created_at"`
	CompletedAt      *string `json:"completed_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
