package handlers

// APIError is the problem body returned for classified failures. It
// implements huma.StatusError so handlers can return it directly.
type APIError struct {
	Status     int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`

	// Set for rate limiting.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// Set for quota rejection.
	Requested *int64 `json:"requested,omitempty"`
	Remaining *int64 `json:"remaining,omitempty"`
	Allotment *int64 `json:"allotment,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int {
	return e.Status
}
