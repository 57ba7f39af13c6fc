package apiclient

import "fmt"

// APIError is an error response from the daemon's RPC surface. Code carries
// the daemon's error code name (UnknownDevice, NotPaired, ...).
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// IsNotFound reports whether the daemon did not know the referenced id.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}
