package upstream

import (
	"errors"
	"fmt"
)

// APIError represents a failure reported by the marketing API or the
// transport beneath it. Temporary errors are eligible for the read-path
// retry policy; permanent errors are not.
type APIError struct {
	Code       int
	Type       string
	Message    string
	HTTPStatus int
	Temporary  bool
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream error (%s #%d): %s", e.Type, e.Code, e.Message)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("upstream HTTP %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("upstream error: %s", e.Message)
}

// IsTemporary reports whether the error is worth retrying.
// Unknown errors are assumed temporary.
func IsTemporary(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Temporary
	}
	return true
}
