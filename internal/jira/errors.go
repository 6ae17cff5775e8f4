package jira

import (
	"fmt"
	"net/http"
)

// StatusError is returned when Jira answers with a non-200 status.
type StatusError struct {
	Code       int
	RetryAfter string
	Resource   string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("Jira authentication failed (%d) for %s. Please check your credentials.", e.Code, e.Resource)
	case http.StatusTooManyRequests:
		if e.RetryAfter != "" {
			return fmt.Sprintf("Jira rate limit exceeded (429). Retry after %s seconds.", e.RetryAfter)
		}
		return "Jira rate limit exceeded (429)."
	case http.StatusNotFound:
		return fmt.Sprintf("%s not found", e.Resource)
	default:
		return fmt.Sprintf("Jira API returned status %d for %s", e.Code, e.Resource)
	}
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
