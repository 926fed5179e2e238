package agent

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrBrandNotReady = errors.New("brand registration not complete")
	ErrNoReports     = errors.New("no reports generated yet")
)

// RemoteError is an error reported by the agent, either as a non-2xx status
// or as an error field in an otherwise successful response.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode >= http.StatusBadRequest:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
}

// Is makes a 404 from the agent match ErrNotFound.
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
