package remote

import "fmt"

// UnavailableError indicates a collaborator service could not be reached at
// the transport level (connection refused, DNS failure, timeout).
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s service unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// StatusError indicates a collaborator was reachable but answered with a
// non-2xx status or an undecodable payload.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s service returned status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s service returned malformed response: %s", e.Service, e.Message)
}
