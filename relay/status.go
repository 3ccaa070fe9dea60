package relay

import "net/http"

// Status is the outcome of one relay call. Transport failures never surface as Go
// errors; they collapse into StatusTransient.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusTransient
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusTransient:
		return "transient"
	case StatusPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// OK reports success.
func (s Status) OK() bool {
	return s == StatusOK
}

// Retryable reports whether repeating the same call may succeed.
func (s Status) Retryable() bool {
	return s == StatusTransient
}

func statusFromHTTP(code int) Status {
	switch {
	case code >= 200 && code <= 399:
		return StatusOK
	case code == http.StatusNotFound || code == http.StatusGone:
		return StatusNotFound
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return StatusTransient
	default:
		return StatusPermanent
	}
}
