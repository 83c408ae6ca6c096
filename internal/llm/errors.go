package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyResponse      = errors.New("llm returned an empty response")
	ErrCancelled          = errors.New("llm call cancelled")
	ErrMalformedEmbedding = errors.New("embedding has unexpected shape")
	ErrUnsupported        = errors.New("operation not supported by provider")
	ErrNoProvider         = errors.New("provider not configured")
)

// StatusError is returned by adapters that talk HTTP directly.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// UpstreamError is the terminal error of a wrapped call. It records how many
// attempts were made and what the last failure looked like.
type UpstreamError struct {
	Op         string
	Provider   string
	Attempts   int
	StatusCode int
	Code       string
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s via %s failed after %d attempt", e.Op, e.Provider, e.Attempts)
	if e.Attempts != 1 {
		b.WriteByte('s')
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error { return e.Err }
