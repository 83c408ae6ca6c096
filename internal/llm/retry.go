package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// RetryPolicy waits BaseDelay*n before attempt n+1.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Delay returns the wait after the given (1-based) failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

func (p RetryPolicy) attempts() int {
	return max(p.MaxAttempts, 1)
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusConflict:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableCodes = map[string]bool{
	"ECONNRESET":   true,
	"ETIMEDOUT":    true,
	"ECONNREFUSED": true,
	"EPIPE":        true,
	"EAI_AGAIN":    true,
}

var transientMessage = regexp.MustCompile(`(?i)timeout|timed out|quota|rate limit|rate_limit|too many requests|overloaded`)

// Failure is the classification of a single failed attempt.
type Failure struct {
	StatusCode int
	Code       string
	Retryable  bool
}

// Classify decides whether err is worth another attempt. Cancellation is
// never retryable; callers check the context before classifying.
func Classify(err error) Failure {
	f := Failure{
		StatusCode: statusCode(err),
		Code:       errorCode(err),
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		f.Retryable = false
	case errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrMalformedEmbedding), errors.Is(err, ErrUnsupported):
		f.Retryable = false
	case retryableStatus[f.StatusCode], retryableCodes[f.Code]:
		f.Retryable = true
	default:
		f.Retryable = transientMessage.MatchString(err.Error())
	}
	return f
}

func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

func statusCode(err error) int {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode
	}
	var anth *anthropic.Error
	if errors.As(err, &anth) {
		return anth.StatusCode
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func errorCode(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return "ECONNRESET"
		case syscall.ETIMEDOUT:
			return "ETIMEDOUT"
		case syscall.ECONNREFUSED:
			return "ECONNREFUSED"
		case syscall.EPIPE:
			return "EPIPE"
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return "EAI_AGAIN"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		return "ETIMEDOUT"
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
