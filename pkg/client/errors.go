package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors returned by the client.
var (
	// ErrRetryExhausted is returned when all attempts failed with retriable errors.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrCircuitOpen is returned while the circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("upstream circuit open")

	// ErrRateLimited is returned when the local quota tracker refuses a request.
	ErrRateLimited = errors.New("upstream quota exhausted")

	// ErrDecode is returned for response bodies that are not a game listing.
	ErrDecode = errors.New("decode upstream response")

	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("page must be >= 1")
)

// ErrorClass groups upstream failures for retry decisions and metrics.
type ErrorClass string

const (
	// ErrorClassClient is a 4xx other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer is a 5xx.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit is a 429.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork is a transport error or timeout.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode is a 200 whose body is not a game listing.
	ErrorClassDecode ErrorClass = "decode"
)

// UpstreamError is a failed response from the aggregator.
type UpstreamError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	// RetryAfter is the delay upstream asked for, if any.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP error status to its class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classify returns the class of an attempt error.
func classify(err error) ErrorClass {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.ErrorClass
	}
	return ErrorClassNetwork
}

// shouldRetry reports whether errors of a class are worth another attempt.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
