package bitfinex

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrConnection wraps transport failures (refused, reset, timeout).
var ErrConnection = errors.New("bitfinex: connection error")

// APIError is a non-success response after retries were exhausted.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitfinex: http %d: %s", e.Status, e.Message)
}

func (e *APIError) contains(sub string) bool {
	return strings.Contains(strings.ToLower(e.Message), strings.ToLower(sub))
}

func (e *APIError) rateLimited() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	return e.contains("ratelimit") || e.contains("err_rate_limit")
}

func newAPIError(status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	}
	return &APIError{Status: status, Message: msg}
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func IsRateLimit(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.rateLimited()
}

// IsOrderNotFound reports the status lookup lag the exchange is known for.
func IsOrderNotFound(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.contains("no such order found")
}

// IsNotCancellable reports the benign race between a cancel and a fill.
func IsNotCancellable(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.contains("order could not be cancelled")
}

func IsInsufficientBalance(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.contains("not enough")
}
