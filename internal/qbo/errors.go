package qbo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuthExpired marks a failed token refresh or a rejected grant. Callers
// surface it to the operator instead of retrying.
var ErrAuthExpired = errors.New("qbo: authorization expired")

// ErrRateLimited marks a throttled request that exhausted its retries.
var ErrRateLimited = errors.New("qbo: rate limited")

// Fault is the error envelope the ledger API returns on 4xx responses.
type Fault struct {
	Type   string       `json:"type"`
	Errors []FaultError `json:"Error"`
}

type FaultError struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
	Element string `json:"element,omitempty"`
}

func (f Fault) String() string {
	if len(f.Errors) == 0 {
		return f.Type
	}
	parts := make([]string, 0, len(f.Errors))
	for _, e := range f.Errors {
		msg := e.Message
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		if e.Code != "" {
			msg += " (code " + e.Code + ")"
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// APIError is a non-retryable response from the ledger API.
type APIError struct {
	StatusCode int
	Fault      Fault
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qbo: api error %d: %s", e.StatusCode, e.Fault.String())
}
