package xmapi

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	// ErrRetriesExhausted is returned when a transient status outlived the
	// configured retry bounds.
	ErrRetriesExhausted = errors.New("xmapi: retries exhausted")
	ErrTransport        = errors.New("xmapi: request failed")
)

// APIError is the error body the platform sends with non-2xx responses.
// Code is kept as text because the platform sends it as a number or a string.
type APIError struct {
	Status  int
	URL     string
	Code    string
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("response - code: %s, reason: %s, message: %s, status: %d, url: %s",
		orNone(e.Code), orNone(e.Reason), orNone(e.Message), e.Status, e.URL)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func parseAPIError(status int, url string, body []byte) *APIError {
	apiErr := &APIError{Status: status, URL: url}
	if len(body) == 0 {
		return apiErr
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		apiErr.Message = truncate(strings.TrimSpace(string(body)), 512)
		return apiErr
	}
	fields := gjson.GetManyBytes(body, "code", "reason", "message")
	apiErr.Code = fields[0].String()
	apiErr.Reason = fields[1].String()
	apiErr.Message = fields[2].String()
	return apiErr
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s[:maxBytes])
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}
