package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnavailable       = errors.New("backend unavailable")
	ErrMalformedResponse = errors.New("malformed backend response")
	ErrStreamIncomplete  = errors.New("stream ended before completion")
)

type HTTPError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if msg == "" {
		msg = "http error"
	}
	return fmt.Sprintf("http error: status=%d message=%s", e.StatusCode, msg)
}

// Is lets server-side failures match ErrUnavailable.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnavailable && e != nil && e.StatusCode >= 500
}

func parseHTTPError(status int, raw []byte) error {
	body := strings.TrimSpace(string(raw))

	var env struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		msg := strings.TrimSpace(env.Error)
		if s, ok := env.Detail.(string); ok && strings.TrimSpace(s) != "" {
			msg = strings.TrimSpace(s)
		}
		if msg != "" {
			return &HTTPError{StatusCode: status, Message: msg, Body: body}
		}
	}
	return &HTTPError{StatusCode: status, Body: body}
}
