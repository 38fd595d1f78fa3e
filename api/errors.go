package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrUnauthorized matches any *Error with status 401.
var ErrUnauthorized = errors.New("unauthorized")

// Error is the normalized form of every non-2xx gateway response.
type Error struct {
	Message string              `json:"message"`
	Status  int                 `json:"status"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("api %d: %s", e.Status, e.Message)
	}
	fields := make([]string, 0, len(e.Errors))
	for k, v := range e.Errors {
		fields = append(fields, k+": "+strings.Join(v, ", "))
	}
	sort.Strings(fields)
	return fmt.Sprintf("api %d: %s (%s)", e.Status, e.Message, strings.Join(fields, "; "))
}

// Is lets errors.Is(err, ErrUnauthorized) match.
func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// normalizeError builds an Error from a failed response body. Gateways
// disagree on shape, so message may arrive as "message" or "error" and
// field errors as a map of lists, a map of strings or a bare list.
func normalizeError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var raw struct {
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		e.Message = raw.Message
		if e.Message == "" {
			e.Message = raw.Error
		}
		e.Errors = normalizeFieldErrors(raw.Errors)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if e.Message == "" {
		e.Message = "request failed"
	}
	return e
}

func normalizeFieldErrors(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var lists map[string][]string
	if json.Unmarshal(raw, &lists) == nil && len(lists) > 0 {
		return lists
	}
	var single map[string]string
	if json.Unmarshal(raw, &single) == nil && len(single) > 0 {
		out := make(map[string][]string, len(single))
		for k, v := range single {
			out[k] = []string{v}
		}
		return out
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return map[string][]string{"": list}
	}
	return nil
}
