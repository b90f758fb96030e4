package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrMissingCredentials is returned by New when neither an API key nor an
	// access token is configured.
	ErrMissingCredentials = errors.New("api key or access token is required")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors without validation detail.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassValidation represents 4xx errors whose body carries
	// "errors" or "field-errors".
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// ValidationDetail is the error body the API returns for rejected writes.
type ValidationDetail struct {
	Errors      []string          `json:"errors,omitempty" yaml:"errors,omitempty"`
	FieldErrors map[string]string `json:"field-errors,omitempty" yaml:"field_errors,omitempty"`
}

// Empty reports whether the detail carries no messages.
func (v *ValidationDetail) Empty() bool {
	return v == nil || (len(v.Errors) == 0 && len(v.FieldErrors) == 0)
}

// String renders the detail as "msg; msg; field: msg" with fields sorted.
func (v *ValidationDetail) String() string {
	if v.Empty() {
		return ""
	}
	parts := append([]string(nil), v.Errors...)

	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return strings.Join(parts, "; ")
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Class      ErrorClass
	Body       []byte

	// Validation is set when the body carries validation messages.
	Validation *ValidationDetail
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := http.StatusText(e.StatusCode)
	if !e.Validation.Empty() {
		msg = e.Validation.String()
	}
	return fmt.Sprintf("close %s error (status %d) %s %s: %s",
		e.Class, e.StatusCode, e.Method, e.Path, msg)
}

// IsValidation reports whether err is an APIError carrying validation detail.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == ErrorClassValidation
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewAPIError builds an APIError from a response status and body.
func NewAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       body,
		Class:      classifyStatus(status),
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		if detail := parseValidation(body); !detail.Empty() {
			apiErr.Validation = detail
			apiErr.Class = ErrorClassValidation
		}
	}
	return apiErr
}

// CheckResponse returns an *APIError when resp carries a status outside 2xx.
// Transports other than Client may hand such responses back without an error.
func CheckResponse(method, path string, resp *Response) error {
	if resp == nil || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return NewAPIError(method, path, resp.StatusCode, resp.Body)
}

// classifyStatus maps an HTTP status to an error class. 2xx/3xx yield "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// parseValidation extracts "errors" and "field-errors" from an error body.
// Field error values that are not strings are kept as their JSON text.
func parseValidation(body []byte) *ValidationDetail {
	var raw struct {
		Errors      []json.RawMessage          `json:"errors"`
		FieldErrors map[string]json.RawMessage `json:"field-errors"`
	}
	if len(body) == 0 || json.Unmarshal(body, &raw) != nil {
		return nil
	}

	detail := &ValidationDetail{}
	for _, msg := range raw.Errors {
		detail.Errors = append(detail.Errors, rawText(msg))
	}
	if len(raw.FieldErrors) > 0 {
		detail.FieldErrors = make(map[string]string, len(raw.FieldErrors))
		for field, msg := range raw.FieldErrors {
			detail.FieldErrors[field] = rawText(msg)
		}
	}
	return detail
}

func rawText(msg json.RawMessage) string {
	var s string
	if json.Unmarshal(msg, &s) == nil {
		return s
	}
	return string(msg)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassValidation:
		// 4xx requests will fail the same way again
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
