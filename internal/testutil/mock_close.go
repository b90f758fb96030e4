// Package testutil provides testing utilities for the Close API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path the mock serves the API under.
const APIPrefix = "/api/v1/"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is one request received by the mock.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// MockPage is one page of a search result set.
type MockPage struct {
	// Records are raw JSON objects.
	Records []string
	// Cursor is returned with the page; empty ends the result set.
	Cursor string
}

// MockClose is a configurable mock Close API server for testing.
// Handlers are keyed by "METHOD path" or by path alone, with path relative
// to APIPrefix (e.g. "GET custom_field/lead/").
type MockClose struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requests []RecordedRequest
}

// NewMockClose creates a new mock Close server.
func NewMockClose() *MockClose {
	mock := &MockClose{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		path := strings.TrimPrefix(r.URL.Path, APIPrefix)

		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		handler, exists := mock.handlers[r.Method+" "+path]
		if !exists {
			handler, exists = mock.handlers[path]
		}
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the API base URL of the mock server.
func (m *MockClose) URL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockClose) Close() {
	m.server.Close()
}

// Reset clears the request log.
func (m *MockClose) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a route ("METHOD path" or "path").
func (m *MockClose) SetHandler(route string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[route] = handler
}

// SetResponse configures a fixed response for a route.
func (m *MockClose) SetResponse(route string, resp MockResponse) {
	m.SetHandler(route, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetSequence answers successive requests on a route with the given
// responses; the last one repeats.
func (m *MockClose) SetSequence(route string, resps ...MockResponse) {
	var mu sync.Mutex
	i := 0
	m.SetHandler(route, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[i]
		if i < len(resps)-1 {
			i++
		}
		mu.Unlock()
		writeResponse(w, resp)
	})
}

// SetCatalog serves a list endpoint returning the given raw JSON items in one page.
func (m *MockClose) SetCatalog(path string, items ...string) {
	m.SetResponse("GET "+path, NewJSONResponse(http.StatusOK,
		fmt.Sprintf(`{"data": [%s], "has_more": false}`, strings.Join(items, ","))))
}

// SetSearchPages serves data/search/ from the given pages. The first request
// (no cursor) gets pages[0]; a request carrying pages[i].Cursor gets pages[i+1].
func (m *MockClose) SetSearchPages(pages ...MockPage) {
	m.SetHandler("POST data/search/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cursor string `json:"cursor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeResponse(w, NewValidationErrorResponse([]string{"invalid JSON"}, nil))
			return
		}

		idx := 0
		if req.Cursor != "" {
			idx = -1
			for i, p := range pages {
				if p.Cursor == req.Cursor && i+1 < len(pages) {
					idx = i + 1
					break
				}
			}
		}
		if idx < 0 {
			writeResponse(w, NewValidationErrorResponse([]string{"invalid cursor"}, nil))
			return
		}

		page := pages[idx]
		cursor := "null"
		if page.Cursor != "" {
			cursor = fmt.Sprintf("%q", page.Cursor)
		}
		writeResponse(w, NewJSONResponse(http.StatusOK,
			fmt.Sprintf(`{"data": [%s], "cursor": %s}`, strings.Join(page.Records, ","), cursor)))
	})
}

// Requests returns a copy of the request log.
func (m *MockClose) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockClose) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// CountRoute returns the number of requests received for a "METHOD path" route.
func (m *MockClose) CountRoute(route string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if r.Method+" "+r.Path == route {
			n++
		}
	}
	return n
}

// defaultHandler echoes the request path as a minimal record.
func (m *MockClose) defaultHandler(w http.ResponseWriter, r *http.Request) {
	setHealthyHeaders(w)
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"path": %q}`, strings.TrimPrefix(r.URL.Path, APIPrefix))
}

func setHealthyHeaders(w http.ResponseWriter) {
	w.Header().Set("RateLimit", "limit=240, remaining=239, reset=1")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewJSONResponse creates a JSON response with healthy rate limit headers.
func NewJSONResponse(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
		Headers: map[string]string{
			"RateLimit":    "limit=240, remaining=239, reset=1",
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response whose window
// resets after the given number of seconds.
func NewRateLimitResponse(resetSeconds float64) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"RateLimit":    fmt.Sprintf("limit=240, remaining=0, reset=%g", resetSeconds),
			"Retry-After":  fmt.Sprintf("%g", resetSeconds),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewJSONResponse(http.StatusInternalServerError, `{"error": "Internal server error"}`)
}

// NewValidationErrorResponse creates a 400 response with Close validation detail.
func NewValidationErrorResponse(errs []string, fieldErrors map[string]string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"errors":       errs,
		"field-errors": fieldErrors,
	})
	return NewJSONResponse(http.StatusBadRequest, string(body))
}
