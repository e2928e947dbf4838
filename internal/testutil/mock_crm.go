// Package testutil provides a configurable mock CRM API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request captured by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	At     time.Time
}

// MockCRM is a mock CRM REST API. It records every request and dispatches
// to per-path handlers, falling back to 404.
type MockCRM struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockCRM starts a new mock CRM server.
func NewMockCRM() *MockCRM {
	mock := &MockCRM{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
			At:     time.Now(),
		})
		handler, exists := mock.handlers[r.Method+" "+r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"no handler for %s %s"}`, r.Method, r.URL.Path)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a method and path.
func (m *MockCRM) SetHandler(method, path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+" "+path] = handler
}

// SetResponse configures a fixed response for a method and path.
func (m *MockCRM) SetResponse(method, path string, resp MockResponse) {
	m.SetHandler(method, path, resp.write)
}

// SetSequence answers successive calls with the given responses in order;
// the last response repeats once the sequence is used up.
func (m *MockCRM) SetSequence(method, path string, resps ...MockResponse) {
	var (
		mu    sync.Mutex
		calls int
	)
	m.SetHandler(method, path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		idx := calls
		calls++
		mu.Unlock()

		if idx >= len(resps) {
			idx = len(resps) - 1
		}
		resps[idx].write(w, r)
	})
}

// SetRecords serves {"data": records} for a GET on path.
func (m *MockCRM) SetRecords(path string, records any) error {
	body, err := json.Marshal(map[string]any{"data": records})
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	m.SetResponse(http.MethodGet, path, NewJSONResponse(http.StatusOK, string(body)))
	return nil
}

// Requests returns a copy of all recorded requests.
func (m *MockCRM) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsTo returns the recorded requests for a method and path.
func (m *MockCRM) RequestsTo(method, path string) []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RecordedRequest
	for _, r := range m.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCRM) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (resp MockResponse) write(w http.ResponseWriter, _ *http.Request) {
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

// NewJSONResponse creates a JSON response with the given status.
func NewJSONResponse(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewCreatedResponse creates a 201 Created response as returned by bulk-create endpoints.
func NewCreatedResponse() MockResponse {
	return NewJSONResponse(http.StatusCreated, `{"data":{}}`)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	resp := NewJSONResponse(http.StatusTooManyRequests, `{"error": "Rate limit exceeded"}`)
	resp.Headers["Retry-After"] = "1"
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewJSONResponse(http.StatusInternalServerError, `{"error": "Internal server error"}`)
}

// NewUnauthorizedResponse creates a 401 Unauthorized response.
func NewUnauthorizedResponse() MockResponse {
	return NewJSONResponse(http.StatusUnauthorized, `{"code":"INVALID_TOKEN","message":"invalid oauth token"}`)
}
