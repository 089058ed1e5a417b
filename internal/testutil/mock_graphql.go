// Package testutil provides testing utilities for the GraphQL cache proxy.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/gql-response-cache/pkg/request"
)

// MockResponse defines the behavior for a mock GraphQL operation response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGraphQL is a configurable mock GraphQL upstream for testing. Responses
// are selected by operation name.
type MockGraphQL struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string]MockResponse

	// Tracking
	requestCount      int
	operationCounts   map[string]int
	lastRequestHeader http.Header
}

// NewMockGraphQL creates a new mock GraphQL server.
func NewMockGraphQL() *MockGraphQL {
	mock := &MockGraphQL{
		responses:       make(map[string]MockResponse),
		operationCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))

	return mock
}

func (m *MockGraphQL) serve(w http.ResponseWriter, r *http.Request) {
	operation := ""
	if d, err := request.FromHTTP(r); err == nil {
		operation = d.OperationName
	}

	m.mu.Lock()
	m.requestCount++
	m.operationCounts[operation]++
	call := m.operationCounts[operation]
	m.lastRequestHeader = r.Header.Clone()
	resp, exists := m.responses[operation]
	m.mu.Unlock()

	if !exists {
		resp = NewDataResponse(fmt.Sprintf(`{"operation":%q,"call":%d}`, operation, call))
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// URL returns the mock server URL.
func (m *MockGraphQL) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGraphQL) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockGraphQL) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.operationCounts = make(map[string]int)
	m.lastRequestHeader = nil
}

// SetResponse configures the response for an operation name. Operations
// without a configured response answer with their name and call number.
func (m *MockGraphQL) SetResponse(operation string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[operation] = resp
}

// RequestCount returns the number of requests made to the server.
func (m *MockGraphQL) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// OperationCount returns the number of requests made for an operation.
func (m *MockGraphQL) OperationCount(operation string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.operationCounts[operation]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockGraphQL) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// NewDataResponse creates a 200 OK response with data as the "data" member.
func NewDataResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":` + data + `}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewGraphQLErrorResponse creates a 200 OK response carrying a GraphQL error.
func NewGraphQLErrorResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"data":null,"errors":[{"message":%q}]}`, message),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"message":"rate limit exceeded"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  "1",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":[{"message":"internal server error"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
