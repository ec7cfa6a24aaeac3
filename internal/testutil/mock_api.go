// Package testutil provides an httptest stand-in for the search API.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/search"
)

// Paths served by MockSearchAPI.
const (
	TokenPath  = "/oauth2/token"
	SearchPath = "/1.1/search/tweets.json"
)

// DefaultToken is the bearer token issued by the mock.
const DefaultToken = "test-bearer-token"

// MockResponse defines one canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is what the mock saw of a request.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     string
}

// MockSearchAPI serves the token exchange and a queue of search pages.
// Search requests beyond the queue get a 500.
type MockSearchAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	token    MockResponse
	pages    []MockResponse
	requests []RecordedRequest
	inFlight int
	maxConc  int
}

// NewMockSearchAPI starts a mock that issues DefaultToken.
func NewMockSearchAPI() *MockSearchAPI {
	mock := &MockSearchAPI{
		token: NewTokenResponse(DefaultToken),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockSearchAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSearchAPI) Close() {
	m.server.Close()
}

// SetTokenResponse replaces the token exchange response.
func (m *MockSearchAPI) SetTokenResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = resp
}

// QueuePage appends a response to the search queue.
func (m *MockSearchAPI) QueuePage(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, resp)
}

// Requests returns a copy of all recorded requests.
func (m *MockSearchAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// SearchRequests returns the recorded requests to the search path.
func (m *MockSearchAPI) SearchRequests() []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Path == SearchPath {
			out = append(out, r)
		}
	}
	return out
}

// MaxConcurrent returns the highest number of requests served at once.
func (m *MockSearchAPI) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConc
}

func (m *MockSearchAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     string(body),
	})
	m.inFlight++
	if m.inFlight > m.maxConc {
		m.maxConc = m.inFlight
	}

	var resp MockResponse
	switch r.URL.Path {
	case TokenPath:
		resp = m.token
	case SearchPath:
		if len(m.pages) == 0 {
			resp = MockResponse{StatusCode: http.StatusInternalServerError, Body: `{"errors":[{"message":"no page queued"}]}`}
		} else {
			resp = m.pages[0]
			m.pages = m.pages[1:]
		}
	default:
		resp = MockResponse{StatusCode: http.StatusNotFound}
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewTokenResponse creates a successful token exchange response.
func NewTokenResponse(token string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"token_type":"bearer","access_token":%q}`, token),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewPageResponse creates a 200 search response carrying items. An empty
// next omits next_results.
func NewPageResponse(next string, items ...search.Item) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       PageBody(next, items...),
		Headers: map[string]string{
			"Content-Type":           "application/json; charset=utf-8",
			"X-Rate-Limit-Limit":     "180",
			"X-Rate-Limit-Remaining": "179",
			"X-Rate-Limit-Reset":     fmt.Sprint(time.Now().Add(15 * time.Minute).Unix()),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":[{"code":131,"message":"Internal error"}]}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 response that also exhausts the window.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`,
		Headers: map[string]string{
			"Content-Type":           "application/json; charset=utf-8",
			"X-Rate-Limit-Limit":     "180",
			"X-Rate-Limit-Remaining": "0",
			"X-Rate-Limit-Reset":     fmt.Sprint(time.Now().Add(15 * time.Minute).Unix()),
		},
	}
}

// NewUnauthorizedResponse creates a 401 response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"errors":[{"code":89,"message":"Invalid or expired token."}]}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

type mockUser struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

type mockStatus struct {
	ID        int64    `json:"id"`
	Text      string   `json:"text"`
	Truncated bool     `json:"truncated"`
	User      mockUser `json:"user"`
}

type mockMetadata struct {
	CompletedIn float64 `json:"completed_in"`
	MaxID       int64   `json:"max_id"`
	NextResults string  `json:"next_results,omitempty"`
}

// PageBody renders items as a search response body.
func PageBody(next string, items ...search.Item) string {
	statuses := make([]mockStatus, 0, len(items))
	var maxID int64
	for _, item := range items {
		statuses = append(statuses, mockStatus{
			ID:        item.ItemID,
			Text:      item.Text,
			Truncated: item.Truncated,
			User: mockUser{
				ID:         item.AuthorID,
				Name:       item.AuthorName,
				ScreenName: item.AuthorHandle,
			},
		})
		if item.ItemID > maxID {
			maxID = item.ItemID
		}
	}

	body, err := json.Marshal(struct {
		Statuses []mockStatus `json:"statuses"`
		Metadata mockMetadata `json:"search_metadata"`
	}{
		Statuses: statuses,
		Metadata: mockMetadata{CompletedIn: 0.01, MaxID: maxID, NextResults: next},
	})
	if err != nil {
		panic(err)
	}
	return string(body)
}

// Item builds a test item with derived author fields.
func Item(id int64, text string) search.Item {
	return search.Item{
		ItemID:       id,
		AuthorID:     id * 10,
		AuthorName:   fmt.Sprintf("Author %d", id),
		AuthorHandle: fmt.Sprintf("author%d", id),
		Text:         text,
	}
}
