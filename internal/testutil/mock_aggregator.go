// Package testutil provides test doubles shared across packages.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// FinderPath is the path the mock serves the latest-games listing on.
const FinderPath = "/finder/metacritic/web"

// Item is one game in the aggregator's wire format.
type Item struct {
	Slug               string             `json:"slug"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	ReleaseDate        string             `json:"releaseDate"`
	Image              ItemImage          `json:"image"`
	CriticScoreSummary CriticScoreSummary `json:"criticScoreSummary"`
}

// ItemImage locates a cover image.
type ItemImage struct {
	BucketType string `json:"bucketType"`
	BucketPath string `json:"bucketPath"`
}

// CriticScoreSummary carries the score as either a number or a string.
type CriticScoreSummary struct {
	Score any `json:"score"`
}

// NewItem builds an item with a numeric score and a cover path derived from slug.
func NewItem(slug, title string, score int) Item {
	return Item{
		Slug:               slug,
		Title:              title,
		Description:        "About " + title,
		ReleaseDate:        "2026-10-01",
		Image:              ItemImage{BucketType: "catalog", BucketPath: "/provider/" + slug + ".jpg"},
		CriticScoreSummary: CriticScoreSummary{Score: score},
	}
}

// Failure is a canned error response. A non-empty Body replaces the JSON
// error document; a 200 Failure is cacheable like a listing.
type Failure struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// MockAggregator is an httptest server that pages through configured items.
type MockAggregator struct {
	server *httptest.Server

	mu        sync.Mutex
	pages     map[int][]Item
	failures  []Failure
	maxAge    int
	remaining int

	requests    int
	conditional int
	notModified int
	lastQuery   map[string]string
}

// NewMockAggregator starts a mock aggregator. Pages without items are served
// as empty pages.
func NewMockAggregator() *MockAggregator {
	m := &MockAggregator{
		pages:     make(map[int][]Item),
		remaining: 100,
		maxAge:    60,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the server base URL.
func (m *MockAggregator) URL() string { return m.server.URL }

// Close shuts down the server.
func (m *MockAggregator) Close() { m.server.Close() }

// SetPage configures the items served for a 1-based page.
func (m *MockAggregator) SetPage(page int, items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[page] = items
}

// FailNext queues failures returned before normal responses resume.
func (m *MockAggregator) FailNext(failures ...Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failures...)
}

// SetMaxAge sets the Cache-Control max-age sent with pages.
func (m *MockAggregator) SetMaxAge(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAge = seconds
}

// SetRemaining sets the X-RateLimit-Remaining value reported.
func (m *MockAggregator) SetRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}

// Requests returns the number of requests received.
func (m *MockAggregator) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// ConditionalRequests returns the number of requests carrying If-None-Match.
func (m *MockAggregator) ConditionalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditional
}

// NotModified returns the number of 304 responses sent.
func (m *MockAggregator) NotModified() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notModified
}

// LastQuery returns the query parameters of the last request.
func (m *MockAggregator) LastQuery() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.lastQuery))
	for k, v := range m.lastQuery {
		out[k] = v
	}
	return out
}

func (m *MockAggregator) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	m.lastQuery = make(map[string]string)
	for k := range r.URL.Query() {
		m.lastQuery[k] = r.URL.Query().Get(k)
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.remaining))
	w.Header().Set("X-RateLimit-Reset", "60")

	if len(m.failures) > 0 {
		f := m.failures[0]
		m.failures = m.failures[1:]
		maxAge := m.maxAge
		m.mu.Unlock()
		if f.StatusCode == http.StatusOK {
			w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
		}
		for k, v := range f.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(f.StatusCode)
		if f.Body != "" {
			io.WriteString(w, f.Body)
			return
		}
		fmt.Fprintf(w, `{"error":%q}`, http.StatusText(f.StatusCode))
		return
	}

	if r.URL.Path != FinderPath {
		m.mu.Unlock()
		http.NotFound(w, r)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	items := m.pages[page]
	if items == nil {
		items = []Item{}
	}
	maxAge := m.maxAge

	body, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"totalResults": len(items),
			"items":        items,
		},
	})
	etag := fmt.Sprintf(`"p%d-%d"`, page, len(body))

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		m.conditional++
		if inm == etag {
			m.notModified++
			m.mu.Unlock()
			w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
