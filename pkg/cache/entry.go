package cache

import (
	"time"
)

// Entry is a cached aggregator page.
type Entry struct {
	Data         []byte    `json:"data"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	Expires      time.Time `json:"expires"`
	StatusCode   int       `json:"status_code"`
	CachedAt     time.Time `json:"cached_at"`
}

// IsFresh reports whether the entry can be served without asking upstream.
func (e *Entry) IsFresh() bool {
	return time.Now().Before(e.Expires)
}

// CanRevalidate reports whether the entry carries a validator for a
// conditional request.
func (e *Entry) CanRevalidate() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// TTL returns the remaining freshness, 0 once expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
