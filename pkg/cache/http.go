package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL applies when upstream sends no freshness information.
const DefaultTTL = 5 * time.Minute

// ResponseToEntry reads the response body into an Entry and puts an
// equivalent body back on resp.
func ResponseToEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	entry := &Entry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		Expires:    Expiry(resp.Header, now),
		StatusCode: resp.StatusCode,
		CachedAt:   now,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t
		}
	}

	return entry, nil
}

// Expiry derives the freshness deadline from response headers.
// Cache-Control wins over Expires; no-store and no-cache give now.
func Expiry(h http.Header, now time.Time) time.Time {
	if cc := h.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			switch {
			case directive == "no-store", directive == "no-cache":
				return now
			case strings.HasPrefix(directive, "max-age="):
				secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
				if err == nil && secs >= 0 {
					return now.Add(time.Duration(secs) * time.Second)
				}
			}
		}
	}

	if exp := h.Get("Expires"); exp != "" {
		t, err := http.ParseTime(exp)
		if err != nil {
			return now
		}
		if t.Before(now) {
			return now
		}
		return t
	}

	return now.Add(DefaultTTL)
}

// AddConditionalHeaders sets If-None-Match, or If-Modified-Since when no
// ETag is known.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if req == nil || entry == nil {
		return
	}
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
