//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/latest-games/internal/server"
	"github.com/Sternrassler/latest-games/internal/testutil"
	"github.com/Sternrassler/latest-games/pkg/client"
	"github.com/Sternrassler/latest-games/pkg/feed"
	"github.com/Sternrassler/latest-games/pkg/pagination"
	"github.com/redis/go-redis/v9"
)

type sessionView struct {
	ID string `json:"id"`
	feed.View
}

func newClient(t *testing.T, mock *testutil.MockAggregator, redisClient *redis.Client) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig("integration")
	cfg.BaseURL = mock.URL()
	cfg.PageSize = 2
	cfg.Redis = redisClient
	cfg.Retry = client.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func post(t *testing.T, url string) sessionView {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var v sessionView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// TestEndToEnd_SessionsShareCache drives two screen sessions through the HTTP
// API. The second session is served from the Redis page cache.
func TestEndToEnd_SessionsShareCache(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockAggregator()
	defer mock.Close()
	mock.SetPage(1, testutil.NewItem("a", "A", 90), testutil.NewItem("b", "B", 88))
	mock.SetPage(2, testutil.NewItem("b", "B", 88), testutil.NewItem("c", "C", 70))

	srv := server.New(newClient(t, mock, redisClient), server.Config{
		Feed:       feed.DefaultConfig(),
		SessionTTL: time.Minute,
		Redis:      redisClient,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Sessions().CloseAll()

	for round := 0; round < 2; round++ {
		v := post(t, ts.URL+"/sessions")
		v = post(t, ts.URL+"/sessions/"+v.ID+"/more")
		v = post(t, ts.URL+"/sessions/"+v.ID+"/more")

		if len(v.Items) != 3 || v.HasMore {
			t.Fatalf("round %d view = %+v, want 3 items and exhausted", round, v)
		}
	}

	// Three pages fetched once, then served from cache.
	if mock.Requests() != 3 {
		t.Errorf("upstream requests = %d, want 3", mock.Requests())
	}

	resp, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /ready = %d, want 200", resp.StatusCode)
	}
}

// TestEndToEnd_WarmCache prefetches pages so that a later accumulator does
// not reach upstream.
func TestEndToEnd_WarmCache(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockAggregator()
	defer mock.Close()
	mock.SetPage(1, testutil.NewItem("a", "A", 90), testutil.NewItem("b", "B", 88))
	mock.SetPage(2, testutil.NewItem("c", "C", 70))

	c := newClient(t, mock, redisClient)
	ctx := context.Background()

	res, err := pagination.NewPrefetcher(c, pagination.DefaultConfig()).Prefetch(ctx, 4)
	if err != nil {
		t.Fatalf("Prefetch() error = %v", err)
	}
	if res.LastPage != 3 {
		t.Errorf("LastPage = %d, want 3", res.LastPage)
	}
	warmed := mock.Requests()

	acc := feed.New(c, feed.DefaultConfig())
	defer acc.Close()
	acc.Initialize(ctx)
	acc.RequestNextPage(ctx)
	acc.RequestNextPage(ctx)

	v := acc.Snapshot()
	if len(v.Items) != 3 || v.HasMore {
		t.Errorf("view = %+v, want 3 items and exhausted", v)
	}
	if mock.Requests() != warmed {
		t.Errorf("accumulator reached upstream %d times after warming", mock.Requests()-warmed)
	}
}
