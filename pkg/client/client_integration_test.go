//go:build integration

package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/latest-games/internal/testutil"
)

func TestClient_Integration_CacheHit(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockAggregator()
	defer mock.Close()
	mock.SetPage(1, testutil.NewItem("a", "A", 90))

	c := newTestClient(t, mock, func(cfg *Config) { cfg.Redis = redisClient })
	ctx := context.Background()

	first, err := c.FetchPage(ctx, 1)
	if err != nil {
		t.Fatalf("first FetchPage() error = %v", err)
	}
	second, err := c.FetchPage(ctx, 1)
	if err != nil {
		t.Fatalf("second FetchPage() error = %v", err)
	}

	if mock.Requests() != 1 {
		t.Errorf("requests = %d, want 1 (second call should hit cache)", mock.Requests())
	}
	if len(first) != 1 || len(second) != 1 || first[0].Slug != second[0].Slug {
		t.Errorf("cached page differs: %v vs %v", first, second)
	}
}

func TestClient_Integration_ConditionalRevalidation(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockAggregator()
	defer mock.Close()
	mock.SetPage(1, testutil.NewItem("a", "A", 90), testutil.NewItem("b", "B", 85))
	mock.SetMaxAge(0)

	c := newTestClient(t, mock, func(cfg *Config) { cfg.Redis = redisClient })
	ctx := context.Background()

	if _, err := c.FetchPage(ctx, 1); err != nil {
		t.Fatalf("first FetchPage() error = %v", err)
	}

	games, err := c.FetchPage(ctx, 1)
	if err != nil {
		t.Fatalf("second FetchPage() error = %v", err)
	}
	if len(games) != 2 {
		t.Errorf("len(games) = %d, want 2 from the revalidated entry", len(games))
	}

	if mock.ConditionalRequests() != 1 {
		t.Errorf("conditional requests = %d, want 1", mock.ConditionalRequests())
	}
	if mock.NotModified() != 1 {
		t.Errorf("304 responses = %d, want 1", mock.NotModified())
	}
}

func TestClient_Integration_PagesCachedSeparately(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockAggregator()
	defer mock.Close()
	mock.SetPage(1, testutil.NewItem("a", "A", 90))
	mock.SetPage(2, testutil.NewItem("b", "B", 80))

	c := newTestClient(t, mock, func(cfg *Config) { cfg.Redis = redisClient })
	ctx := context.Background()

	p1, err := c.FetchPage(ctx, 1)
	if err != nil {
		t.Fatalf("page 1 error = %v", err)
	}
	p2, err := c.FetchPage(ctx, 2)
	if err != nil {
		t.Fatalf("page 2 error = %v", err)
	}

	if p1[0].Slug != "a" || p2[0].Slug != "b" {
		t.Errorf("pages = %v, %v", p1, p2)
	}
	if mock.Requests() != 2 {
		t.Errorf("requests = %d, want 2", mock.Requests())
	}
}

func TestClient_Integration_UndecodableBodyNotCached(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockAggregator()
	defer mock.Close()
	mock.SetPage(1, testutil.NewItem("a", "A", 90))
	mock.FailNext(testutil.Failure{StatusCode: http.StatusOK, Body: "not json"})

	c := newTestClient(t, mock, func(cfg *Config) { cfg.Redis = redisClient })
	ctx := context.Background()

	if _, err := c.FetchPage(ctx, 1); !errors.Is(err, ErrDecode) {
		t.Fatalf("first FetchPage() err = %v, want ErrDecode", err)
	}

	games, err := c.FetchPage(ctx, 1)
	if err != nil {
		t.Fatalf("second FetchPage() error = %v", err)
	}
	if len(games) != 1 || games[0].Slug != "a" {
		t.Errorf("games = %v, want [a]", games)
	}
	if mock.Requests() != 2 {
		t.Errorf("requests = %d, want 2 (bad body must not be served from cache)", mock.Requests())
	}

	if _, err := c.FetchPage(ctx, 1); err != nil {
		t.Fatalf("third FetchPage() error = %v", err)
	}
	if mock.Requests() != 2 {
		t.Errorf("requests = %d, want 2 (good page cached)", mock.Requests())
	}
}
