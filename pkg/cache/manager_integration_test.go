//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/latest-games/internal/testutil"
)

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(testutil.StartRedis(t))
	ctx := context.Background()
	key := Key{Path: "/finder/games", Page: 1, PageSize: 24}

	entry := &Entry{
		Data:       []byte(`{"data":{"items":[]}}`),
		ETag:       `"abc"`,
		Expires:    time.Now().Add(5 * time.Minute),
		StatusCode: 200,
		CachedAt:   time.Now(),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(entry.Data) || got.ETag != entry.ETag {
		t.Errorf("Get = %+v, want %+v", got, entry)
	}
	if !got.IsFresh() {
		t.Error("entry should be fresh")
	}
}

func TestManager_Miss(t *testing.T) {
	manager := NewManager(testutil.StartRedis(t))

	_, err := manager.Get(context.Background(), Key{Path: "/nothing", Page: 9, PageSize: 1})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("err = %v, want ErrCacheMiss", err)
	}
}

func TestManager_ExpiredWithoutValidatorNotStored(t *testing.T) {
	manager := NewManager(testutil.StartRedis(t))
	ctx := context.Background()
	key := Key{Path: "/finder/games", Page: 2, PageSize: 24}

	if err := manager.Set(ctx, key, &Entry{Data: []byte("x"), Expires: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("err = %v, want ErrCacheMiss", err)
	}
}

func TestManager_StaleEntryKeptForRevalidation(t *testing.T) {
	manager := NewManager(testutil.StartRedis(t))
	ctx := context.Background()
	key := Key{Path: "/finder/games", Page: 3, PageSize: 24}

	stale := &Entry{Data: []byte("x"), ETag: `"v1"`, Expires: time.Now().Add(-time.Second)}
	if err := manager.Set(ctx, key, stale); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IsFresh() {
		t.Error("entry should be stale")
	}

	newExpires := time.Now().Add(10 * time.Minute)
	if err := manager.Refresh(ctx, key, got, newExpires); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	got, err = manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after Refresh failed: %v", err)
	}
	if diff := got.Expires.Sub(newExpires); diff < -time.Second || diff > time.Second {
		t.Errorf("Expires = %v, want %v", got.Expires, newExpires)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(testutil.StartRedis(t))
	ctx := context.Background()
	key := Key{Path: "/finder/games", Page: 4, PageSize: 24}

	manager.Set(ctx, key, &Entry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)})
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("err = %v, want ErrCacheMiss", err)
	}
}
