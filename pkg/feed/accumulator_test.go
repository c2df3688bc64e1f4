package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/latest-games/pkg/game"
)

// pageFetcher serves fixed pages and counts calls.
type pageFetcher struct {
	mu    sync.Mutex
	pages map[int][]game.Game
	errs  map[int]error
	calls []int
}

func (f *pageFetcher) FetchPage(ctx context.Context, page int) ([]game.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)
	if err := f.errs[page]; err != nil {
		delete(f.errs, page)
		return nil, err
	}
	return f.pages[page], nil
}

func (f *pageFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNew_Defaults(t *testing.T) {
	acc := New(&pageFetcher{}, Config{})
	defer acc.Close()

	if acc.config.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", acc.config.Timeout)
	}
	if acc.config.MaxStalePages != DefaultMaxStalePages {
		t.Errorf("MaxStalePages = %d, want %d", acc.config.MaxStalePages, DefaultMaxStalePages)
	}

	disabled := New(&pageFetcher{}, Config{MaxStalePages: -1})
	defer disabled.Close()
	if got := disabled.State().MaxStalePages; got != 0 {
		t.Errorf("negative MaxStalePages gave state guard %d, want 0", got)
	}
}

func TestAccumulator_Scenario(t *testing.T) {
	f := &pageFetcher{pages: map[int][]game.Game{
		1: games("a", "b"),
		2: games("b", "c"),
		3: {},
	}}
	acc := New(f, DefaultConfig())
	defer acc.Close()
	ctx := context.Background()

	started, err := acc.Initialize(ctx)
	if err != nil || !started {
		t.Fatalf("Initialize = (%v, %v), want (true, nil)", started, err)
	}

	if _, err := acc.RequestNextPage(ctx); err != nil {
		t.Fatalf("page 2 error = %v", err)
	}
	v := acc.Snapshot()
	equalSlugs(t, v.Items, "a", "b", "c")
	if v.Cursor != 3 || !v.HasMore || v.Loading {
		t.Errorf("after page 2 view = %+v", v)
	}
	if !v.CanLoadMore {
		t.Error("CanLoadMore should be true after page 2")
	}

	if _, err := acc.RequestNextPage(ctx); err != nil {
		t.Fatalf("page 3 error = %v", err)
	}
	v = acc.Snapshot()
	if v.HasMore || v.CanLoadMore {
		t.Errorf("after empty page view = %+v", v)
	}
	equalSlugs(t, v.Items, "a", "b", "c")

	// Exhaustion is final.
	for i := 0; i < 3; i++ {
		started, err := acc.RequestNextPage(ctx)
		if started || err != nil {
			t.Errorf("RequestNextPage after exhaustion = (%v, %v), want (false, nil)", started, err)
		}
	}
	if got := f.callCount(); got != 3 {
		t.Errorf("fetcher calls = %d, want 3", got)
	}
}

func TestAccumulator_InitializeOnce(t *testing.T) {
	f := &pageFetcher{pages: map[int][]game.Game{1: games("a"), 2: games("b")}}
	acc := New(f, DefaultConfig())
	defer acc.Close()

	acc.Initialize(context.Background())
	started, err := acc.Initialize(context.Background())
	if started || err != nil {
		t.Errorf("second Initialize = (%v, %v), want (false, nil)", started, err)
	}
	if got := f.callCount(); got != 1 {
		t.Errorf("fetcher calls = %d, want 1", got)
	}
}

func TestAccumulator_EmptyFirstPage(t *testing.T) {
	acc := New(&pageFetcher{}, DefaultConfig())
	defer acc.Close()

	if _, err := acc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize error = %v", err)
	}

	v := acc.Snapshot()
	if len(v.Items) != 0 || v.HasMore || v.Cursor != 1 {
		t.Errorf("view = %+v, want empty exhausted feed at cursor 1", v)
	}
	if v.Items == nil {
		t.Error("Snapshot should expose an empty, non-nil item list")
	}
}

func TestAccumulator_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	f := FetcherFunc(func(ctx context.Context, page int) ([]game.Game, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
		return games("a"), nil
	})

	acc := New(f, DefaultConfig())
	defer acc.Close()

	done := make(chan error, 1)
	go func() {
		_, err := acc.Initialize(context.Background())
		done <- err
	}()

	<-entered
	if !acc.Snapshot().Loading {
		t.Error("Loading should be true while the fetch is in flight")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started, err := acc.RequestNextPage(context.Background())
			if started || err != nil {
				t.Errorf("concurrent RequestNextPage = (%v, %v), want (false, nil)", started, err)
			}
		}()
	}
	wg.Wait()

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Initialize error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", calls)
	}
}

func TestAccumulator_FailureAndRetry(t *testing.T) {
	boom := errors.New("upstream down")
	f := &pageFetcher{
		pages: map[int][]game.Game{1: games("a"), 2: games("b")},
		errs:  map[int]error{2: boom},
	}
	acc := New(f, DefaultConfig())
	defer acc.Close()
	ctx := context.Background()

	acc.Initialize(ctx)

	started, err := acc.RequestNextPage(ctx)
	if !started {
		t.Fatal("RequestNextPage should have started a fetch")
	}
	if !errors.Is(err, ErrFetchFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrFetchFailed wrapping %v", err, boom)
	}

	v := acc.Snapshot()
	if v.Loading {
		t.Error("Loading stuck after failure")
	}
	if v.Error == "" || !v.Retryable {
		t.Errorf("view = %+v, want retryable error", v)
	}
	if v.Cursor != 2 || !v.HasMore {
		t.Errorf("failure changed cursor/hasMore: %+v", v)
	}
	equalSlugs(t, v.Items, "a")

	started, err = acc.Retry(ctx)
	if !started || err != nil {
		t.Fatalf("Retry = (%v, %v), want (true, nil)", started, err)
	}
	v = acc.Snapshot()
	equalSlugs(t, v.Items, "a", "b")
	if v.Error != "" || v.Retryable {
		t.Errorf("error not cleared after retry: %+v", v)
	}

	// Nothing to retry now.
	if started, _ := acc.Retry(ctx); started {
		t.Error("Retry without a failure should be a no-op")
	}
}

func TestAccumulator_Timeout(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, page int) ([]game.Game, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	acc := New(f, Config{Timeout: 20 * time.Millisecond})
	defer acc.Close()

	_, err := acc.Initialize(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if acc.Snapshot().Loading {
		t.Error("Loading stuck after timeout")
	}
}

func TestAccumulator_CloseCancelsInFlight(t *testing.T) {
	entered := make(chan struct{})
	f := FetcherFunc(func(ctx context.Context, page int) ([]game.Game, error) {
		close(entered)
		<-ctx.Done()
		return games("late"), nil
	})

	acc := New(f, DefaultConfig())

	done := make(chan error, 1)
	go func() {
		_, err := acc.Initialize(context.Background())
		done <- err
	}()

	<-entered
	acc.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight fetch was not cancelled by Close")
	}

	if got := len(acc.Snapshot().Items); got != 0 {
		t.Errorf("late page was merged into closed feed (%d items)", got)
	}

	if _, err := acc.RequestNextPage(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("RequestNextPage after Close err = %v, want ErrClosed", err)
	}
	if err := acc.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
}

func TestAccumulator_StaleGuardStopsPaging(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, page int) ([]game.Game, error) {
		return games("same"), nil
	})

	acc := New(f, Config{MaxStalePages: 2})
	defer acc.Close()
	ctx := context.Background()

	var fetched int
	for i := 0; i < 10; i++ {
		started, err := acc.RequestNextPage(ctx)
		if err != nil {
			t.Fatalf("RequestNextPage error = %v", err)
		}
		if started {
			fetched++
		}
	}

	if fetched != 3 {
		t.Errorf("fetched %d pages, want 3", fetched)
	}
	v := acc.Snapshot()
	if v.HasMore {
		t.Error("HasMore should be false once the stale guard trips")
	}
	equalSlugs(t, v.Items, "same")
}

func TestAccumulator_SnapshotIsCopy(t *testing.T) {
	f := &pageFetcher{pages: map[int][]game.Game{1: games("a")}}
	acc := New(f, DefaultConfig())
	defer acc.Close()

	acc.Initialize(context.Background())
	v := acc.Snapshot()
	v.Items[0].Slug = "mutated"

	if acc.Snapshot().Items[0].Slug != "a" {
		t.Error("Snapshot exposed internal state")
	}
}
