package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/latest-games/pkg/game"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrFetchFailed wraps every fetcher error surfaced by RequestNextPage.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrClosed is returned once the accumulator has been closed.
	ErrClosed = errors.New("feed closed")
)

// Fetcher returns the games on one page. An empty slice means the source has
// nothing further.
type Fetcher interface {
	FetchPage(ctx context.Context, page int) ([]game.Game, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, page int) ([]game.Game, error)

// FetchPage calls f.
func (f FetcherFunc) FetchPage(ctx context.Context, page int) ([]game.Game, error) {
	return f(ctx, page)
}

// Config holds accumulator configuration.
type Config struct {
	// Timeout bounds a single page fetch.
	Timeout time.Duration

	// MaxStalePages ends the feed after that many consecutive pages without
	// new records. 0 selects DefaultMaxStalePages, negative disables the guard.
	MaxStalePages int

	// SessionID is attached to log lines.
	SessionID string
}

// DefaultConfig returns the default accumulator configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       15 * time.Second,
		MaxStalePages: DefaultMaxStalePages,
	}
}

// View is a copy of the state for the display layer.
type View struct {
	Items       []game.Game `json:"items"`
	Cursor      int         `json:"cursor"`
	Loading     bool        `json:"loading"`
	HasMore     bool        `json:"hasMore"`
	CanLoadMore bool        `json:"canLoadMore"`
	Error       string      `json:"error,omitempty"`
	Retryable   bool        `json:"retryable"`
}

// Accumulator owns the feed state of one screen activation.
type Accumulator struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger

	// ctx lives as long as the accumulator; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	initialized bool
	closed      bool
}

// New creates an accumulator. Nothing is fetched until Initialize.
func New(fetcher Fetcher, config Config) *Accumulator {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxStalePages == 0 {
		config.MaxStalePages = DefaultMaxStalePages
	}

	logger := log.With().Str("component", "feed").Logger()
	if config.SessionID != "" {
		logger = logger.With().Str("session", config.SessionID).Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Accumulator{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		state:   NewState(config.MaxStalePages),
	}
}

// Initialize requests the first page. Calls after the first are no-ops.
func (a *Accumulator) Initialize(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return false, nil
	}
	a.initialized = true
	a.mu.Unlock()

	return a.RequestNextPage(ctx)
}

// RequestNextPage fetches the page at the cursor and merges it.
// It returns false without calling the fetcher while another fetch is in
// flight or after the feed is exhausted. Fetch errors are wrapped in
// ErrFetchFailed and also recorded in the state.
func (a *Accumulator) RequestNextPage(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false, ErrClosed
	}
	a.initialized = true

	next, ok := Begin(a.state)
	if !ok {
		loading, hasMore := a.state.Loading, a.state.HasMore
		a.mu.Unlock()
		feedFetchesTotal.WithLabelValues(outcomeIgnored).Inc()
		a.logger.Debug().
			Bool("loading", loading).
			Bool("has_more", hasMore).
			Msg("Load more ignored")
		return false, nil
	}
	a.state = next
	page := next.Cursor
	a.mu.Unlock()

	games, err := a.fetch(ctx, page)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.state = Apply(a.state, PageFailed{Page: page, Err: ErrClosed})
		a.logger.Debug().Int("page", page).Msg("Discarding page for closed feed")
		return true, ErrClosed
	}

	if err != nil {
		a.state = Apply(a.state, PageFailed{Page: page, Err: err})
		feedFetchesTotal.WithLabelValues(outcomeFailed).Inc()
		a.logger.Warn().Err(err).Int("page", page).Msg("Page fetch failed")
		return true, fmt.Errorf("%w (page %d): %w", ErrFetchFailed, page, err)
	}

	before := len(a.state.Items)
	a.state = Apply(a.state, PageLoaded{Page: page, Games: games})
	added := len(a.state.Items) - before

	switch {
	case len(games) == 0:
		feedFetchesTotal.WithLabelValues(outcomeEmpty).Inc()
		a.logger.Info().Int("page", page).Int("items", len(a.state.Items)).Msg("Feed exhausted")
	case added == 0:
		feedFetchesTotal.WithLabelValues(outcomeStale).Inc()
		feedDuplicatesDropped.Add(float64(len(games)))
		a.logger.Warn().
			Int("page", page).
			Int("stale_pages", a.state.StalePages).
			Bool("has_more", a.state.HasMore).
			Msg("Page added no new games")
	default:
		feedFetchesTotal.WithLabelValues(outcomeAppended).Inc()
		feedItemsAppended.Add(float64(added))
		feedDuplicatesDropped.Add(float64(len(games) - added))
		a.logger.Info().
			Int("page", page).
			Int("added", added).
			Int("items", len(a.state.Items)).
			Msg("Page appended")
	}

	return true, nil
}

// Retry re-requests the page that failed last. It is a no-op when the last
// fetch did not fail.
func (a *Accumulator) Retry(ctx context.Context) (bool, error) {
	a.mu.Lock()
	failed := a.state.Err != nil
	a.mu.Unlock()

	if !failed {
		return false, nil
	}
	return a.RequestNextPage(ctx)
}

func (a *Accumulator) fetch(ctx context.Context, page int) ([]game.Game, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	start := time.Now()
	a.logger.Debug().Int("page", page).Msg("Requesting page")

	games, err := a.fetcher.FetchPage(fetchCtx, page)
	feedFetchDuration.Observe(time.Since(start).Seconds())
	return games, err
}

// State returns a copy of the current state.
func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state
	s.Items = append([]game.Game(nil), a.state.Items...)
	return s
}

// Snapshot returns the current state for display.
func (a *Accumulator) Snapshot() View {
	s := a.State()

	v := View{
		Items:       s.Items,
		Cursor:      s.Cursor,
		Loading:     s.Loading,
		HasMore:     s.HasMore,
		CanLoadMore: s.CanRequest(),
	}
	if v.Items == nil {
		v.Items = []game.Game{}
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
		v.Retryable = s.HasMore && !s.Loading
	}
	return v
}

// Close cancels an in-flight fetch and rejects further requests.
func (a *Accumulator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.logger.Debug().Msg("Feed closed")
	return nil
}
