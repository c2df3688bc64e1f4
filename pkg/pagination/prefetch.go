package pagination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/latest-games/pkg/feed"
	"github.com/Sternrassler/latest-games/pkg/game"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds prefetcher configuration.
type Config struct {
	// MaxConcurrency is the number of pages requested in parallel.
	MaxConcurrency int

	// Timeout bounds each page fetch.
	Timeout time.Duration
}

// DefaultConfig returns a conservative configuration for the aggregator.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// Result holds the pages a prefetch loaded.
type Result struct {
	// Pages maps page number to its games. Empty pages are not included.
	Pages map[int][]game.Game

	// LastPage is the first page that came back empty, or 0 if every
	// requested page had games.
	LastPage int

	// Failed maps page number to its fetch error.
	Failed map[int]error
}

// Loaded returns the loaded page numbers in ascending order.
func (r Result) Loaded() []int {
	pages := make([]int, 0, len(r.Pages))
	for p := range r.Pages {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Prefetcher fetches page ranges through a feed.Fetcher.
type Prefetcher struct {
	fetcher feed.Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewPrefetcher creates a prefetcher.
func NewPrefetcher(fetcher feed.Fetcher, config Config) *Prefetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Prefetcher{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "prefetch").Logger(),
	}
}

type pageResult struct {
	page  int
	games []game.Game
	err   error
}

// Prefetch loads pages 1..pages. A failure on page 1 is returned as is;
// failures on later pages are returned alongside the partial result.
func (p *Prefetcher) Prefetch(ctx context.Context, pages int) (Result, error) {
	if pages < 1 {
		return Result{}, fmt.Errorf("pages must be >= 1 (got %d)", pages)
	}
	start := time.Now()

	res := Result{
		Pages:  make(map[int][]game.Game),
		Failed: make(map[int]error),
	}

	first := p.fetch(ctx, 1)
	if first.err != nil {
		return res, fmt.Errorf("fetch page 1: %w", first.err)
	}
	if len(first.games) == 0 {
		res.LastPage = 1
		p.logger.Info().Msg("Listing is empty")
		return res, nil
	}
	res.Pages[1] = first.games

	if pages > 1 {
		queue := make(chan int)
		results := make(chan pageResult)

		go func() {
			defer close(queue)
			for page := 2; page <= pages; page++ {
				select {
				case queue <- page:
				case <-ctx.Done():
					return
				}
			}
		}()

		workers := min(p.config.MaxConcurrency, pages-1)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for page := range queue {
					results <- p.fetch(ctx, page)
				}
			}()
		}
		go func() {
			wg.Wait()
			close(results)
		}()

		for r := range results {
			switch {
			case r.err != nil:
				res.Failed[r.page] = r.err
				p.logger.Warn().Err(r.err).Int("page", r.page).Msg("Prefetch page failed")
			case len(r.games) == 0:
				if res.LastPage == 0 || r.page < res.LastPage {
					res.LastPage = r.page
				}
			default:
				res.Pages[r.page] = r.games
			}
		}
	}

	// Nothing past the end of the listing counts.
	if res.LastPage > 0 {
		for page := range res.Pages {
			if page > res.LastPage {
				delete(res.Pages, page)
			}
		}
		for page := range res.Failed {
			if page > res.LastPage {
				delete(res.Failed, page)
			}
		}
	}

	p.logger.Info().
		Int("requested", pages).
		Int("loaded", len(res.Pages)).
		Int("failed", len(res.Failed)).
		Int("last_page", res.LastPage).
		Dur("duration", time.Since(start)).
		Msg("Prefetch complete")

	if len(res.Failed) > 0 {
		errs := make([]error, 0, len(res.Failed))
		for _, page := range sortedKeys(res.Failed) {
			errs = append(errs, fmt.Errorf("page %d: %w", page, res.Failed[page]))
		}
		return res, fmt.Errorf("prefetch (partial data: %d/%d pages): %w", len(res.Pages), pages, errors.Join(errs...))
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Prefetcher) fetch(ctx context.Context, page int) pageResult {
	pageCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	games, err := p.fetcher.FetchPage(pageCtx, page)
	return pageResult{page: page, games: games, err: err}
}

func sortedKeys(m map[int]error) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
