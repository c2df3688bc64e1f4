package feed

import (
	"github.com/Sternrassler/latest-games/pkg/game"
)

// DefaultMaxStalePages is the number of consecutive non-empty pages without a
// single new record after which the feed is considered exhausted.
const DefaultMaxStalePages = 3

// State is the accumulated feed. Values are never mutated in place by the
// transition functions; each returns a new State.
type State struct {
	// Items holds unique records in arrival order.
	Items []game.Game

	// Cursor is the next page to request. Starts at 1.
	Cursor int

	// Loading is true exactly while a fetch is in flight.
	Loading bool

	// HasMore turns false once the source is exhausted and never flips back.
	HasMore bool

	// Err is the most recent fetch failure, nil after a successful page.
	Err error

	// StalePages counts consecutive non-empty pages that added nothing.
	StalePages int

	// MaxStalePages trips exhaustion after that many stale pages. 0 disables it.
	MaxStalePages int
}

// NewState returns the state of a freshly activated screen.
func NewState(maxStalePages int) State {
	if maxStalePages < 0 {
		maxStalePages = 0
	}
	return State{
		Cursor:        1,
		HasMore:       true,
		MaxStalePages: maxStalePages,
	}
}

// CanRequest reports whether a new fetch may start.
func (s State) CanRequest() bool {
	return !s.Loading && s.HasMore
}

// Event is the outcome of a fetch.
type Event interface {
	page() int
}

// PageLoaded is a successful fetch of Page.
type PageLoaded struct {
	Page  int
	Games []game.Game
}

func (e PageLoaded) page() int { return e.Page }

// PageFailed is a failed fetch of Page.
type PageFailed struct {
	Page int
	Err  error
}

func (e PageFailed) page() int { return e.Page }

// Begin marks a fetch as started. It returns false and the unchanged state
// when a fetch is already running or the feed is exhausted.
func Begin(s State) (State, bool) {
	if !s.CanRequest() {
		return s, false
	}
	s.Loading = true
	return s, true
}

// Apply folds a fetch outcome into the state. Outcomes for a page other than
// the one in flight are ignored.
func Apply(s State, ev Event) State {
	if !s.Loading || ev.page() != s.Cursor {
		return s
	}

	switch ev := ev.(type) {
	case PageFailed:
		s.Loading = false
		s.Err = ev.Err
		return s

	case PageLoaded:
		s.Loading = false
		s.Err = nil

		if len(ev.Games) == 0 {
			s.HasMore = false
			return s
		}

		fresh := Unseen(s.Items, ev.Games)
		if len(fresh) > 0 {
			items := make([]game.Game, len(s.Items), len(s.Items)+len(fresh))
			copy(items, s.Items)
			s.Items = append(items, fresh...)
			s.StalePages = 0
		} else {
			s.StalePages++
			if s.MaxStalePages > 0 && s.StalePages >= s.MaxStalePages {
				s.HasMore = false
			}
		}

		s.Cursor++
		return s
	}

	return s
}

// Unseen returns the records of page whose slug appears neither in existing
// nor earlier in page, preserving page order.
func Unseen(existing, page []game.Game) []game.Game {
	seen := make(map[string]struct{}, len(existing)+len(page))
	for _, g := range existing {
		seen[g.Slug] = struct{}{}
	}

	var fresh []game.Game
	for _, g := range page {
		if _, dup := seen[g.Slug]; dup {
			continue
		}
		seen[g.Slug] = struct{}{}
		fresh = append(fresh, g)
	}
	return fresh
}
