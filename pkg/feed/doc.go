// Package feed accumulates paged game reviews into a single ordered list.
//
// A screen activation owns one Accumulator. The first call to Initialize
// requests page 1; every later RequestNextPage asks the Fetcher for the page
// at the current cursor, appends the records whose slug has not been seen yet
// and advances the cursor. An empty page marks the feed exhausted for good.
//
// The state machine lives in state.go as pure functions over State, so it can
// be tested without a fetcher:
//
//	s := feed.NewState(feed.DefaultMaxStalePages)
//	s, ok := feed.Begin(s)          // ok == false while loading or exhausted
//	s = feed.Apply(s, feed.PageLoaded{Page: 1, Games: games})
//
// The Accumulator wraps that state with a mutex, so at most one fetch is in
// flight no matter how many goroutines call RequestNextPage. Results are
// merged against the latest state at completion time.
//
// Failure handling:
//   - A failed fetch clears Loading and records the error; items, cursor and
//     HasMore are untouched. The caller retries explicitly.
//   - A run of MaxStalePages non-empty pages that add nothing new is treated
//     as exhaustion, so a source that repeats itself cannot be paged forever.
//   - Close cancels an in-flight fetch and discards its result.
package feed
