// Package pagination prefetches a range of listing pages in parallel.
//
// The accumulator loads pages one at a time as the user asks for them. A
// Prefetcher walks the first N pages ahead of time through the same Fetcher,
// so that with a Redis-backed client later sessions are served from cache.
//
// Example usage:
//
//	p := pagination.NewPrefetcher(upstream, pagination.DefaultConfig())
//	res, err := p.Prefetch(ctx, 5)
//
// Page 1 is fetched first. When it is empty nothing else is requested.
// Otherwise pages 2..N are spread across a worker pool. Pages past the
// first empty page are dropped from the result, and failed pages are
// reported together with the pages that did load.
package pagination
