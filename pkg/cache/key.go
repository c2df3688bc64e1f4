package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "latest-games:page"

// Key identifies one page of one upstream query.
type Key struct {
	// Path is the upstream endpoint path.
	Path string

	// Page and PageSize select the slice of results.
	Page     int
	PageSize int

	// Query holds the remaining query parameters. Credentials must not be
	// included.
	Query url.Values
}

// String renders the key deterministically, e.g.
//
//	latest-games:page:finder/games:size=24:p=2:sortBy=-releaseDate
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if p := strings.Trim(k.Path, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, fmt.Sprintf("size=%d", k.PageSize), fmt.Sprintf("p=%d", k.Page))

	names := make([]string, 0, len(k.Query))
	for name := range k.Query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+strings.Join(k.Query[name], ","))
	}

	return strings.Join(parts, ":")
}
