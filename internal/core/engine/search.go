package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/signcrate/signcrate/internal/core"
)

const (
	// DefaultPageSize is the number of envelopes requested per search page.
	DefaultPageSize = 100

	// MaxSearchResults bounds a single search. Callers needing more must
	// narrow the criteria and search again.
	MaxSearchResults = 1000
)

// EnvelopeLister fetches one page of envelopes.
type EnvelopeLister interface {
	ListEnvelopes(ctx context.Context, query core.PageQuery) (*core.EnvelopePage, error)
}

// Search pages through the remote listing until a page comes back empty or
// MaxSearchResults envelopes have been collected.
func Search(ctx context.Context, lister EnvelopeLister, criteria core.SearchCriteria) ([]core.Envelope, error) {
	if lister == nil {
		return nil, errors.New("envelope lister is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pageSize := criteria.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	criteria.PageSize = pageSize

	results := make([]core.Envelope, 0, pageSize)
	for start := 0; len(results) < MaxSearchResults; start += pageSize {
		page, err := lister.ListEnvelopes(ctx, core.PageQuery{SearchCriteria: criteria, StartPosition: start})
		if err != nil {
			return nil, fmt.Errorf("search envelopes at offset %d: %w", start, err)
		}
		if page == nil || len(page.Envelopes) == 0 {
			break
		}
		results = append(results, page.Envelopes...)
	}

	if len(results) > MaxSearchResults {
		results = results[:MaxSearchResults]
	}
	return results, nil
}
