package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signcrate/signcrate/internal/core"
)

type pagedLister struct {
	total   int
	queries []core.PageQuery
	err     error
}

func (l *pagedLister) ListEnvelopes(ctx context.Context, query core.PageQuery) (*core.EnvelopePage, error) {
	l.queries = append(l.queries, query)
	if l.err != nil {
		return nil, l.err
	}

	page := &core.EnvelopePage{}
	for i := query.StartPosition; i < query.StartPosition+query.PageSize && i < l.total; i++ {
		page.Envelopes = append(page.Envelopes, core.Envelope{EnvelopeID: fmt.Sprintf("env-%04d", i)})
	}
	return page, nil
}

func TestSearchStopsAtCap(t *testing.T) {
	lister := &pagedLister{total: 5000}

	results, err := Search(context.Background(), lister, core.SearchCriteria{PageSize: 100})
	require.NoError(t, err)
	require.Len(t, results, MaxSearchResults)
	require.Len(t, lister.queries, 10, "an 11th page must not be requested")
	require.Equal(t, 900, lister.queries[9].StartPosition)
	require.Equal(t, "env-0999", results[len(results)-1].EnvelopeID)
}

func TestSearchStopsOnEmptyPage(t *testing.T) {
	lister := &pagedLister{total: 0}

	results, err := Search(context.Background(), lister, core.SearchCriteria{PageSize: 100})
	require.NoError(t, err)
	require.Empty(t, results)
	require.Len(t, lister.queries, 1)
}

func TestSearchAccumulatesPartialLastPage(t *testing.T) {
	lister := &pagedLister{total: 250}

	results, err := Search(context.Background(), lister, core.SearchCriteria{})
	require.NoError(t, err)
	require.Len(t, results, 250)
	require.Len(t, lister.queries, 4)
	require.Equal(t, DefaultPageSize, lister.queries[0].PageSize)
}

func TestSearchTruncatesOversizedPages(t *testing.T) {
	lister := &pagedLister{total: 2000}

	results, err := Search(context.Background(), lister, core.SearchCriteria{PageSize: 300})
	require.NoError(t, err)
	require.Len(t, results, MaxSearchResults)
	require.Len(t, lister.queries, 4)
}

func TestSearchPropagatesErrors(t *testing.T) {
	lister := &pagedLister{err: errors.New("unavailable")}

	_, err := Search(context.Background(), lister, core.SearchCriteria{})
	require.ErrorContains(t, err, "unavailable")
}
