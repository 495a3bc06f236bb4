package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signcrate/signcrate/internal/core"
	errwrap "github.com/signcrate/signcrate/internal/errors"
)

func newCriteriaCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addCriteriaFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

var criteriaNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func TestResolveCriteriaDefaults(t *testing.T) {
	c := newCriteriaCmd(t)
	assert.False(t, hasCriteriaFlags(c))

	criteria, err := resolveCriteria(c, 100, criteriaNow)
	require.NoError(t, err)
	assert.Equal(t, criteriaNow, criteria.ToDate)
	assert.Equal(t, criteriaNow.Add(-core.DefaultSearchWindow), criteria.FromDate)
	assert.Equal(t, core.StatusCompleted, criteria.Status)
	assert.Equal(t, 100, criteria.PageSize)
}

func TestResolveCriteriaFlags(t *testing.T) {
	c := newCriteriaCmd(t, "--from", "2024-01-01", "--to", "2024-01-31", "--status", "Voided", "--page-size", "25")
	assert.True(t, hasCriteriaFlags(c))

	criteria, err := resolveCriteria(c, 100, criteriaNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), criteria.FromDate)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), criteria.ToDate)
	assert.Equal(t, core.StatusVoided, criteria.Status)
	assert.Equal(t, 25, criteria.PageSize)
}

func TestResolveCriteriaFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
from_date: 2023-06-01
to_date: 2023-06-30T18:00:00Z
status: declined
page_size: 50
`), 0o600))

	c := newCriteriaCmd(t, "--criteria", path, "--status", "completed")
	criteria, err := resolveCriteria(c, 100, criteriaNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), criteria.FromDate)
	assert.Equal(t, time.Date(2023, 6, 30, 18, 0, 0, 0, time.UTC), criteria.ToDate)
	// flag wins over the file
	assert.Equal(t, core.StatusCompleted, criteria.Status)
	assert.Equal(t, 50, criteria.PageSize)
}

func TestResolveCriteriaRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"bad date":       {"--from", "01/02/2024"},
		"reversed range": {"--from", "2024-02-01", "--to", "2024-01-01"},
		"unknown status": {"--status", "archived"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := resolveCriteria(newCriteriaCmd(t, args...), 100, criteriaNow)
			require.Error(t, err)
			assert.Equal(t, errwrap.CodeInvalidInput, errwrap.CodeOf(err))
		})
	}
}

func TestResolveCriteriaMissingFile(t *testing.T) {
	c := newCriteriaCmd(t, "--criteria", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := resolveCriteria(c, 100, criteriaNow)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCollectEnvelopeIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte(`
# exported from the admin console
env-2
env-3, env-4

env-1
`), 0o600))

	ids, err := collectEnvelopeIDs([]string{"env-1", " env-2 ", ""}, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"env-1", "env-2", "env-3", "env-4"}, ids)

	ids, err = collectEnvelopeIDs(nil, "")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = collectEnvelopeIDs(nil, filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

func TestReadEnvelopeIDs(t *testing.T) {
	ids, err := readEnvelopeIDs(strings.NewReader("a\n#b\n c ,d\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, ids)
}
