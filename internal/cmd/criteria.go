package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signcrate/signcrate/internal/core"
	errwrap "github.com/signcrate/signcrate/internal/errors"
)

const dateLayout = "2006-01-02"

// criteriaFile is the on-disk shape of --criteria. Dates are kept as strings
// so both plain dates and RFC 3339 timestamps are accepted.
type criteriaFile struct {
	FromDate string `yaml:"from_date"`
	ToDate   string `yaml:"to_date"`
	Status   string `yaml:"status"`
	PageSize int    `yaml:"page_size"`
}

var knownStatuses = map[core.EnvelopeStatus]bool{
	core.StatusCreated:   true,
	core.StatusSent:      true,
	core.StatusDelivered: true,
	core.StatusCompleted: true,
	core.StatusDeclined:  true,
	core.StatusVoided:    true,
}

func addCriteriaFlags(cmd *cobra.Command) {
	cmd.Flags().String("criteria", "", "YAML file with from_date, to_date, status and page_size")
	cmd.Flags().String("from", "", "search start date (YYYY-MM-DD, default 30 days before --to)")
	cmd.Flags().String("to", "", "search end date (YYYY-MM-DD, default now)")
	cmd.Flags().String("status", "", "envelope status filter (default completed)")
	cmd.Flags().Int("page-size", 0, "search page size (default download.page_size)")
}

// hasCriteriaFlags reports whether any search flag was given.
func hasCriteriaFlags(cmd *cobra.Command) bool {
	for _, name := range []string{"criteria", "from", "to", "status", "page-size"} {
		if flag := cmd.Flags().Lookup(name); flag != nil && flag.Changed {
			return true
		}
	}
	return false
}

// resolveCriteria layers the criteria file, then flags, then defaults.
func resolveCriteria(cmd *cobra.Command, defaultPageSize int, now time.Time) (core.SearchCriteria, error) {
	var criteria core.SearchCriteria

	path, err := cmd.Flags().GetString("criteria")
	if err != nil {
		return criteria, err
	}
	if strings.TrimSpace(path) != "" {
		criteria, err = loadCriteriaFile(path)
		if err != nil {
			return criteria, err
		}
	}

	from, err := cmd.Flags().GetString("from")
	if err != nil {
		return criteria, err
	}
	if strings.TrimSpace(from) != "" {
		if criteria.FromDate, err = parseDate(from); err != nil {
			return criteria, errwrap.NewInvalidInputError(fmt.Sprintf("invalid --from: %v", err))
		}
	}

	to, err := cmd.Flags().GetString("to")
	if err != nil {
		return criteria, err
	}
	if strings.TrimSpace(to) != "" {
		if criteria.ToDate, err = parseDate(to); err != nil {
			return criteria, errwrap.NewInvalidInputError(fmt.Sprintf("invalid --to: %v", err))
		}
		// a bare end date includes that whole day
		if len(strings.TrimSpace(to)) == len(dateLayout) {
			criteria.ToDate = criteria.ToDate.Add(24*time.Hour - time.Second)
		}
	}

	status, err := cmd.Flags().GetString("status")
	if err != nil {
		return criteria, err
	}
	if strings.TrimSpace(status) != "" {
		criteria.Status = core.EnvelopeStatus(strings.ToLower(strings.TrimSpace(status)))
	}

	pageSize, err := cmd.Flags().GetInt("page-size")
	if err != nil {
		return criteria, err
	}
	if pageSize > 0 {
		criteria.PageSize = pageSize
	}
	if criteria.PageSize == 0 {
		criteria.PageSize = defaultPageSize
	}

	criteria = criteria.WithDefaults(now)
	if err := validateCriteria(criteria); err != nil {
		return criteria, err
	}
	return criteria, nil
}

func loadCriteriaFile(path string) (core.SearchCriteria, error) {
	var criteria core.SearchCriteria

	data, err := os.ReadFile(path)
	if err != nil {
		return criteria, fmt.Errorf("read criteria file: %w", err)
	}

	var raw criteriaFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return criteria, errwrap.NewInvalidInputError(fmt.Sprintf("parse criteria file %s: %v", path, err))
	}

	if strings.TrimSpace(raw.FromDate) != "" {
		if criteria.FromDate, err = parseDate(raw.FromDate); err != nil {
			return criteria, errwrap.NewInvalidInputError(fmt.Sprintf("criteria from_date: %v", err))
		}
	}
	if strings.TrimSpace(raw.ToDate) != "" {
		if criteria.ToDate, err = parseDate(raw.ToDate); err != nil {
			return criteria, errwrap.NewInvalidInputError(fmt.Sprintf("criteria to_date: %v", err))
		}
	}
	criteria.Status = core.EnvelopeStatus(strings.ToLower(strings.TrimSpace(raw.Status)))
	criteria.PageSize = raw.PageSize
	return criteria, nil
}

func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if t, err := time.Parse(dateLayout, trimmed); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC 3339", value)
	}
	return t.UTC(), nil
}

func validateCriteria(criteria core.SearchCriteria) error {
	if criteria.ToDate.Before(criteria.FromDate) {
		return errwrap.NewInvalidInputError(fmt.Sprintf("search window ends (%s) before it starts (%s)",
			criteria.ToDate.Format(dateLayout), criteria.FromDate.Format(dateLayout)))
	}
	if !knownStatuses[criteria.Status] {
		return errwrap.NewInvalidInputError(fmt.Sprintf("unknown envelope status %q", criteria.Status))
	}
	if criteria.PageSize < 0 {
		return errwrap.NewInvalidInputError("page size must not be negative")
	}
	return nil
}

// collectEnvelopeIDs merges positional IDs with an optional IDs file,
// dropping blanks, comments and duplicates while keeping first-seen order.
func collectEnvelopeIDs(args []string, idsFile string) ([]string, error) {
	ids := append([]string(nil), args...)

	if strings.TrimSpace(idsFile) != "" {
		var (
			reader io.Reader
			closer func() error
		)
		if idsFile == "-" {
			reader, closer = os.Stdin, func() error { return nil }
		} else {
			file, err := os.Open(idsFile)
			if err != nil {
				return nil, fmt.Errorf("open ids file: %w", err)
			}
			reader, closer = file, file.Close
		}
		defer closer() // nolint:errcheck // read-only handle

		fromFile, err := readEnvelopeIDs(reader)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}

	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		clean := strings.TrimSpace(id)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		unique = append(unique, clean)
	}
	return unique, nil
}

func readEnvelopeIDs(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// allow comma-separated lists on one line
		for _, part := range strings.Split(line, ",") {
			if id := strings.TrimSpace(part); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	return ids, nil
}
