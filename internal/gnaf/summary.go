package gnaf

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/addresskit/addresskit/internal/dsv"
)

// Summary holds the expected row count per constituent file, parsed from
// the release's Counts.csv ("File Name,Count").
type Summary struct {
	counts map[string]int64
}

// ParseSummary reads a Counts.csv stream.
func ParseSummary(ctx context.Context, r io.Reader) (*Summary, error) {
	counts := make(map[string]int64)
	_, err := dsv.Stream(ctx, r, dsv.Options{Delimiter: ','}, func(ctx context.Context, rows []dsv.Row) error {
		for _, row := range rows {
			name := strings.TrimSpace(row.Field("FILE NAME"))
			raw := strings.TrimSpace(row.Field("COUNT"))
			if name == "" || raw == "" {
				continue
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return eris.Errorf("gnaf: bad count %q for %s", raw, name)
			}
			counts[name] = n
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "gnaf: parse counts summary")
	}
	return &Summary{counts: counts}, nil
}

// Expected returns the row count recorded for file, if any. File names in
// the summary may carry a .psv or .zip suffix depending on release vintage,
// so the lookup also tries the bare stem.
func (s *Summary) Expected(file string) (int64, bool) {
	if n, ok := s.counts[file]; ok {
		return n, true
	}
	stem := strings.TrimSuffix(file, ".psv")
	for name, n := range s.counts {
		if strings.TrimSuffix(name, ".psv") == stem {
			return n, true
		}
	}
	return 0, false
}

// Len reports the number of files the summary covers.
func (s *Summary) Len() int {
	return len(s.counts)
}
