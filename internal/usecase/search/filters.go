package search

import (
	"fmt"
	"slices"
	"strings"

	"uplink/internal/domain/entity"
)

// BiasRange is an inclusive bias interval.
type BiasRange struct {
	Min entity.Bias `json:"min"`
	Max entity.Bias `json:"max"`
}

// Contains reports whether b lies within the range.
func (r BiasRange) Contains(b entity.Bias) bool {
	return b >= r.Min && b <= r.Max
}

// Filters narrows ranked results. The zero value filters nothing.
type Filters struct {
	Sources       []string   // Optional: allowlist of record sources
	BiasRange     *BiasRange // Optional: inclusive bias range
	MinSimilarity *float64   // Optional: minimum similarity score
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return len(f.Sources) == 0 && f.BiasRange == nil && f.MinSimilarity == nil
}

// Validate checks the filter values.
// Returns an error wrapping entity.ErrInvalidQuery.
func (f Filters) Validate() error {
	if f.MinSimilarity != nil {
		if v := *f.MinSimilarity; v < -1 || v > 1 || v != v {
			return fmt.Errorf("%w: min similarity must be within [-1, 1], got %v", entity.ErrInvalidQuery, v)
		}
	}
	if f.BiasRange != nil && f.BiasRange.Min > f.BiasRange.Max {
		return fmt.Errorf("%w: bias range min %d exceeds max %d",
			entity.ErrInvalidQuery, f.BiasRange.Min, f.BiasRange.Max)
	}
	for _, s := range f.Sources {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: source must not be empty", entity.ErrInvalidQuery)
		}
	}
	return nil
}

// apply keeps results passing, in order, the similarity threshold, the source
// allowlist and the bias range.
func (f Filters) apply(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if f.MinSimilarity != nil && r.Similarity < *f.MinSimilarity {
			continue
		}
		if len(f.Sources) > 0 && !slices.Contains(f.Sources, r.Source) {
			continue
		}
		if f.BiasRange != nil {
			if !r.biasOK || !f.BiasRange.Contains(r.biasValue) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
