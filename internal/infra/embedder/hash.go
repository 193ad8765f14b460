package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"uplink/internal/domain/entity"
	"uplink/internal/observability/metrics"
)

// DefaultHashDimension is the vector size of a Hash embedder created with dimension 0.
const DefaultHashDimension = 256

// Hash is a deterministic, offline embedder based on feature hashing of
// lowercased word tokens. Texts sharing words get similar vectors. It needs no
// network access and is meant for tests, demos and air-gapped runs.
type Hash struct {
	dim int
}

// NewHash creates a Hash embedder producing vectors of the given dimension.
func NewHash(dimension int) *Hash {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &Hash{dim: dimension}
}

// Name returns the provider label used in metrics.
func (h *Hash) Name() string { return "hash" }

// Dimension returns the output vector size.
func (h *Hash) Dimension() int { return h.dim }

// Embed returns the L2-normalized hashed token vector of text.
// Text without any word token is an error wrapping entity.ErrEmbedding.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		metrics.RecordEmbedding(h.Name(), false, time.Since(start))
		return nil, fmt.Errorf("%w: %w", entity.ErrEmbedding, err)
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		metrics.RecordEmbedding(h.Name(), false, time.Since(start))
		return nil, fmt.Errorf("%w: text has no tokens", entity.ErrEmbedding)
	}

	acc := make([]float64, h.dim)
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()

		idx := int(sum % uint64(h.dim))
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		acc[idx] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, h.dim)
	if norm > 0 {
		for i, v := range acc {
			vec[i] = float32(v / norm)
		}
	}

	metrics.RecordEmbedding(h.Name(), true, time.Since(start))
	return vec, nil
}
