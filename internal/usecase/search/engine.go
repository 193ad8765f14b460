// Package search ranks stored records by vector similarity to a query.
//
// Ranking is an exhaustive scan: every record with an embedding of the query's
// dimension is scored with cosine similarity. Records without an embedding, or
// with an embedding of another dimension, are skipped and counted in metrics.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"uplink/internal/domain/entity"
	"uplink/internal/observability/metrics"
	"uplink/internal/observability/tracing"
)

// Embedder converts text into a vector.
// Implementations should wrap failures with entity.ErrEmbedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RecordReader is the read side of the record store used for ranking.
type RecordReader interface {
	ListAll(ctx context.Context) ([]*entity.Record, error)
	GetByID(ctx context.Context, id int64) (*entity.Record, error)
}

// Result is a ranked record. The embedding is not carried.
type Result struct {
	ID         int64       `json:"id"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Content    string      `json:"content"`
	Source     string      `json:"source"`
	Bias       entity.Bias `json:"bias"`
	Similarity float64     `json:"similarity"`

	// numeric bias as resolved by Record.BiasValue; biasOK is false for
	// stored text that does not parse
	biasValue entity.Bias
	biasOK    bool
}

func newResult(rec *entity.Record, similarity float64) Result {
	res := Result{
		ID:         rec.ID,
		Title:      rec.Title,
		URL:        rec.URL,
		Content:    rec.Content,
		Source:     rec.Source,
		Bias:       rec.Bias,
		Similarity: similarity,
	}
	res.biasValue, res.biasOK = rec.BiasValue()
	return res
}

// Config holds engine limits.
type Config struct {
	MaxTopK          int // Largest topK accepted from callers
	BatchParallelism int // Concurrent embeddings in BatchSearch
}

// DefaultConfig returns the default engine limits.
func DefaultConfig() Config {
	return Config{MaxTopK: 100, BatchParallelism: 4}
}

// Engine ranks records from a RecordReader against embedded queries.
type Engine struct {
	repo     RecordReader
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates an Engine. Zero config fields take their defaults.
func NewEngine(repo RecordReader, embedder Embedder, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = def.BatchParallelism
	}
	return &Engine{
		repo:     repo,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// MaxTopK returns the largest accepted topK.
func (e *Engine) MaxTopK() int { return e.cfg.MaxTopK }

// ValidateQuery checks a query string and topK against the engine limits.
func (e *Engine) ValidateQuery(query string, topK int) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query must not be empty", entity.ErrInvalidQuery)
	}
	return e.validateTopK(topK)
}

func (e *Engine) validateTopK(topK int) error {
	if topK < 1 || topK > e.cfg.MaxTopK {
		return fmt.Errorf("%w: top_k must be within [1, %d], got %d", entity.ErrInvalidQuery, e.cfg.MaxTopK, topK)
	}
	return nil
}

// Search embeds query and returns at most topK records ordered by descending
// similarity. Ties keep store order.
//
// Returns:
//   - []Result: Ranked results, never nil
//   - error: entity.ErrInvalidQuery, entity.ErrEmbedding or entity.ErrStorage;
//     ctx.Err() unwrapped when ctx ends while the query is being embedded
//
// Example:
//
//	results, err := engine.Search(ctx, "central bank rate decision", 5)
//	if err != nil {
//	    return err
//	}
//	for _, r := range results {
//	    fmt.Printf("%.3f %s\n", r.Similarity, r.Title)
//	}
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	ctx, span := e.startSpan(ctx, "search.Search",
		attribute.String("search.query", query),
		attribute.Int("search.top_k", topK))
	defer span.End()

	if err := e.ValidateQuery(query, topK); err != nil {
		return nil, recordSpanError(span, err)
	}

	start := time.Now()
	results, scanned, err := e.searchText(ctx, query, topK)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("Search: %w", err))
	}
	metrics.RecordSearch("search", time.Since(start), scanned)
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results, nil
}

// SearchWithFilters ranks like Search, then applies filters.
//
// It over-fetches 2*topK candidates, filters them by similarity threshold,
// source allowlist and bias range (in that order) and truncates to topK.
// Results are never padded, so fewer than topK may be returned. When a bias
// range is set, records whose stored bias is not numeric are excluded.
func (e *Engine) SearchWithFilters(ctx context.Context, query string, topK int, filters Filters) ([]Result, error) {
	ctx, span := e.startSpan(ctx, "search.SearchWithFilters",
		attribute.String("search.query", query),
		attribute.Int("search.top_k", topK),
		attribute.StringSlice("search.sources", filters.Sources))
	defer span.End()

	if err := e.ValidateQuery(query, topK); err != nil {
		return nil, recordSpanError(span, err)
	}
	if err := filters.Validate(); err != nil {
		return nil, recordSpanError(span, err)
	}

	start := time.Now()
	candidates, scanned, err := e.searchText(ctx, query, 2*topK)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("SearchWithFilters: %w", err))
	}

	results := filters.apply(candidates)
	if len(results) > topK {
		results = results[:topK]
	}

	metrics.RecordSearch("search_with_filters", time.Since(start), scanned)
	span.SetAttributes(
		attribute.Int("search.candidates", len(candidates)),
		attribute.Int("search.results", len(results)))
	return results, nil
}

// SimilarArticles returns up to topK records most similar to the stored
// record with the given ID, excluding that record.
//
// A missing reference record, or one without an embedding, yields an empty
// result rather than an error.
func (e *Engine) SimilarArticles(ctx context.Context, recordID int64, topK int) ([]Result, error) {
	ctx, span := e.startSpan(ctx, "search.SimilarArticles",
		attribute.Int64("search.record_id", recordID),
		attribute.Int("search.top_k", topK))
	defer span.End()

	if err := e.validateTopK(topK); err != nil {
		return nil, recordSpanError(span, err)
	}

	start := time.Now()
	ref, err := e.repo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			e.logger.Debug("reference record not found", slog.Int64("record_id", recordID))
			return []Result{}, nil
		}
		return nil, recordSpanError(span, fmt.Errorf("SimilarArticles: %w", err))
	}
	if !ref.HasEmbedding() {
		e.logger.Debug("reference record has no embedding", slog.Int64("record_id", recordID))
		return []Result{}, nil
	}

	results, scanned, err := e.rank(ctx, ref.Embedding, topK, recordID)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("SimilarArticles: %w", err))
	}
	metrics.RecordSearch("similar_articles", time.Since(start), scanned)
	return results, nil
}

// BatchSearch runs several queries and returns results keyed by query.
//
// The store is scanned once; queries are embedded concurrently, bounded by
// Config.BatchParallelism. Any invalid query or embedding failure fails the
// whole batch. Duplicate queries are answered once.
func (e *Engine) BatchSearch(ctx context.Context, queries []string, topK int) (map[string][]Result, error) {
	ctx, span := e.startSpan(ctx, "search.BatchSearch",
		attribute.Int("search.queries", len(queries)),
		attribute.Int("search.top_k", topK))
	defer span.End()

	for _, q := range queries {
		if err := e.ValidateQuery(q, topK); err != nil {
			return nil, recordSpanError(span, err)
		}
	}

	start := time.Now()
	records, err := e.repo.ListAll(ctx)
	if err != nil {
		return nil, recordSpanError(span, fmt.Errorf("BatchSearch: %w", err))
	}

	var (
		mu  sync.Mutex
		out = make(map[string][]Result, len(queries))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchParallelism)

	for _, q := range queries {
		mu.Lock()
		_, seen := out[q]
		if !seen {
			out[q] = nil
		}
		mu.Unlock()
		if seen {
			continue
		}

		g.Go(func() error {
			vec, err := e.embed(gctx, q)
			if err != nil {
				return err
			}
			results := e.rankRecords(records, vec, topK, 0)

			mu.Lock()
			out[q] = results
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, recordSpanError(span, fmt.Errorf("BatchSearch: %w", err))
	}

	metrics.RecordSearch("batch_search", time.Since(start), len(records))
	return out, nil
}

func (e *Engine) searchText(ctx context.Context, query string, topK int) ([]Result, int, error) {
	vec, err := e.embed(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	return e.rank(ctx, vec, topK, 0)
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		// the caller gave up; that is not an embedding failure
		if ctxErr := ctx.Err(); ctxErr != nil &&
			(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, ctxErr
		}
		if errors.Is(err, entity.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", entity.ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embedder returned an empty vector", entity.ErrEmbedding)
	}
	return vec, nil
}

// rank is the ranking core shared by every search operation. A non-zero
// excludeID removes that record from the results.
func (e *Engine) rank(ctx context.Context, vec []float32, topK int, excludeID int64) ([]Result, int, error) {
	records, err := e.repo.ListAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	return e.rankRecords(records, vec, topK, excludeID), len(records), nil
}

// rankRecords scores records against vec. topK is not checked against MaxTopK
// here because filtered searches over-fetch.
func (e *Engine) rankRecords(records []*entity.Record, vec []float32, topK int, excludeID int64) []Result {
	scored := make([]Result, 0, len(records))
	var noEmbedding, mismatch int

	for _, rec := range records {
		if excludeID != 0 && rec.ID == excludeID {
			continue
		}
		if !rec.HasEmbedding() {
			noEmbedding++
			continue
		}
		if len(rec.Embedding) != len(vec) {
			mismatch++
			continue
		}
		scored = append(scored, newResult(rec, CosineSimilarity(vec, rec.Embedding)))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	metrics.RecordSearchSkipped("no_embedding", noEmbedding)
	metrics.RecordSearchSkipped("dimension_mismatch", mismatch)
	if mismatch > 0 {
		e.logger.Debug("skipped records with mismatched embedding dimension",
			slog.Int("count", mismatch),
			slog.Int("query_dimension", len(vec)))
	}
	return scored
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracing.GetTracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
