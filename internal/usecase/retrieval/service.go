// Package retrieval is the single entry point collaborators use to store and
// find records. It routes every mutation through the write serializer and
// serves searches through the result cache and the similarity engine.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"uplink/internal/domain/entity"
	"uplink/internal/infra/cache"
	"uplink/internal/observability/logging"
	"uplink/internal/observability/metrics"
	"uplink/internal/observability/tracing"
	"uplink/internal/repository"
	"uplink/internal/usecase/search"
	"uplink/internal/usecase/write"
)

// ErrAlreadyIngested is returned by Ingest when the URL is already stored and
// Force is not set.
var ErrAlreadyIngested = errors.New("record already ingested")

// Writer accepts record writes. *write.Serializer implements it.
type Writer interface {
	Submit(ctx context.Context, rec *entity.Record) (*write.Task, error)
	Stats() write.Stats
}

// SearchEngine ranks records. *search.Engine implements it.
type SearchEngine interface {
	ValidateQuery(query string, topK int) error
	Search(ctx context.Context, query string, topK int) ([]search.Result, error)
	SearchWithFilters(ctx context.Context, query string, topK int, filters search.Filters) ([]search.Result, error)
	SimilarArticles(ctx context.Context, recordID int64, topK int) ([]search.Result, error)
	BatchSearch(ctx context.Context, queries []string, topK int) (map[string][]search.Result, error)
}

// Classifier assigns a political bias to article text.
// Implementations should wrap failures with entity.ErrClassification.
type Classifier interface {
	Classify(ctx context.Context, text string) (entity.Bias, error)
}

// Config holds façade defaults.
type Config struct {
	DefaultTopK       int           // topK used when a request leaves it at zero
	WriteTimeout      time.Duration // wait bound for writes that block
	IngestParallelism int           // default concurrency for IngestBatch
	SearchTimeout     time.Duration // bound for a search shared by concurrent callers
}

// DefaultConfig returns the default façade settings.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:       10,
		WriteTimeout:      30 * time.Second,
		IngestParallelism: 4,
		SearchTimeout:     60 * time.Second,
	}
}

// Dependencies are the collaborators composed by the Service.
// Cache and Classifier may be nil: searches are then uncached and ingested
// records are stored as neutral.
type Dependencies struct {
	Repo       repository.RecordRepository
	Writer     Writer
	Engine     SearchEngine
	Cache      *cache.Cache
	Embedder   search.Embedder
	Classifier Classifier
}

// Service is the retrieval façade.
type Service struct {
	repo       repository.RecordRepository
	writer     Writer
	engine     SearchEngine
	cache      *cache.Cache
	embedder   search.Embedder
	classifier Classifier
	cfg        Config

	group singleflight.Group
}

// NewService wires the façade.
//
// Example:
//
//	svc := retrieval.NewService(retrieval.Dependencies{
//	    Repo:     repo,
//	    Writer:   serializer,
//	    Engine:   search.NewEngine(repo, embedder, search.DefaultConfig()),
//	    Cache:    resultCache,
//	    Embedder: embedder,
//	}, retrieval.DefaultConfig())
func NewService(deps Dependencies, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IngestParallelism <= 0 {
		cfg.IngestParallelism = def.IngestParallelism
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	return &Service{
		repo:       deps.Repo,
		writer:     deps.Writer,
		engine:     deps.Engine,
		cache:      deps.Cache,
		embedder:   deps.Embedder,
		classifier: deps.Classifier,
		cfg:        cfg,
	}
}

/* ───────── write path ───────── */

// WriteInput is a fully prepared record.
type WriteInput struct {
	Title     string
	URL       string
	Content   string
	Embedding []float32
	Source    string
	Bias      entity.Bias
}

func (in WriteInput) record() *entity.Record {
	return &entity.Record{
		Title:     strings.TrimSpace(in.Title),
		URL:       strings.TrimSpace(in.URL),
		Content:   in.Content,
		Embedding: in.Embedding,
		Source:    in.Source,
		Bias:      in.Bias,
	}
}

// WriteOptions controls whether Write blocks.
type WriteOptions struct {
	Wait    bool
	Timeout time.Duration // 0 = Config.WriteTimeout
}

// Write validates the record and submits it to the serializer.
//
// Without Wait it returns as soon as the task is queued. With Wait it blocks
// until the task completes or the timeout elapses; a timeout error wraps
// write.ErrSerializerTimeout and the write may still be applied.
//
// Returns:
//   - *write.Task: Handle for the queued write (nil if it was never queued)
//   - error: *entity.ValidationError, write.ErrSerializerStopped, write.ErrSerializerTimeout
//     or an entity.ErrStorage failure of the task
func (s *Service) Write(ctx context.Context, in WriteInput, opts WriteOptions) (*write.Task, error) {
	rec := in.record()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	task, err := s.writer.Submit(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("Write: %w", err)
	}
	if !opts.Wait {
		return task, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.WriteTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := task.Wait(waitCtx); err != nil {
		return task, fmt.Errorf("Write: %w", err)
	}
	return task, nil
}

// IngestInput is an extracted article awaiting embedding and classification.
type IngestInput struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Force   bool   `json:"force,omitempty"` // re-ingest even if the URL is stored
}

// IngestResult describes a stored or skipped article.
type IngestResult struct {
	RecordID int64       `json:"record_id"`
	URL      string      `json:"url"`
	Bias     entity.Bias `json:"bias"`
	Skipped  bool        `json:"skipped"`
}

// Ingest embeds and classifies an article, then stores it and waits for the write.
//
// An article whose URL is already stored is skipped with ErrAlreadyIngested
// unless Force is set; the result then carries the existing record ID.
// Embedding and classification failures wrap entity.ErrEmbedding and
// entity.ErrClassification and nothing is written.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (IngestResult, error) {
	logger := logging.FromContext(ctx)
	candidate := WriteInput{Title: in.Title, URL: in.URL}.record()
	if err := candidate.Validate(); err != nil {
		metrics.RecordIngest("failed")
		return IngestResult{URL: in.URL}, err
	}
	url := candidate.URL

	existing, err := s.repo.GetByURL(ctx, url)
	switch {
	case err == nil && !in.Force:
		metrics.RecordIngest("skipped")
		logger.Debug("article already ingested", slog.String("url", url), slog.Int64("record_id", existing.ID))
		return IngestResult{RecordID: existing.ID, URL: url, Bias: existing.Bias, Skipped: true}, ErrAlreadyIngested
	case err != nil && !errors.Is(err, entity.ErrNotFound):
		metrics.RecordIngest("failed")
		return IngestResult{URL: url}, fmt.Errorf("Ingest: %w", err)
	}

	text := in.Content
	if strings.TrimSpace(text) == "" {
		text = in.Title
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		metrics.RecordIngest("failed")
		if err == nil {
			err = errors.New("empty vector")
		}
		if !errors.Is(err, entity.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", entity.ErrEmbedding, err)
		}
		return IngestResult{URL: url}, fmt.Errorf("Ingest: %w", err)
	}

	bias := entity.BiasNeutral
	if s.classifier != nil {
		bias, err = s.classifier.Classify(ctx, text)
		if err != nil {
			metrics.RecordIngest("failed")
			if !errors.Is(err, entity.ErrClassification) {
				err = fmt.Errorf("%w: %w", entity.ErrClassification, err)
			}
			return IngestResult{URL: url}, fmt.Errorf("Ingest: %w", err)
		}
	}

	task, err := s.Write(ctx, WriteInput{
		Title:     in.Title,
		URL:       url,
		Content:   in.Content,
		Embedding: vec,
		Source:    in.Source,
		Bias:      bias,
	}, WriteOptions{Wait: true})
	if err != nil {
		metrics.RecordIngest("failed")
		return IngestResult{URL: url}, fmt.Errorf("Ingest: %w", err)
	}

	res, _ := task.Result()
	metrics.RecordIngest("stored")
	logger.Info("article ingested",
		slog.String("url", url),
		slog.Int64("record_id", res.RecordID),
		slog.String("bias", bias.Label()))
	return IngestResult{RecordID: res.RecordID, URL: url, Bias: bias}, nil
}

// IngestOutcome pairs a batch input with its result.
type IngestOutcome struct {
	Input  IngestInput
	Result IngestResult
	Err    error
}

// IngestBatch ingests inputs concurrently. A failing item does not stop the
// others; outcomes are returned in input order. parallelism <= 0 uses
// Config.IngestParallelism.
func (s *Service) IngestBatch(ctx context.Context, inputs []IngestInput, parallelism int) []IngestOutcome {
	if parallelism <= 0 {
		parallelism = s.cfg.IngestParallelism
	}

	outcomes := make([]IngestOutcome, len(inputs))
	var g errgroup.Group
	g.SetLimit(parallelism)

	for i, in := range inputs {
		g.Go(func() error {
			res, err := s.Ingest(ctx, in)
			outcomes[i] = IngestOutcome{Input: in, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

/* ───────── read path ───────── */

// Find returns the record stored under url, or entity.ErrNotFound.
func (s *Service) Find(ctx context.Context, url string) (*entity.Record, error) {
	return s.repo.GetByURL(ctx, strings.TrimSpace(url))
}

// List returns every stored record ordered by ID.
func (s *Service) List(ctx context.Context) ([]*entity.Record, error) {
	return s.repo.ListAll(ctx)
}

// Count returns the number of records matching filter.
func (s *Service) Count(ctx context.Context, filter repository.CountFilter) (int64, error) {
	return s.repo.Count(ctx, filter)
}

// ListByContentLength returns records within the content length bounds,
// longest first.
func (s *Service) ListByContentLength(ctx context.Context, filter repository.CountFilter, limit int) ([]*entity.Record, error) {
	return s.repo.ListByContentLength(ctx, filter, limit)
}

// SearchInput is a semantic search request.
type SearchInput struct {
	Query         string
	TopK          int // 0 = Config.DefaultTopK
	Sources       []string
	BiasRange     *search.BiasRange
	MinSimilarity *float64
}

func (in SearchInput) filters() search.Filters {
	return search.Filters{
		Sources:       in.Sources,
		BiasRange:     in.BiasRange,
		MinSimilarity: in.MinSimilarity,
	}
}

// SearchOutput is a ranked result set.
type SearchOutput struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
	Cached  bool            `json:"cached"`
}

// Search answers a semantic search, from the cache when possible.
//
// The cache key covers the query, topK and every filter. On a miss the engine
// runs once per key even under concurrent identical requests, and the result
// is cached. A cache hit never touches the engine.
//
// Example:
//
//	out, err := svc.Search(ctx, retrieval.SearchInput{
//	    Query:     "interest rates",
//	    TopK:      5,
//	    BiasRange: &search.BiasRange{Min: -1, Max: 1},
//	})
func (s *Service) Search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "retrieval.Search")
	defer span.End()

	query := strings.TrimSpace(in.Query)
	topK := in.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	filters := in.filters()

	if err := s.engine.ValidateQuery(query, topK); err != nil {
		return nil, err
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	params := searchParams(topK, filters)
	if s.cache != nil {
		var cached []search.Result
		if s.cache.GetInto(ctx, query, params, &cached) {
			span.SetAttributes(attribute.Bool("search.cached", true))
			return &SearchOutput{Query: query, Results: cached, Cached: true}, nil
		}
	}

	// The computation is shared by every caller waiting on the key, so it
	// must not die with the first caller's context. Each caller still stops
	// waiting when its own context ends.
	ch := s.group.DoChan(cache.Key(query, params), func() (any, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SearchTimeout)
		defer cancel()

		var (
			results []search.Result
			err     error
		)
		if filters.IsZero() {
			results, err = s.engine.Search(workCtx, query, topK)
		} else {
			results, err = s.engine.SearchWithFilters(workCtx, query, topK, filters)
		}
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(workCtx, query, params, results)
		}
		return results, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("Search: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("Search: %w", res.Err)
	}

	span.SetAttributes(attribute.Bool("search.cached", false))
	return &SearchOutput{Query: query, Results: res.Val.([]search.Result), Cached: false}, nil
}

// BatchSearch answers several unfiltered queries with the same topK.
//
// Outputs follow the order of queries. Each query is looked up in the cache
// under the same key Search uses; the misses are ranked together with a
// single store scan and then cached. Any invalid query fails the whole batch
// before work starts.
func (s *Service) BatchSearch(ctx context.Context, queries []string, topK int) ([]SearchOutput, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "retrieval.BatchSearch")
	defer span.End()

	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	trimmed := make([]string, len(queries))
	for i, q := range queries {
		trimmed[i] = strings.TrimSpace(q)
		if err := s.engine.ValidateQuery(trimmed[i], topK); err != nil {
			return nil, err
		}
	}

	params := searchParams(topK, search.Filters{})
	hits := make(map[string][]search.Result, len(trimmed))
	var misses []string
	for _, q := range trimmed {
		if _, seen := hits[q]; seen || slices.Contains(misses, q) {
			continue
		}
		var cached []search.Result
		if s.cache != nil && s.cache.GetInto(ctx, q, params, &cached) {
			hits[q] = cached
			continue
		}
		misses = append(misses, q)
	}

	computed := map[string][]search.Result{}
	if len(misses) > 0 {
		var err error
		computed, err = s.engine.BatchSearch(ctx, misses, topK)
		if err != nil {
			return nil, fmt.Errorf("BatchSearch: %w", err)
		}
		if s.cache != nil {
			for _, q := range misses {
				s.cache.Set(ctx, q, params, computed[q])
			}
		}
	}

	out := make([]SearchOutput, 0, len(trimmed))
	for _, q := range trimmed {
		if results, ok := hits[q]; ok {
			out = append(out, SearchOutput{Query: q, Results: results, Cached: true})
			continue
		}
		results := computed[q]
		if results == nil {
			results = []search.Result{}
		}
		out = append(out, SearchOutput{Query: q, Results: results})
	}
	span.SetAttributes(
		attribute.Int("search.queries", len(trimmed)),
		attribute.Int("search.cache_misses", len(misses)))
	return out, nil
}

// searchParams builds the cache parameters for a request. Sources are sorted
// so that allowlist order does not split the cache.
func searchParams(topK int, f search.Filters) map[string]any {
	params := map[string]any{"num": topK}
	if len(f.Sources) > 0 {
		sources := slices.Clone(f.Sources)
		slices.Sort(sources)
		params["sources"] = sources
	}
	if f.BiasRange != nil {
		params["bias_min"] = int(f.BiasRange.Min)
		params["bias_max"] = int(f.BiasRange.Max)
	}
	if f.MinSimilarity != nil {
		params["min_similarity"] = *f.MinSimilarity
	}
	return params
}

// SimilarArticles returns records similar to the stored record id. It is not cached.
func (s *Service) SimilarArticles(ctx context.Context, id int64, topK int) ([]search.Result, error) {
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}
	return s.engine.SimilarArticles(ctx, id, topK)
}

/* ───────── maintenance ───────── */

// Stats is a diagnostic snapshot of the façade.
type Stats struct {
	Queue   write.Stats  `json:"queue"`
	Cache   *cache.Stats `json:"cache,omitempty"`
	Records int64        `json:"records"`
}

// Stats returns queue, cache and inventory statistics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.repo.Count(ctx, repository.CountFilter{})
	if err != nil {
		return Stats{}, fmt.Errorf("Stats: %w", err)
	}
	metrics.UpdateRecordsTotal(n)

	st := Stats{Queue: s.writer.Stats(), Records: n}
	if s.cache != nil {
		cs := s.cache.Stats(ctx)
		st.Cache = &cs
	}
	return st, nil
}

// ClearCache removes every cached result and returns how many were removed.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.ClearAll(ctx)
}

// ClearExpiredCache removes expired cached results and returns how many were removed.
func (s *Service) ClearExpiredCache(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.ClearExpired(ctx)
}
