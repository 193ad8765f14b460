// Package main provides a CLI for semantic search over stored records.
//
// Usage:
//
//	uplink-search "query" [--top-k N] [--source S]... [--bias-min B] [--bias-max B]
//	              [--min-similarity X] [--output text|json]
//	uplink-search --similar-to ID [--top-k N] [--output text|json]
//	uplink-search --batch FILE [--top-k N] [--output text|json]
//
// A batch file holds one query per line ("-" reads standard input). Batch
// queries are unfiltered and share one store scan.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"uplink/internal/app"
	"uplink/internal/config"
	"uplink/internal/domain/entity"
	"uplink/internal/observability/logging"
	"uplink/internal/usecase/retrieval"
	"uplink/internal/usecase/search"
)

// sourceList collects repeated --source flags.
type sourceList []string

func (s *sourceList) String() string { return strings.Join(*s, ",") }

func (s *sourceList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// options are the parsed command line.
type options struct {
	query         string
	topK          int
	sources       sourceList
	biasMin       int
	biasMax       int
	biasSet       bool
	minSimilarity float64
	minSimSet     bool
	similarTo     int64
	batchFile     string
	output        string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("uplink-search", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.IntVar(&opts.topK, "top-k", 0, "Maximum number of results (default: from configuration)")
	fs.Var(&opts.sources, "source", "Restrict to a source; repeatable or comma separated")
	fs.IntVar(&opts.biasMin, "bias-min", int(entity.BiasLeft), "Minimum bias score")
	fs.IntVar(&opts.biasMax, "bias-max", int(entity.BiasRight), "Maximum bias score")
	fs.Float64Var(&opts.minSimilarity, "min-similarity", 0, "Minimum similarity score (-1.0 to 1.0)")
	fs.Int64Var(&opts.similarTo, "similar-to", 0, "Find records similar to this record ID instead of a query")
	fs.StringVar(&opts.batchFile, "batch", "", "Read one query per line from this file (- for stdin)")
	fs.StringVar(&opts.output, "output", "text", "Output format: text or json")

	// the query may come before the flags
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	opts.query = strings.TrimSpace(strings.Join(positional, " "))

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bias-min", "bias-max":
			opts.biasSet = true
		case "min-similarity":
			opts.minSimSet = true
		}
	})

	switch {
	case opts.output != "text" && opts.output != "json":
		return nil, fmt.Errorf("unsupported output format %q", opts.output)
	case opts.topK < 0:
		return nil, errors.New("top-k must not be negative")
	case opts.similarTo < 0:
		return nil, errors.New("similar-to must be a record ID")
	case opts.batchFile != "" && (opts.query != "" || opts.similarTo != 0):
		return nil, errors.New("--batch cannot be combined with a query or --similar-to")
	case opts.batchFile != "" && (len(opts.sources) > 0 || opts.biasSet || opts.minSimSet):
		return nil, errors.New("--batch does not support filters")
	case opts.batchFile == "" && opts.similarTo == 0 && opts.query == "":
		return nil, errors.New("a search query, --similar-to or --batch is required")
	case opts.biasSet && opts.biasMin > opts.biasMax:
		return nil, fmt.Errorf("bias-min %d exceeds bias-max %d", opts.biasMin, opts.biasMax)
	case opts.minSimSet && (opts.minSimilarity < -1 || opts.minSimilarity > 1):
		return nil, fmt.Errorf("min-similarity %.2f out of range [-1.0, 1.0]", opts.minSimilarity)
	}
	return opts, nil
}

// searchInput builds the request. Without --source the configured default
// sources apply.
func (o *options) searchInput(defaultSources []string) retrieval.SearchInput {
	in := retrieval.SearchInput{Query: o.query, TopK: o.topK}
	if len(o.sources) > 0 {
		in.Sources = o.sources
	} else if len(defaultSources) > 0 {
		in.Sources = defaultSources
	}
	if o.biasSet {
		in.BiasRange = &search.BiasRange{Min: entity.Bias(o.biasMin), Max: entity.Bias(o.biasMax)}
	}
	if o.minSimSet {
		v := o.minSimilarity
		in.MinSimilarity = &v
	}
	return in
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: uplink-search \"query\" [--top-k N] [--source S] [--bias-min B --bias-max B] [--min-similarity X] [--output json]")
		os.Exit(2)
	}

	logger := logging.NewTextLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(logger, opts); err != nil {
		logger.Error("search failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, opts *options) error {
	cfg, err := config.LoadRetrievalConfig(logger, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
	}()

	if opts.batchFile != "" {
		return runBatch(ctx, a.Service, opts)
	}

	var out *retrieval.SearchOutput
	if opts.similarTo > 0 {
		results, err := a.Service.SimilarArticles(ctx, opts.similarTo, opts.topK)
		if err != nil {
			return err
		}
		out = &retrieval.SearchOutput{Query: fmt.Sprintf("similar to #%d", opts.similarTo), Results: results}
	} else {
		in := opts.searchInput(cfg.Search.DefaultSources)
		logger.Debug("searching",
			slog.String("query", in.Query),
			slog.Int("top_k", in.TopK),
			slog.Any("sources", in.Sources))
		out, err = a.Service.Search(ctx, in)
		if err != nil {
			return err
		}
	}

	if opts.output == "json" {
		return writeJSON(os.Stdout, out)
	}
	writeText(os.Stdout, out)
	return nil
}

func runBatch(ctx context.Context, svc *retrieval.Service, opts *options) error {
	in := io.Reader(os.Stdin)
	if opts.batchFile != "-" {
		f, err := os.Open(opts.batchFile)
		if err != nil {
			return fmt.Errorf("open batch file: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	queries, err := readQueries(in)
	if err != nil {
		return err
	}
	outs, err := svc.BatchSearch(ctx, queries, opts.topK)
	if err != nil {
		return err
	}

	if opts.output == "json" {
		return writeJSON(os.Stdout, outs)
	}
	for i := range outs {
		writeText(os.Stdout, &outs[i])
	}
	return nil
}

// readQueries returns the non-blank lines of r, trimmed.
func readQueries(r io.Reader) ([]string, error) {
	var queries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if q := strings.TrimSpace(scanner.Text()); q != "" {
			queries = append(queries, q)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	if len(queries) == 0 {
		return nil, errors.New("batch file contains no queries")
	}
	return queries, nil
}

func writeJSON(w io.Writer, out any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

func writeText(w io.Writer, out *retrieval.SearchOutput) {
	_, _ = fmt.Fprintf(w, "Search Results for: %q\n", out.Query)
	if out.Cached {
		_, _ = fmt.Fprintln(w, "(cached)")
	}
	_, _ = fmt.Fprintf(w, "Results: %d\n\n", len(out.Results))

	if len(out.Results) == 0 {
		_, _ = fmt.Fprintln(w, "No records found matching your query.")
		return
	}
	for i, r := range out.Results {
		_, _ = fmt.Fprintf(w, "%d. %s\n", i+1, r.Title)
		_, _ = fmt.Fprintf(w, "   Similarity: %.4f\n", r.Similarity)
		_, _ = fmt.Fprintf(w, "   Source: %s  Bias: %s\n", r.Source, r.Bias.Label())
		_, _ = fmt.Fprintf(w, "   URL: %s\n\n", r.URL)
	}
}
