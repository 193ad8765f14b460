// Package main ingests already-extracted articles.
//
// Usage:
//
//	uplink-ingest [--file articles.jsonl] [--parallelism N] [--force] [--output text|json]
//
// Input is one JSON object per line with title, url, content and source.
// Without --file, lines are read from stdin.
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
	"os/signal"
	"strings"
	"syscall"

	"uplink/internal/app"
	"uplink/internal/config"
	"uplink/internal/observability/logging"
	"uplink/internal/usecase/retrieval"
)

// maxLineBytes bounds a single JSON line; article bodies can be large.
const maxLineBytes = 16 << 20

// Summary is the report printed after a run.
type Summary struct {
	Total    int           `json:"total"`
	Ingested int           `json:"ingested"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Errors   []ItemFailure `json:"errors,omitempty"`
}

// ItemFailure names a failed input line.
type ItemFailure struct {
	Line  int    `json:"line"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error"`
}

func main() {
	var (
		file        string
		parallelism int
		force       bool
		output      string
	)
	flag.StringVar(&file, "file", "", "JSON lines file to ingest (default: stdin)")
	flag.IntVar(&parallelism, "parallelism", 0, "Concurrent ingests (default: from configuration)")
	flag.BoolVar(&force, "force", false, "Re-ingest articles whose URL is already stored")
	flag.StringVar(&output, "output", "text", "Output format: text or json")
	flag.Parse()

	logger := logging.NewTextLogger(os.Stderr)
	slog.SetDefault(logger)

	code, err := run(logger, file, parallelism, force, output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

func run(logger *slog.Logger, file string, parallelism int, force bool, output string) (int, error) {
	if output != "text" && output != "json" {
		return 2, fmt.Errorf("unsupported output format %q", output)
	}

	var in io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return 1, err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	inputs, lines, err := ReadInputs(in)
	if err != nil {
		return 1, err
	}
	if force {
		for i := range inputs {
			inputs[i].Force = true
		}
	}

	cfg, err := config.LoadRetrievalConfig(logger, nil)
	if err != nil {
		return 1, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
	}()
	if err := a.Start(); err != nil {
		return 1, err
	}

	logger.Info("ingesting articles", slog.Int("count", len(inputs)))
	outcomes := a.Service.IngestBatch(ctx, inputs, parallelism)
	summary := Summarize(outcomes, lines)

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return 1, err
		}
	} else {
		printText(os.Stdout, summary)
	}

	if summary.Failed > 0 {
		return 1, nil
	}
	return 0, nil
}

// ReadInputs parses JSON lines. Blank lines are ignored. It returns the inputs
// and the 1-based source line of each; a malformed line is an error naming it.
func ReadInputs(r io.Reader) ([]retrieval.IngestInput, []int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		inputs []retrieval.IngestInput
		lines  []int
		n      int
	)
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var in retrieval.IngestInput
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", n, err)
		}
		inputs = append(inputs, in)
		lines = append(lines, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read input: %w", err)
	}
	return inputs, lines, nil
}

// Summarize counts outcomes. Articles already stored count as skipped.
func Summarize(outcomes []retrieval.IngestOutcome, lines []int) Summary {
	s := Summary{Total: len(outcomes)}
	for i, o := range outcomes {
		switch {
		case o.Err == nil:
			s.Ingested++
		case errors.Is(o.Err, retrieval.ErrAlreadyIngested):
			s.Skipped++
		default:
			s.Failed++
			line := 0
			if i < len(lines) {
				line = lines[i]
			}
			s.Errors = append(s.Errors, ItemFailure{Line: line, URL: o.Input.URL, Error: o.Err.Error()})
		}
	}
	return s
}

func printText(w io.Writer, s Summary) {
	_, _ = fmt.Fprintf(w, "Total: %d\nIngested: %d\nSkipped: %d\nFailed: %d\n",
		s.Total, s.Ingested, s.Skipped, s.Failed)
	for _, f := range s.Errors {
		_, _ = fmt.Fprintf(w, "  line %d (%s): %s\n", f.Line, f.URL, f.Error)
	}
}
