// Package entity defines the core domain entities and validation logic for the application.
// It contains the fundamental business objects such as Record and Bias, along with
// their validation rules and domain-specific errors.
package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxTitleLength bounds titles accepted from ingestion.
const maxTitleLength = 1024

// Record represents a stored article together with its vector embedding.
// URL is the natural unique key; ID is assigned by the store and never changes
// once assigned.
type Record struct {
	ID        int64
	Title     string
	URL       string
	Content   string
	Embedding []float32
	Source    string
	Bias      Bias
	// RawBias is the bias text exactly as persisted. Legacy rows may hold
	// non-numeric or empty values, which range filters must exclude.
	RawBias string
	// BiasStored is set by the store on every loaded record. RawBias is then
	// authoritative even when empty.
	BiasStored bool
}

// HasEmbedding reports whether the record can take part in similarity search.
func (r *Record) HasEmbedding() bool {
	return r != nil && len(r.Embedding) > 0
}

// BiasValue returns the numeric bias of the record.
// Records built in memory report Bias. Records loaded from the store parse
// RawBias leniently, and ok is false for non-numeric, empty or NULL text.
func (r *Record) BiasValue() (Bias, bool) {
	if !r.BiasStored && r.RawBias == "" {
		return r.Bias, true
	}
	return ParseBias(r.RawBias)
}

// Validate checks the record before it is handed to the write path.
// Returns a ValidationError for missing or malformed fields.
func (r *Record) Validate() error {
	if r == nil {
		return &ValidationError{Field: "record", Message: "record is required"}
	}
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if len(r.Title) > maxTitleLength {
		return &ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("title must not exceed %d characters", maxTitleLength),
		}
	}
	if err := ValidateURL(r.URL); err != nil {
		return err
	}
	for i, v := range r.Embedding {
		if v != v { // NaN
			return &ValidationError{
				Field:   "embedding",
				Message: fmt.Sprintf("embedding[%d] is NaN", i),
			}
		}
	}
	return nil
}

// FormatEmbedding encodes an embedding as a JSON array, the text form used by
// the SQLite store. An empty embedding encodes as the empty string.
func FormatEmbedding(v []float32) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseEmbedding decodes the JSON array text form of an embedding.
// It also accepts pgvector's text output ("[1,2,3]"), which is valid JSON.
// Empty text yields a nil embedding without error.
func ParseEmbedding(text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	return v, nil
}
