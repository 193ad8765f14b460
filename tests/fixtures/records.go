// Package fixtures provides reusable record and vector builders for tests.
package fixtures

import (
	"fmt"
	"math"
	"strings"

	"uplink/internal/domain/entity"
)

// RecordOption is a functional option for customizing test records.
type RecordOption func(*entity.Record)

// NewTestRecord creates a valid Record with sensible defaults.
// Use functional options to customize the record for specific test cases.
//
// Example:
//
//	rec := NewTestRecord()
//	rec := NewTestRecord(WithURL("https://example.com/b"), WithBias(entity.BiasRight))
func NewTestRecord(opts ...RecordOption) *entity.Record {
	r := &entity.Record{
		ID:        1,
		Title:     "Central bank holds rates steady",
		URL:       "https://news.example.com/rates",
		Content:   GenerateContent(200),
		Embedding: GenerateTestVector(8, 0.1),
		Source:    "example-wire",
		Bias:      entity.BiasNeutral,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// WithID sets the ID of the record.
func WithID(id int64) RecordOption {
	return func(r *entity.Record) { r.ID = id }
}

// WithTitle sets the Title of the record.
func WithTitle(title string) RecordOption {
	return func(r *entity.Record) { r.Title = title }
}

// WithURL sets the URL of the record.
func WithURL(url string) RecordOption {
	return func(r *entity.Record) { r.URL = url }
}

// WithContent sets the Content of the record.
func WithContent(content string) RecordOption {
	return func(r *entity.Record) { r.Content = content }
}

// WithSource sets the Source of the record.
func WithSource(source string) RecordOption {
	return func(r *entity.Record) { r.Source = source }
}

// WithBias sets Bias and clears RawBias.
func WithBias(b entity.Bias) RecordOption {
	return func(r *entity.Record) {
		r.Bias = b
		r.RawBias = ""
		r.BiasStored = false
	}
}

// WithRawBias sets the persisted bias text, as loaded from a legacy row.
func WithRawBias(raw string) RecordOption {
	return func(r *entity.Record) {
		r.RawBias = raw
		r.BiasStored = true
	}
}

// WithEmbedding sets the Embedding vector.
func WithEmbedding(embedding []float32) RecordOption {
	return func(r *entity.Record) { r.Embedding = embedding }
}

// GenerateContent returns English text of exactly length characters.
func GenerateContent(length int) string {
	sentences := []string{
		"Officials said the measure would take effect next quarter. ",
		"Analysts expect markets to react cautiously to the decision. ",
		"Critics argued the plan leaves key questions unanswered. ",
		"The agency will publish detailed figures later this week. ",
	}

	var b strings.Builder
	for i := 0; b.Len() < length; i++ {
		b.WriteString(sentences[i%len(sentences)])
	}
	return b.String()[:length]
}

// GenerateRecords creates n records with distinct URLs and embeddings.
func GenerateRecords(n int, dimension int) []*entity.Record {
	records := make([]*entity.Record, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, NewTestRecord(
			WithID(int64(i)),
			WithTitle(fmt.Sprintf("Article %d", i)),
			WithURL(fmt.Sprintf("https://news.example.com/%d", i)),
			WithEmbedding(NormalizedVector(dimension, float32(i)*0.1)),
		))
	}
	return records
}

// GenerateTestVector creates a deterministic vector of the specified dimension.
// The seed value is used to generate predictable but different vectors for testing.
//
// Example:
//
//	vec := GenerateTestVector(8, 0.1) // [0.1, 0.101, 0.102, ...]
func GenerateTestVector(dimension int, seed float32) []float32 {
	vec := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		vec[i] = seed + float32(i)*0.001
	}
	return vec
}

// ZeroVector creates a vector of zeros with the specified dimension.
func ZeroVector(dimension int) []float32 {
	return make([]float32, dimension)
}

// UnitVector creates a unit vector with 1.0 at the specified index and 0.0 elsewhere.
//
// Example:
//
//	vec := UnitVector(4, 0) // [1.0, 0.0, 0.0, 0.0]
func UnitVector(dimension int, index int) []float32 {
	vec := make([]float32, dimension)
	if index >= 0 && index < dimension {
		vec[index] = 1.0
	}
	return vec
}

// NormalizedVector creates a unit length vector from the seed.
func NormalizedVector(dimension int, seed float32) []float32 {
	vec := GenerateTestVector(dimension, seed)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	magnitude := float32(math.Sqrt(sum))

	if magnitude > 0 {
		for i := range vec {
			vec[i] /= magnitude
		}
	}
	return vec
}
