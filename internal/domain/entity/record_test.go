package entity

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() *Record {
	return &Record{
		Title:     "Senate passes budget",
		URL:       "https://news.example.com/budget",
		Content:   "The senate passed the budget on Tuesday.",
		Embedding: []float32{0.1, 0.2, 0.3},
		Source:    "example",
		Bias:      BiasNeutral,
	}
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *Record)
		wantField string
	}{
		{name: "valid", mutate: func(r *Record) {}},
		{name: "empty embedding is valid", mutate: func(r *Record) { r.Embedding = nil }},
		{name: "empty content is valid", mutate: func(r *Record) { r.Content = "" }},
		{name: "missing title", mutate: func(r *Record) { r.Title = "  " }, wantField: "title"},
		{name: "long title", mutate: func(r *Record) { r.Title = strings.Repeat("t", maxTitleLength+1) }, wantField: "title"},
		{name: "missing url", mutate: func(r *Record) { r.URL = "" }, wantField: "url"},
		{name: "bad scheme", mutate: func(r *Record) { r.URL = "ftp://x/y" }, wantField: "url"},
		{name: "NaN embedding", mutate: func(r *Record) { r.Embedding = []float32{1, float32(math.NaN())} }, wantField: "embedding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestRecord_Validate_Nil(t *testing.T) {
	var r *Record
	assert.True(t, errors.Is(r.Validate(), ErrValidationFailed))
}

func TestRecord_HasEmbedding(t *testing.T) {
	assert.True(t, validRecord().HasEmbedding())
	assert.False(t, (&Record{}).HasEmbedding())
	var r *Record
	assert.False(t, r.HasEmbedding())
}

func TestRecord_BiasValue(t *testing.T) {
	tests := []struct {
		name   string
		rec    Record
		want   Bias
		wantOK bool
	}{
		{name: "typed bias", rec: Record{Bias: BiasRight}, want: BiasRight, wantOK: true},
		{name: "raw numeric", rec: Record{RawBias: "-1"}, want: BiasSlightlyLeft, wantOK: true},
		{name: "raw padded", rec: Record{RawBias: " 2 "}, want: BiasRight, wantOK: true},
		{name: "raw non-numeric", rec: Record{RawBias: "left"}, want: BiasNeutral, wantOK: false},
		{name: "stored numeric", rec: Record{RawBias: "1", BiasStored: true}, want: BiasSlightlyRight, wantOK: true},
		{name: "stored empty", rec: Record{Bias: BiasNeutral, BiasStored: true}, want: BiasNeutral, wantOK: false},
		{name: "stored blank", rec: Record{RawBias: "  ", BiasStored: true}, want: BiasNeutral, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rec.BiasValue()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestEmbeddingText(t *testing.T) {
	text := FormatEmbedding([]float32{0.5, -1, 2})
	assert.Equal(t, "[0.5,-1,2]", text)

	got, err := ParseEmbedding(text)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, got)

	assert.Equal(t, "", FormatEmbedding(nil))

	empty, err := ParseEmbedding("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseEmbedding("not-json")
	assert.Error(t, err)
}
