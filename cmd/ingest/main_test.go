package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/domain/entity"
	"uplink/internal/usecase/retrieval"
)

func TestReadInputs(t *testing.T) {
	input := strings.Join([]string{
		`{"title":"A","url":"https://example.com/a","content":"alpha","source":"wire"}`,
		``,
		`{"title":"B","url":"https://example.com/b","content":"beta","source":"blog","force":true}`,
	}, "\n")

	inputs, lines, err := ReadInputs(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	assert.Equal(t, []int{1, 3}, lines)
	assert.Equal(t, "https://example.com/a", inputs[0].URL)
	assert.Equal(t, "wire", inputs[0].Source)
	assert.False(t, inputs[0].Force)
	assert.True(t, inputs[1].Force)
}

func TestReadInputs_MalformedLine(t *testing.T) {
	_, _, err := ReadInputs(strings.NewReader("{\"title\":\"A\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadInputs_Empty(t *testing.T) {
	inputs, lines, err := ReadInputs(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, inputs)
	assert.Empty(t, lines)
}

func TestSummarize(t *testing.T) {
	outcomes := []retrieval.IngestOutcome{
		{Input: retrieval.IngestInput{URL: "https://example.com/a"}},
		{Input: retrieval.IngestInput{URL: "https://example.com/b"}, Err: retrieval.ErrAlreadyIngested},
		{Input: retrieval.IngestInput{URL: "https://example.com/c"}, Err: errors.Join(entity.ErrEmbedding, errors.New("quota"))},
	}

	s := Summarize(outcomes, []int{1, 2, 5})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Ingested)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Failed)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, 5, s.Errors[0].Line)
	assert.Equal(t, "https://example.com/c", s.Errors[0].URL)

	var buf bytes.Buffer
	printText(&buf, s)
	assert.Contains(t, buf.String(), "Failed: 1")
	assert.Contains(t, buf.String(), "line 5 (https://example.com/c)")
}
