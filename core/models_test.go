package core

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	a, err := ContentHash(strings.NewReader("same bytes"))
	require.NoError(t, err)
	b, err := ContentHash(strings.NewReader("same bytes"))
	require.NoError(t, err)
	c, err := ContentHash(strings.NewReader("other bytes"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestFileContentHash(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.md")
	second := filepath.Join(dir, "b.md")
	require.NoError(t, os.WriteFile(first, []byte("# Title\n\nbody"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("# Title\n\nbody"), 0o644))

	h1, err := FileContentHash(first)
	require.NoError(t, err)
	h2, err := FileContentHash(second)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "hash depends on content, not on name")

	_, err = FileContentHash(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestJobJSONPollShape(t *testing.T) {
	job := NewJob("job-1", JobTypeQuery, JobInput{Query: &QueryInput{Query: "why?", CollectionID: "c1"}})

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "job-1", raw["id"])
	assert.Equal(t, "QUERY", raw["type"])
	assert.Equal(t, "QUEUED", raw["status"])
	assert.Equal(t, "queued", raw["progress"])
	assert.Nil(t, raw["result"])
	assert.Nil(t, raw["error"])
	assert.Nil(t, raw["finished_at"])
	assert.Len(t, raw["log"], 1)

	var back Job
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, job.ID, back.ID)
	assert.Equal(t, job.Input.Query.Query, back.Input.Query.Query)
	assert.Empty(t, back.Result)
	assert.Empty(t, back.Error)
}

func TestStageError(t *testing.T) {
	err := Precondition(StageDeduplication, ErrDuplicateContent)
	assert.Equal(t, "deduplication: duplicate content", err.Error())
	assert.True(t, errors.Is(err, ErrDuplicateContent))

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, KindPrecondition, stageErr.Kind)
	assert.Equal(t, "collaborator", KindCollaborator.String())
}

func TestParseJobStatus(t *testing.T) {
	status, err := ParseJobStatus(" completed ")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, status)

	_, err = ParseJobStatus("cancelled")
	assert.ErrorIs(t, err, ErrInvalidJobStatus)

	jobType, err := ParseJobType("insertion")
	require.NoError(t, err)
	assert.Equal(t, JobTypeInsertion, jobType)
}
