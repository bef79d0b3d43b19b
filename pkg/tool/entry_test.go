package tool

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
)

func TestLoadBatch_List(t *testing.T) {
	doc := `
entries:
  - tool: shell
    command: go test ./...
    args:
      timeout: 2m
  - tool: read_file
    path: go.mod
`
	batch, err := LoadBatch(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, batch.Entries, 2)
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, "go test ./...", batch.Entries[0].Command)

	timeout, err := batch.Entries[0].Timeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, timeout)

	src := batch.Source()
	assert.Nil(t, src.Keyed())
	item, ok := src.Item("1")
	require.True(t, ok)
	assert.Equal(t, "go.mod", item.(Entry).Path)
}

func TestLoadBatch_KeyedKeepsDocumentOrder(t *testing.T) {
	doc := `
jobs:
  vet:
    tool: shell
    command: go vet ./...
  build:
    tool: shell
    command: go build ./...
  analyze:
    tool: list_dir
`
	batch, err := LoadBatch(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"vet", "build", "analyze"}, batch.Keys)
	assert.Equal(t, []jobqueue.Key{"vet", "build", "analyze"}, batch.Source().Keyed())
	assert.Equal(t, "list_dir", batch.Jobs["analyze"].Tool)
}

func TestLoadBatch_JSON(t *testing.T) {
	batch, err := LoadBatch(strings.NewReader(`{"entries":[{"tool":"shell","command":"ls"}]}`))
	require.NoError(t, err)
	require.Len(t, batch.Entries, 1)
	assert.Equal(t, "ls", batch.Entries[0].Command)
}

func TestLoadBatch_Errors(t *testing.T) {
	tests := map[string]string{
		"jobs not mapping": "jobs: [1, 2]\n",
		"both shapes":      "entries:\n  - tool: shell\njobs:\n  a:\n    tool: shell\n",
		"duplicate key":    "jobs:\n  a:\n    tool: shell\n  a:\n    tool: list_dir\n",
		"malformed":        "entries: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBatch(strings.NewReader(doc))
			assert.True(t, bqerrors.IsCode(err, bqerrors.ErrCodeInvalidInput), "err = %v", err)
		})
	}
}

func TestLoadBatch_Empty(t *testing.T) {
	batch, err := LoadBatch(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Len())
	assert.Equal(t, 0, batch.Source().Len())
}
