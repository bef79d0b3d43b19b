package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/batchq/pkg/approval"
	"github.com/odvcencio/batchq/pkg/bus"
	"github.com/odvcencio/batchq/pkg/config"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/storage"
	"github.com/odvcencio/batchq/pkg/tool"
)

type countingPrompter struct {
	answer bool
	calls  atomic.Int32
}

func (p *countingPrompter) Confirm(context.Context, approval.Result) (bool, error) {
	p.calls.Add(1)
	return p.answer, nil
}

func testConfig(t *testing.T, mode string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Approval.Mode = mode
	cfg.Approval.Workspace = dir
	cfg.Queue.Retry.MaxRetries = 0
	return cfg, dir
}

func loadBatch(t *testing.T, doc string) *tool.Batch {
	t.Helper()
	b, err := tool.LoadBatch(strings.NewReader(doc))
	require.NoError(t, err)
	return b
}

func run(t *testing.T, q *jobqueue.Queue, b *tool.Batch) (jobqueue.Results, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return q.RunWait(ctx, b.Source(), b)
}

func output(t *testing.T, results jobqueue.Results, key jobqueue.Key) string {
	t.Helper()
	res, ok := results[key].(*tool.Result)
	require.True(t, ok, "result %s is %T", key, results[key])
	return res.Output
}

func TestNewQueueRequiresRegistry(t *testing.T) {
	_, err := NewQueue(config.DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestNewQueueInvalidMode(t *testing.T) {
	cfg, dir := testConfig(t, "reckless")
	_, err := NewQueue(cfg, Deps{Registry: tool.NewRegistry(dir)})
	assert.True(t, bqerrors.IsCode(err, bqerrors.ErrCodeConfigInvalid), "got %v", err)
}

func TestSafeModeRunsWorkspaceEntries(t *testing.T) {
	cfg, dir := testConfig(t, "safe")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.txt"), []byte("hello"), 0o644))

	q, err := NewQueue(cfg, Deps{Registry: tool.NewRegistry(dir), DisableMetrics: true})
	require.NoError(t, err)

	results, err := run(t, q, loadBatch(t, `
jobs:
  read: {tool: read_file, path: in.txt}
  write: {tool: write_file, path: out.txt, content: written}
  list: {tool: shell, command: ls}
`))
	require.NoError(t, err)
	assert.Equal(t, "hello", output(t, results, "read"))
	assert.Contains(t, output(t, results, "list"), "in.txt")

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestSafeModeDeniesWithoutPrompter(t *testing.T) {
	cfg, dir := testConfig(t, "safe")
	store, err := storage.New(filepath.Join(t.TempDir(), "batchq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q, err := NewQueue(cfg, Deps{Registry: tool.NewRegistry(dir), Store: store, DisableMetrics: true})
	require.NoError(t, err)

	b := loadBatch(t, `entries: [{tool: shell, command: "touch marker"}]`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var runID string
	done := make(chan error, 1)
	cont := q.Run(ctx, b.Source(), b, func(err error, _ jobqueue.Results) { done <- err })
	runID = cont().RunID

	select {
	case err = <-done:
	case <-ctx.Done():
		t.Fatal("run did not finish")
	}
	require.Error(t, err)
	assert.True(t, bqerrors.IsCode(err, bqerrors.ErrCodePermissionDenied), "got %v", err)
	assert.NoFileExists(t, filepath.Join(dir, "marker"))

	entries, err := store.ListApprovals(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Approved)
	assert.Equal(t, "shell", entries[0].Tool)
	assert.Equal(t, "safe", entries[0].Mode)

	rec, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, jobqueue.RunStatusFailed, rec.Status)
}

func TestPrompterDecides(t *testing.T) {
	for _, answer := range []bool{true, false} {
		cfg, dir := testConfig(t, "safe")
		prompter := &countingPrompter{answer: answer}
		q, err := NewQueue(cfg, Deps{Registry: tool.NewRegistry(dir), Prompter: prompter, DisableMetrics: true})
		require.NoError(t, err)

		_, err = run(t, q, loadBatch(t, `entries: [{tool: shell, command: "touch marker"}]`))
		assert.Equal(t, int32(1), prompter.calls.Load())
		if answer {
			assert.NoError(t, err)
			assert.FileExists(t, filepath.Join(dir, "marker"))
		} else {
			assert.True(t, bqerrors.IsCode(err, bqerrors.ErrCodePermissionDenied), "got %v", err)
			assert.NoFileExists(t, filepath.Join(dir, "marker"))
		}
	}
}

func TestItemTimeout(t *testing.T) {
	cfg, dir := testConfig(t, "yolo")
	cfg.Queue.ItemTimeout = 50 * time.Millisecond
	q, err := NewQueue(cfg, Deps{Registry: tool.NewRegistry(dir), DisableMetrics: true})
	require.NoError(t, err)

	_, err = run(t, q, loadBatch(t, `entries: [{tool: shell, command: "sleep 5"}]`))
	assert.True(t, bqerrors.IsCode(err, bqerrors.ErrCodeToolTimeout), "got %v", err)
}

func TestRemoteProcessing(t *testing.T) {
	cfg, dir := testConfig(t, "yolo")
	cfg.Bus.Timeout = 5 * time.Second
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.txt"), []byte("remote"), 0o644))

	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	registry := tool.NewRegistry(dir)

	ctx, cancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() { workerDone <- Worker(cfg, b, registry, nil).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-workerDone
	})

	q, err := NewQueue(cfg, Deps{
		Registry:       registry,
		Processor:      RemoteProcessor(cfg, b),
		DisableMetrics: true,
	})
	require.NoError(t, err)

	batch := loadBatch(t, `entries: [{tool: read_file, path: in.txt}]`)
	require.Eventually(t, func() bool {
		results, err := run(t, q, batch)
		return err == nil && output(t, results, "0") == "remote"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRemoteProcessingStillGates(t *testing.T) {
	cfg, dir := testConfig(t, "safe")
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	q, err := NewQueue(cfg, Deps{
		Registry:       tool.NewRegistry(dir),
		Processor:      RemoteProcessor(cfg, b),
		DisableMetrics: true,
	})
	require.NoError(t, err)

	// No worker is listening; the gate refuses before anything is sent.
	_, err = run(t, q, loadBatch(t, `entries: [{tool: shell, command: "rm -rf build"}]`))
	assert.True(t, bqerrors.IsCode(err, bqerrors.ErrCodePermissionDenied), "got %v", err)
}
