package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/odvcencio/batchq/pkg/approval"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

const defaultMaxFileSizeBytes = 10 * 1024 * 1024

// ReadFileTool reads a file.
type ReadFileTool struct {
	workDirAware
	maxFileSizeBytes int64
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Classify(e Entry) approval.Request {
	return approval.Request{Operation: approval.OpRead, Path: t.target(e.Path)}
}

func (t *ReadFileTool) Execute(_ context.Context, e Entry) (*Result, error) {
	path, err := t.resolve(e.Path)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "bad read_file path")
	}
	if t.maxFileSizeBytes > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > t.maxFileSizeBytes {
			return nil, bqerrors.Newf(bqerrors.ErrCodeToolExecution,
				"file too large: %d bytes (max %d)", info.Size(), t.maxFileSizeBytes).
				WithContext("path", path)
		}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeToolExecution, "failed to read file").
			WithContext("path", path)
	}
	return &Result{Tool: t.Name(), Output: string(content)}, nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct {
	workDirAware
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Classify(e Entry) approval.Request {
	return approval.Request{
		Operation:   approval.OpWrite,
		Path:        t.target(e.Path),
		Description: fmt.Sprintf("write %d bytes to %s", len(e.Content), e.Path),
	}
}

func (t *WriteFileTool) Execute(_ context.Context, e Entry) (*Result, error) {
	path, err := t.resolve(e.Path)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "bad write_file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeToolExecution, "failed to create directory").
			WithContext("path", path)
	}
	previous, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeToolExecution, "failed to read existing file").
			WithContext("path", path)
	}
	if err := os.WriteFile(path, []byte(e.Content), 0o644); err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeToolExecution, "failed to write file").
			WithContext("path", path)
	}
	res := &Result{Tool: t.Name(), Output: fmt.Sprintf("wrote %d bytes to %s", len(e.Content), path)}
	// A diff failure only loses the preview.
	if diff, err := unifiedDiff(e.Path, string(previous), e.Content); err == nil {
		res.Diff = diff
	}
	return res, nil
}

func unifiedDiff(path, from, to string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(from),
		B:        difflib.SplitLines(to),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
}

// ListDirTool lists a directory, marking subdirectories with a trailing slash.
type ListDirTool struct {
	workDirAware
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Classify(e Entry) approval.Request {
	path := e.Path
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	return approval.Request{Operation: approval.OpRead, Path: t.target(path)}
}

func (t *ListDirTool) Execute(_ context.Context, e Entry) (*Result, error) {
	raw := e.Path
	if strings.TrimSpace(raw) == "" {
		raw = "."
	}
	path, err := t.resolve(raw)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "bad list_dir path")
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeToolExecution, "failed to list directory").
			WithContext("path", path)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Result{Tool: t.Name(), Output: strings.Join(names, "\n")}, nil
}

// target is the path approval sees; unresolvable paths pass through so the
// policy can still reject them.
func (w workDirAware) target(path string) string {
	if resolved, err := w.resolve(path); err == nil {
		return resolved
	}
	return path
}
