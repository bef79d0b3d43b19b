package tool

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/odvcencio/batchq/pkg/approval"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
)

// Registry manages the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewEmptyRegistry creates a registry without built-in tools.
func NewEmptyRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewRegistry creates a registry with the built-in tools rooted at workDir.
// An empty workDir means the process working directory.
func NewRegistry(workDir string) *Registry {
	workDir = strings.TrimSpace(workDir)
	if workDir != "" {
		if abs, err := filepath.Abs(workDir); err == nil {
			workDir = filepath.Clean(abs)
		}
	}
	base := workDirAware{workDir: workDir}

	r := NewEmptyRegistry()
	for _, t := range []Tool{
		&ShellTool{workDirAware: base, maxOutputBytes: defaultMaxOutputBytes},
		&ReadFileTool{workDirAware: base, maxFileSizeBytes: defaultMaxFileSizeBytes},
		&WriteFileTool{workDirAware: base},
		&ListDirTool{workDirAware: base},
	} {
		_ = r.Register(t)
	}
	return r
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil || strings.TrimSpace(t.Name()) == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(e Entry) (Tool, error) {
	t, ok := r.Get(e.Tool)
	if !ok {
		return nil, bqerrors.Newf(bqerrors.ErrCodeToolNotFound, "unknown tool %q", e.Tool).
			WithContext("available", strings.Join(r.Names(), ","))
	}
	return t, nil
}

// Processor executes queue items that are tool entries.
func (r *Registry) Processor() jobqueue.Processor {
	return jobqueue.ProcessorFunc(func(ctx context.Context, _ any, _ jobqueue.Key, item any) (any, error) {
		e, err := asEntry(item)
		if err != nil {
			return nil, err
		}
		t, err := r.lookup(e)
		if err != nil {
			return nil, err
		}
		res, err := t.Execute(ctx, e)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// Classify describes a queue item for the approval gate.
func (r *Registry) Classify(_ jobqueue.Key, item any) (approval.Request, error) {
	e, err := asEntry(item)
	if err != nil {
		return approval.Request{}, err
	}
	t, err := r.lookup(e)
	if err != nil {
		return approval.Request{}, err
	}
	req := t.Classify(e)
	req.Tool = t.Name()
	return req, nil
}
