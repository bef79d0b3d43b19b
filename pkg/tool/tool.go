package tool

import (
	"context"

	"github.com/odvcencio/batchq/pkg/approval"
)

// Result is the output of one tool execution.
type Result struct {
	Tool      string `json:"tool"`
	Output    string `json:"output"`
	Stderr    string `json:"stderr,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	// Diff is a unified diff of the change for entries that modify files.
	Diff string `json:"diff,omitempty"`
}

// Tool executes one kind of entry.
//
//go:generate mockgen -package=tool -destination=mock_tool_test.go github.com/odvcencio/batchq/pkg/tool Tool
type Tool interface {
	Name() string
	// Classify describes what executing e would do, for approval.
	Classify(e Entry) approval.Request
	Execute(ctx context.Context, e Entry) (*Result, error)
}
