package tool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/batchq/pkg/approval"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

const (
	defaultMaxOutputBytes = 256 * 1024
	maxShellTimeout       = 30 * time.Minute
	// grandchildren holding the output pipes are cut off after this
	shellWaitDelay = time.Second
)

// workDirAware resolves relative paths against a base directory.
type workDirAware struct {
	workDir string
}

func (w workDirAware) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if w.workDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(w.workDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	return abs, nil
}

// ShellTool runs a command through sh -c in the working directory.
type ShellTool struct {
	workDirAware
	maxOutputBytes int
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Classify(e Entry) approval.Request {
	op := approval.ClassifyCommand(e.Command)
	if op == approval.OpShellWrite && isGitCommand(e.Command) {
		op = approval.OpGitWrite
	}
	return approval.Request{
		Operation:   op,
		Command:     e.Command,
		Description: fmt.Sprintf("run %q", e.Command),
	}
}

func isGitCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	return len(fields) > 0 && fields[0] == "git"
}

func (t *ShellTool) Execute(ctx context.Context, e Entry) (*Result, error) {
	cmd := strings.TrimSpace(e.Command)
	if cmd == "" {
		return nil, bqerrors.New(bqerrors.ErrCodeInvalidInput, "command must be a non-empty string")
	}
	timeout, err := e.Timeout()
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "bad shell arguments")
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	command := exec.CommandContext(ctx, "sh", "-c", cmd)
	if t.workDir != "" {
		command.Dir = t.workDir
	}
	stdout := newCapture(t.maxOutputBytes)
	stderr := newCapture(t.maxOutputBytes)
	command.Stdout = stdout
	command.Stderr = stderr
	command.WaitDelay = shellWaitDelay

	runErr := command.Run()
	result := &Result{
		Tool:      t.Name(),
		Output:    strings.TrimRight(stdout.String(), "\n"),
		Stderr:    strings.TrimRight(stderr.String(), "\n"),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if runErr == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, bqerrors.Wrap(ctxErr, bqerrors.ErrCodeToolTimeout, "command timed out").
				WithContext("command", cmd).
				WithRetryable(true)
		}
		return nil, bqerrors.Wrap(ctxErr, bqerrors.ErrCodeToolExecution, "command cancelled").
			WithContext("command", cmd)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return nil, bqerrors.Newf(bqerrors.ErrCodeToolExecution, "command exited with code %d", result.ExitCode).
			WithContext("command", cmd).
			WithContext("stderr", result.Stderr)
	}
	return nil, bqerrors.Wrap(runErr, bqerrors.ErrCodeToolExecution, "command failed").
		WithContext("command", cmd)
}
