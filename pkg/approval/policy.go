package approval

import (
	"path/filepath"
	"strings"
)

// Request is one permission check.
type Request struct {
	Operation   Operation
	Path        string
	Command     string
	Tool        string
	Description string
	Args        []string
}

// Target is the path or command the request acts on.
func (r Request) Target() string {
	if r.Command != "" {
		return r.Command
	}
	return r.Path
}

// Context is the workspace a policy protects.
type Context struct {
	WorkspacePath string   `yaml:"workspace" json:"workspace"`
	TrustedPaths  []string `yaml:"trusted_paths" json:"trusted_paths"`
	DeniedPaths   []string `yaml:"denied_paths" json:"denied_paths"`
	AllowNetwork  bool     `yaml:"allow_network" json:"allow_network"`
}

// Decision is the outcome of Check.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionDeny
	DecisionPrompt
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	case DecisionPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// Result is a decision with its reason.
type Result struct {
	Decision Decision
	Reason   string
	Request  Request
}

// Policy pairs a mode with the workspace it applies to.
type Policy struct {
	Mode    Mode
	Context Context
}

// Check evaluates req under the policy.
func (p Policy) Check(req Request) Result {
	return Check(p.Mode, req, p.Context)
}

// Check decides whether req is allowed, denied or needs confirmation.
// Denied paths win in every mode except yolo.
func Check(mode Mode, req Request, ctx Context) Result {
	decide := func(d Decision, reason string) Result {
		return Result{Decision: d, Reason: reason, Request: req}
	}

	if mode == ModeYolo {
		return decide(DecisionAllow, "yolo mode")
	}
	if req.Path != "" && underAny(resolve(req.Path, ctx.WorkspacePath), ctx.DeniedPaths) {
		return decide(DecisionDeny, "path is in denied list")
	}
	if mode < ModeAsk || mode > ModeYolo {
		return decide(DecisionPrompt, "unknown mode")
	}

	switch req.Operation {
	case OpRead, OpGitRead:
		return decide(DecisionAllow, "read operations allowed")

	case OpWrite, OpDelete:
		if mode == ModeAsk {
			return decide(DecisionPrompt, "ask mode requires approval for writes")
		}
		if inWorkspace(req.Path, ctx) {
			return decide(DecisionAllow, "path is within workspace")
		}
		return decide(DecisionPrompt, "path is outside workspace")

	case OpShellRead:
		switch mode {
		case ModeAsk:
			return decide(DecisionPrompt, "ask mode requires approval for shell")
		case ModeSafe:
			if ClassifyCommand(req.Command) == OpShellRead {
				return decide(DecisionAllow, "read-only shell command in safe mode")
			}
			return decide(DecisionPrompt, "command may have side effects")
		}
		return decide(DecisionAllow, "shell read allowed in auto mode")

	case OpShellWrite:
		if mode != ModeAuto {
			return decide(DecisionPrompt, "shell write requires approval")
		}
		if commandTargetsWorkspace(req.Command, ctx) {
			return decide(DecisionAllow, "shell command targets workspace")
		}
		return decide(DecisionPrompt, "shell command may affect files outside workspace")

	case OpShellNetwork, OpNetwork:
		if mode == ModeAuto && ctx.AllowNetwork {
			return decide(DecisionAllow, "network allowed in auto mode")
		}
		return decide(DecisionPrompt, "network access requires approval")

	case OpGitWrite:
		switch mode {
		case ModeAsk:
			return decide(DecisionPrompt, "ask mode requires approval for git writes")
		case ModeSafe:
			if isGitRemote(req.Command) {
				return decide(DecisionPrompt, "remote git operations require approval")
			}
			return decide(DecisionAllow, "local git operation in safe mode")
		}
		if isForcePush(req.Command) {
			return decide(DecisionPrompt, "force push requires approval")
		}
		return decide(DecisionAllow, "git operation allowed in auto mode")
	}

	return decide(DecisionPrompt, "unknown operation type")
}

func inWorkspace(path string, ctx Context) bool {
	if path == "" {
		return false
	}
	roots := ctx.TrustedPaths
	if ctx.WorkspacePath != "" {
		roots = append([]string{ctx.WorkspacePath}, roots...)
	}
	return underAny(resolve(path, ctx.WorkspacePath), roots)
}

// resolve anchors relative paths at the workspace rather than the process
// working directory.
func resolve(path, workspace string) string {
	if !filepath.IsAbs(path) && workspace != "" {
		return filepath.Join(workspace, path)
	}
	return path
}

// underAny reports whether path equals or lies beneath one of roots.
func underAny(path string, roots []string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

var workspaceCommands = []string{
	"go build", "go test", "go run", "go fmt", "go vet", "gofmt",
	"npm run", "npm test", "yarn", "pnpm",
	"make", "cargo build", "cargo test",
	"pytest", "python -m pytest",
	"bundle install", "rake",
	"git add", "git commit", "git checkout", "git switch", "git stash",
	"mkdir", "touch",
}

// commandTargetsWorkspace is a heuristic: build and test tools run in the
// current directory, and commands that name the workspace explicitly are
// assumed to stay inside it.
func commandTargetsWorkspace(cmd string, ctx Context) bool {
	if ctx.WorkspacePath == "" {
		return false
	}
	if strings.Contains(cmd, ctx.WorkspacePath) {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(cmd))
	for _, segment := range splitCommandList(lower) {
		if !hasCommandPrefix(segment, workspaceCommands) && !hasCommandPrefix(segment, readOnlyCommands) {
			return false
		}
	}
	return lower != ""
}
