package approval

import "strings"

// Operation is the kind of action an entry performs.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpDelete
	OpShellRead    // ls, cat, git status
	OpShellWrite   // anything that may modify state
	OpShellNetwork // curl, git push, npm install
	OpNetwork
	OpGitRead
	OpGitWrite
)

var operationNames = [...]string{
	"read", "write", "delete",
	"shell:read", "shell:write", "shell:network",
	"network", "git:read", "git:write",
}

func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return "unknown"
	}
	return operationNames[o]
}

// NetworkCommands are command prefixes that reach the network.
var NetworkCommands = []string{
	"curl", "wget", "ssh", "scp", "rsync", "nc",
	"git clone", "git fetch", "git pull", "git push",
	"npm publish", "npm install", "pip install", "go get",
	"docker pull", "docker push",
}

var readOnlyCommands = []string{
	"ls", "cat", "head", "tail", "grep", "rg", "find", "fd",
	"wc", "diff", "file", "stat", "which", "type", "echo",
	"pwd", "whoami", "date", "env", "printenv",
	"git status", "git log", "git diff", "git show", "git branch",
	"go version", "go list", "go env",
	"node --version", "npm list", "npm view",
	"python --version", "pip list", "pip show",
}

// ClassifyCommand determines the operation a shell command line performs.
// Pipelines and command lists are classified by their most privileged part.
func ClassifyCommand(cmd string) Operation {
	lower := strings.ToLower(strings.TrimSpace(cmd))
	if lower == "" {
		return OpShellWrite
	}
	if strings.Contains(lower, ">") {
		if containsNetwork(lower) {
			return OpShellNetwork
		}
		return OpShellWrite
	}

	op := OpShellRead
	for _, segment := range splitCommandList(lower) {
		switch {
		case hasCommandPrefix(segment, NetworkCommands):
			return OpShellNetwork
		case !hasCommandPrefix(segment, readOnlyCommands):
			op = OpShellWrite
		}
	}
	return op
}

func containsNetwork(cmd string) bool {
	for _, segment := range splitCommandList(cmd) {
		if hasCommandPrefix(segment, NetworkCommands) {
			return true
		}
	}
	return false
}

// hasCommandPrefix matches whole words so "cathedral" is not "cat".
func hasCommandPrefix(segment string, prefixes []string) bool {
	words := strings.Fields(segment)
	for _, prefix := range prefixes {
		want := strings.Fields(prefix)
		if len(words) < len(want) {
			continue
		}
		match := true
		for i := range want {
			if words[i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func splitCommandList(cmd string) []string {
	parts := strings.FieldsFunc(cmd, func(r rune) bool {
		return r == '|' || r == ';' || r == '&'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isGitRemote reports whether a git command talks to a remote.
func isGitRemote(cmd string) bool {
	words := strings.Fields(strings.ToLower(cmd))
	for i, w := range words {
		if w != "git" || i+1 >= len(words) {
			continue
		}
		switch words[i+1] {
		case "push", "fetch", "pull", "clone", "remote":
			return true
		}
	}
	return false
}

func isForcePush(cmd string) bool {
	words := strings.Fields(strings.ToLower(cmd))
	push := false
	for _, w := range words {
		switch {
		case w == "push":
			push = true
		case push && (w == "-f" || w == "--force" || strings.HasPrefix(w, "--force-")):
			return true
		}
	}
	return false
}
