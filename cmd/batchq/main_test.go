package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/batchq/pkg/bus"
	"github.com/odvcencio/batchq/pkg/config"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/logging"
	"github.com/odvcencio/batchq/pkg/tool"
)

// setupCLI isolates HOME, captures stdout and disables terminal prompts.
func setupCLI(t *testing.T) (workspace string, out *bytes.Buffer) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"BATCHQ_APPROVAL_MODE", "BATCHQ_WORKSPACE", "BATCHQ_DB_PATH", "BATCHQ_JOURNAL_DIR", "BATCHQ_BUS_KIND"} {
		t.Setenv(key, "")
	}

	out = &bytes.Buffer{}
	prevStdout, prevTerm := stdout, stdinIsTerminalFn
	stdout = out
	stdinIsTerminalFn = func() bool { return false }
	t.Cleanup(func() {
		stdout = prevStdout
		stdinIsTerminalFn = prevTerm
	})
	return t.TempDir(), out
}

func writeConfig(t *testing.T, workspace, mode string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "batchq.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`approval:
  mode: %s
  workspace: %s
storage:
  path: %s
logging:
  level: error
  journal_dir: %s
`, mode, workspace, dbPath, filepath.Join(dir, "journal"))
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dbPath
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitFailure},
		{"explicit", withExitCode(errors.New("x"), 42), 42},
		{"explicit zero", exitError{err: errors.New("x")}, exitFailure},
		{"config", bqerrors.New(bqerrors.ErrCodeConfigInvalid, "bad"), exitConfig},
		{"denied", bqerrors.New(bqerrors.ErrCodePermissionDenied, "no"), exitDenied},
		{"wrapped denied", fmt.Errorf("run: %w", bqerrors.New(bqerrors.ErrCodePermissionDenied, "no")), exitDenied},
		{"item", bqerrors.New(bqerrors.ErrCodeToolExecution, "exit 1"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeForError(tt.err); got != tt.want {
				t.Errorf("exitCodeForError() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	if got := dispatch([]string{"version"}); got != exitOK {
		t.Errorf("version exit = %d", got)
	}
	if got := dispatch([]string{"frobnicate"}); got != exitConfig {
		t.Errorf("unknown command exit = %d", got)
	}
	if got := dispatch(nil); got != exitConfig {
		t.Errorf("no command exit = %d", got)
	}
	if got := dispatch([]string{"run", "-h"}); got != exitOK {
		t.Errorf("run -h exit = %d", got)
	}
}

func TestRunCommandPrintsResultsInOrder(t *testing.T) {
	workspace, out := setupCLI(t)
	cfgPath, dbPath := writeConfig(t, workspace, "safe")
	if err := os.WriteFile(filepath.Join(workspace, "notes.txt"), []byte("remember the milk\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	batch := writeBatch(t, `
jobs:
  zeta: {tool: read_file, path: notes.txt}
  alpha: {tool: shell, command: "echo hello"}
`)

	if err := runRunCommand([]string{"-config", cfgPath, batch}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	want := "== zeta\nremember the milk\n== alpha\nhello\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("run journal not created: %v", err)
	}

	out.Reset()
	if err := runRunsCommand([]string{"-config", cfgPath}); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out.String(), jobqueue.RunStatusCompleted) {
		t.Errorf("runs output missing completed run:\n%s", out.String())
	}
}

func TestRunCommandDenied(t *testing.T) {
	workspace, _ := setupCLI(t)
	cfgPath, _ := writeConfig(t, workspace, "safe")
	batch := writeBatch(t, `entries: [{tool: shell, command: "touch created"}]`)

	code := runCommand(runRunCommand, []string{"-config", cfgPath, batch})
	if code != exitDenied {
		t.Errorf("exit code = %d, want %d", code, exitDenied)
	}
	if _, err := os.Stat(filepath.Join(workspace, "created")); !os.IsNotExist(err) {
		t.Error("denied command must not run")
	}
}

func TestRunCommandModeFlag(t *testing.T) {
	workspace, _ := setupCLI(t)
	cfgPath, _ := writeConfig(t, workspace, "safe")
	batch := writeBatch(t, `entries: [{tool: shell, command: "touch created"}]`)

	if err := runRunCommand([]string{"-config", cfgPath, "-mode", "yolo", "-no-store", batch}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, "created")); err != nil {
		t.Errorf("command did not run: %v", err)
	}
}

func TestRunCommandJobFailure(t *testing.T) {
	workspace, _ := setupCLI(t)
	cfgPath, _ := writeConfig(t, workspace, "yolo")
	batch := writeBatch(t, `entries: [{tool: shell, command: "exit 7"}]`)

	err := runRunCommand([]string{"-config", cfgPath, "-no-store", batch})
	if !bqerrors.IsCode(err, bqerrors.ErrCodeToolExecution) {
		t.Fatalf("err = %v, want TOOL_EXECUTION", err)
	}
	if got := exitCodeForError(err); got != exitFailure {
		t.Errorf("exit code = %d, want %d", got, exitFailure)
	}
}

func TestRunCommandUsage(t *testing.T) {
	setupCLI(t)
	if got := exitCodeForError(runRunCommand(nil)); got != exitConfig {
		t.Errorf("missing batch exit = %d, want %d", got, exitConfig)
	}
	if got := exitCodeForError(runRunCommand([]string{"/does/not/exist.yaml"})); got != exitConfig {
		t.Errorf("missing file exit = %d, want %d", got, exitConfig)
	}
}

func TestRunCommandInvalidMode(t *testing.T) {
	workspace, _ := setupCLI(t)
	cfgPath, _ := writeConfig(t, workspace, "safe")
	batch := writeBatch(t, `entries: [{tool: shell, command: "true"}]`)

	if got := runCommand(runRunCommand, []string{"-config", cfgPath, "-mode", "reckless", batch}); got != exitConfig {
		t.Errorf("exit code = %d, want %d", got, exitConfig)
	}
}

func TestRunCommandRemote(t *testing.T) {
	workspace, _ := setupCLI(t)
	cfgPath, _ := writeConfig(t, workspace, "yolo")
	batch := writeBatch(t, `entries: [{tool: shell, command: "true"}]`)

	prev := openBusFn
	openBusFn = func(*config.Config, *logging.Logger) (bus.MessageBus, error) { return bus.NewMemoryBus(), nil }
	t.Cleanup(func() { openBusFn = prev })

	// No worker is listening on the in-memory bus.
	err := runRunCommand([]string{"-config", cfgPath, "-no-store", "-remote", batch})
	if !bqerrors.IsCode(err, bqerrors.ErrCodeRemoteUnavailable) {
		t.Fatalf("err = %v, want REMOTE_UNAVAILABLE", err)
	}
}

func TestPrintResults(t *testing.T) {
	b, err := tool.LoadBatch(strings.NewReader(`entries: [{tool: a}, {tool: b}, {tool: c}]`))
	if err != nil {
		t.Fatal(err)
	}
	results := jobqueue.Results{
		"2": &tool.Result{Output: "third\n", Truncated: true},
		"0": "plain",
	}

	var buf bytes.Buffer
	if err := printResults(&buf, b.Source(), results, false); err != nil {
		t.Fatal(err)
	}
	want := "== 0\nplain\n== 2\nthird\n[output truncated]\n"
	if buf.String() != want {
		t.Errorf("text output = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := printResults(&buf, b.Source(), nil, true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "{}" {
		t.Errorf("json output = %q", buf.String())
	}
}

func TestConfigCommand(t *testing.T) {
	workspace, out := setupCLI(t)
	cfgPath, _ := writeConfig(t, workspace, "auto")

	if err := runConfigCommand([]string{"check", "-config", cfgPath}); err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out.String(), "configuration OK") {
		t.Errorf("check output = %q", out.String())
	}

	out.Reset()
	if err := runConfigCommand([]string{"show", "-config", cfgPath}); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "mode: auto") {
		t.Errorf("show output missing mode:\n%s", out.String())
	}

	if got := exitCodeForError(runConfigCommand([]string{"frob"})); got != exitConfig {
		t.Errorf("unknown subcommand exit = %d", got)
	}
}

func TestStringListValue(t *testing.T) {
	var origins []string
	v := &stringListValue{target: &origins}
	_ = v.Set("https://a.example, https://b.example")
	_ = v.Set("https://c.example")
	if v.String() != "https://a.example,https://b.example,https://c.example" {
		t.Errorf("String() = %q", v.String())
	}
}
