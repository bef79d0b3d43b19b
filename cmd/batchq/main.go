package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

func dispatch(args []string) int {
	if len(args) == 0 {
		printHelp()
		return exitConfig
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return exitOK
	case "--help", "-h", "help":
		printHelp()
		return exitOK
	case "run":
		return runCommand(runRunCommand, args[1:])
	case "serve":
		return runCommand(runServeCommand, args[1:])
	case "runs":
		return runCommand(runRunsCommand, args[1:])
	case "config":
		return runCommand(runConfigCommand, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		return exitConfig
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return exitOK
}

func printHelp() {
	fmt.Println("batchq - run batches of tool entries through a permission-gated job queue")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  batchq <command> [flags]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  run [flags] <batch.yaml|->       Run a batch and print results in batch order")
	fmt.Println("  serve [flags]                    Start the HTTP API, /metrics and /v1/events")
	fmt.Println("  runs [flags] [run-id]            List recorded runs or show one run")
	fmt.Println("  config [check|show]              Validate or print the effective configuration")
	fmt.Println("  version                          Print version information")
	fmt.Println()
	fmt.Println("COMMON FLAGS:")
	fmt.Println("  -config <file>    Config file (default: ~/.batchq/config.yaml, ./.batchq/config.yaml)")
	fmt.Println("  -mode <mode>      Approval mode: ask, safe, auto, yolo")
	fmt.Println("  -db <path>        sqlite run journal path")
	fmt.Println("  -no-store         Do not record runs")
	fmt.Println()
	fmt.Println("EXIT CODES:")
	fmt.Println("  0 success, 1 job failure, 2 usage or config error, 3 permission denied, 130 interrupted")
}

func printVersion() {
	fmt.Printf("batchq %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

func runConfigCommand(args []string) error {
	sub := "show"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("config "+sub, flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	switch sub {
	case "check":
		for _, w := range cfg.ValidationWarnings() {
			fmt.Fprintf(stdout, "warning: %s\n", w)
		}
		fmt.Fprintln(stdout, "configuration OK")
		return nil
	case "show":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return withExitCode(fmt.Errorf("unknown config command: %s (use check or show)", sub), exitConfig)
	}
}
