package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/odvcencio/batchq/pkg/batch"
	"github.com/odvcencio/batchq/pkg/config"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/tool"
)

var stdout io.Writer = os.Stdout

func runRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	jsonOut := fs.Bool("json", false, "print results as a JSON object keyed by job")
	remoteExec := fs.Bool("remote", false, "execute entries on workers reached through the bus")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}
	if fs.NArg() != 1 {
		return withExitCode(fmt.Errorf("usage: batchq run [flags] <batch.yaml|->"), exitConfig)
	}

	b, err := readBatchFile(fs.Arg(0))
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	if b.Len() == 0 {
		fmt.Fprintln(os.Stderr, "batch is empty")
		return nil
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, "run")
	if err != nil {
		return err
	}
	defer a.Close()

	deps := batch.Deps{
		Registry: tool.NewRegistry(config.ResolveWorkspace(cfg)),
		Prompter: a.prompter(),
		Store:    a.store,
		Hub:      a.hub,
		Logger:   a.logger,
	}
	if *remoteExec {
		mb, err := openBusFn(cfg, a.logger)
		if err != nil {
			return err
		}
		defer mb.Close()
		deps.Processor = batch.RemoteProcessor(cfg, mb)
	}
	q, err := batch.NewQueue(cfg, deps)
	if err != nil {
		return withExitCode(err, exitConfig)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, runErr := q.RunWait(ctx, b.Source(), b)
	if err := printResults(stdout, b.Source(), results, *jsonOut); err != nil {
		return err
	}
	if runErr != nil && (errors.Is(runErr, context.Canceled) || ctx.Err() != nil) {
		return withExitCode(runErr, exitCanceled)
	}
	return runErr
}

func readBatchFile(path string) (*tool.Batch, error) {
	if path == "-" {
		return tool.LoadBatch(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tool.LoadBatch(f)
}

// printResults writes completed results in batch order. Entries that did not
// complete are skipped.
func printResults(w io.Writer, src jobqueue.Source, results jobqueue.Results, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if results == nil {
			results = jobqueue.Results{}
		}
		return enc.Encode(results)
	}
	for i := 0; i < src.Len(); i++ {
		key := src.KeyAt(i)
		res, ok := results[key]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "== %s\n", key)
		switch v := res.(type) {
		case *tool.Result:
			if v.Output != "" {
				fmt.Fprintln(w, strings.TrimRight(v.Output, "\n"))
			}
			if v.Truncated {
				fmt.Fprintln(w, "[output truncated]")
			}
		default:
			fmt.Fprintf(w, "%v\n", v)
		}
	}
	return nil
}
