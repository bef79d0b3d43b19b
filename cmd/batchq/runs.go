package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/odvcencio/batchq/pkg/storage"
)

var openStoreFn = storage.New

// runRunsCommand lists recorded runs, or the jobs and approvals of one run.
func runRunsCommand(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	limit := fs.Int("limit", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return withExitCode(fmt.Errorf("run journal disabled (set storage.path or -db)"), exitConfig)
	}
	store, err := openStoreFn(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if fs.NArg() > 0 {
		return showRun(ctx, store, fs.Arg(0))
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSIZE\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if !r.Finished.IsZero() {
			duration = r.Finished.Sub(r.Started).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.RunID, r.Status, r.Size, r.Started.Local().Format(time.DateTime), duration, r.Error)
	}
	return tw.Flush()
}

func showRun(ctx context.Context, store *storage.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	fmt.Fprintf(stdout, "Run %s: %s (%d entries)\n", run.RunID, run.Status, run.Size)
	if run.Error != "" {
		fmt.Fprintf(stdout, "Error: %s\n", run.Error)
	}

	jobs, err := store.ListJobs(ctx, runID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nJOB\tDURATION\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Key, j.Duration.Round(time.Millisecond), j.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	approvals, err := store.ListApprovals(ctx, runID)
	if err != nil {
		return err
	}
	if len(approvals) == 0 {
		return nil
	}
	tw = tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nJOB\tOPERATION\tDECISION\tAPPROVED\tTARGET")
	for _, e := range approvals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", e.JobKey, e.Operation, e.Decision, e.Approved, e.Target)
	}
	return tw.Flush()
}
