package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"porchlight/internal/config"
	"porchlight/internal/logging"
	"porchlight/internal/mediator"
	"porchlight/internal/watch"
)

var (
	runSteps   int
	recordPath string
	watchModel bool
)

// runCmd executes a model
var runCmd = &cobra.Command{
	Use:   "run <model.yaml>",
	Short: "Run a model for a number of steps and print the final pool",
	Long: `Compiles the model's Go source, registers its functions and runs them
step by step. Every step calls each function once in call order; results are
written back to the pool immediately, so later functions see them.

With --record the seeded pool and every step are stored in SQLite
(see 'porch history'). With --watch the model is re-run whenever the model
file or its source file changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runModel,
}

type runOptions struct {
	steps  int    // 0 falls back to the model, then to config
	record string // "" disables recording
}

func runModel(cmd *cobra.Command, args []string) error {
	opts := runOptions{steps: runSteps, record: recordPath}
	if opts.record == "" && cfg.Store.Enabled {
		opts.record = cfg.Store.DatabasePath
	}

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	if watchModel {
		return watchAndRun(ctx, cfg, args[0], opts, out)
	}
	_, err := executeModel(ctx, cfg, args[0], opts, out)
	return err
}

// executeModel loads, builds and runs a model once, then prints the pool.
func executeModel(ctx context.Context, cfg *config.Config, path string, opts runOptions, out io.Writer) (mediator.Snapshot, error) {
	model, err := config.LoadModel(path)
	if err != nil {
		return mediator.Snapshot{}, err
	}

	steps := opts.steps
	if steps <= 0 {
		steps = model.Steps
	}
	if steps <= 0 {
		steps = cfg.Engine.DefaultSteps
	}

	s, err := buildSession(ctx, cfg, model, buildOptions{recordPath: opts.record, steps: steps})
	if err != nil {
		return mediator.Snapshot{}, err
	}
	defer s.Close()

	start := time.Now()
	timeout := cfg.GetStepTimeout()
	for i := 0; i < steps; i++ {
		if err := runStep(ctx, s.med, timeout); err != nil {
			return s.med.Snapshot(), fmt.Errorf("step %d: %w", s.med.Steps()+1, err)
		}
	}
	if err := s.med.Finalize(ctx); err != nil {
		return s.med.Snapshot(), err
	}

	snap := s.med.Snapshot()
	logging.Get(logging.CategoryCLI).Info("Model %s ran %d steps in %s", model.Name, snap.Steps, time.Since(start))

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s: %d step(s)", model.Name, snap.Steps)))
	fmt.Fprintln(out, renderPool(snap))
	if s.recorder != nil {
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("recorded run %s to %s", s.runID, opts.record)))
	}
	return snap, nil
}

func runStep(ctx context.Context, med *mediator.Mediator, timeout time.Duration) error {
	if timeout <= 0 {
		return med.RunStep(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return med.RunStep(stepCtx)
}

// watchAndRun runs the model, then again after every settled change to the
// model or source file, until ctx ends. Failed runs are reported and the
// watch continues.
func watchAndRun(ctx context.Context, cfg *config.Config, path string, opts runOptions, out io.Writer) error {
	model, err := config.LoadModel(path)
	if err != nil {
		return err
	}
	paths := []string{model.Path()}
	if src := model.SourcePath(); src != "" {
		paths = append(paths, src)
	}

	w, err := watch.New(paths, cfg.GetDebounce())
	if err != nil {
		return err
	}
	defer w.Stop()

	run := func() {
		if _, err := executeModel(ctx, cfg, path, opts, out); err != nil {
			fmt.Fprintln(out, warnStyle.Render("run failed: "+err.Error()))
		}
	}
	run()

	g, gctx := errgroup.WithContext(ctx)
	changes := make(chan string, 1)
	if err := w.Start(gctx, func(changed string) {
		select {
		case changes <- changed:
		default:
		}
	}); err != nil {
		return err
	}
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("watching %d file(s), Ctrl+C to stop", len(paths))))

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case changed := <-changes:
				fmt.Fprintln(out, mutedStyle.Render("changed: "+changed))
				run()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		w.Stop()
		return nil
	})
	return g.Wait()
}
