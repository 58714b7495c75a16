package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"porchlight/internal/adapter"
	"porchlight/internal/config"
	"porchlight/internal/logging"
	"porchlight/internal/mediator"
	"porchlight/internal/script"
	"porchlight/internal/store"
)

// session is one model compiled and wired into a mediator, optionally
// recording every step.
type session struct {
	model    *config.Model
	program  *script.Program
	med      *mediator.Mediator
	adapters []*adapter.Adapter
	recorder *store.Recorder
	runID    string
}

// buildOptions carries the per-invocation choices that override config.
type buildOptions struct {
	recordPath string // "" disables recording
	steps      int    // recorded in run meta
}

// buildSession compiles the model source, registers its functions and
// seeds the pool. With a record path it also opens the recorder, begins a
// run under the mediator's ID and records the seeded pool as step 0.
func buildSession(ctx context.Context, cfg *config.Config, model *config.Model, opts buildOptions) (*session, error) {
	timer := logging.StartTimer(logging.CategoryCLI, "buildSession")
	defer timer.Stop()

	src, err := model.SourceText()
	if err != nil {
		return nil, err
	}
	filename := model.SourcePath()
	if filename == "" {
		filename = model.Name + ".go"
	}
	program, err := script.Compile(src,
		script.WithFilename(filename),
		script.WithAllowedPackages(cfg.Engine.AllowedPackages...),
	)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model.Name, err)
	}

	s := &session{model: model, program: program}

	initialization, err := s.adapterGroup(cfg, model.Initialization)
	if err != nil {
		return nil, err
	}
	finalization, err := s.adapterGroup(cfg, model.Finalization)
	if err != nil {
		return nil, err
	}

	medOpts := []mediator.Option{
		mediator.WithInitialization(initialization...),
		mediator.WithFinalization(finalization...),
	}
	if opts.recordPath != "" {
		rec, err := store.Open(opts.recordPath)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
		s.runID = newRunID()
		medOpts = append(medOpts,
			mediator.WithID(s.runID),
			mediator.WithStepHook(rec.StepHook(s.runID)),
		)
	}
	s.med = mediator.New(medOpts...)

	if err := s.wire(cfg); err != nil {
		s.Close()
		return nil, err
	}

	if s.recorder != nil {
		meta := map[string]string{
			"source": filename,
			"steps":  strconv.Itoa(opts.steps),
		}
		if _, err := s.recorder.BeginRun(ctx, s.runID, model.Name, meta); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.recorder.RecordStep(ctx, s.runID, 0, s.med.Snapshot().Cells); err != nil {
			s.Close()
			return nil, err
		}
	}

	logging.Get(logging.CategoryCLI).Info("Built model %s: %d adapters, call order %v",
		model.Name, len(s.adapters), s.med.CallOrder())
	return s, nil
}

// wire registers the step functions, then seeds values and constants so
// they win over parameter defaults, then applies the call order.
func (s *session) wire(cfg *config.Config) error {
	for _, spec := range s.model.Functions {
		a, err := s.adapterFor(cfg, spec)
		if err != nil {
			return err
		}
		if err := s.med.AddAdapter(a); err != nil {
			return err
		}
	}
	for _, name := range sortedNames(s.model.Values) {
		if err := s.med.SetValue(name, s.model.Values[name]); err != nil {
			return fmt.Errorf("value %s: %w", name, err)
		}
	}
	for _, name := range sortedNames(s.model.Constants) {
		if err := s.med.SetConstant(name, s.model.Constants[name]); err != nil {
			return fmt.Errorf("constant %s: %w", name, err)
		}
	}
	if len(s.model.Order) > 0 {
		if err := s.med.OrderAdapters(s.model.Order); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) adapterGroup(cfg *config.Config, specs []config.FunctionSpec) ([]adapter.Invoker, error) {
	invs := make([]adapter.Invoker, 0, len(specs))
	for _, spec := range specs {
		a, err := s.adapterFor(cfg, spec)
		if err != nil {
			return nil, err
		}
		invs = append(invs, a)
	}
	return invs, nil
}

func (s *session) adapterFor(cfg *config.Config, spec config.FunctionSpec) (*adapter.Adapter, error) {
	opts := []adapter.Option{
		adapter.WithName(spec.AdapterName()),
		adapter.WithTypeCheck(spec.TypeCheck || cfg.Engine.StrictTypes),
	}
	if len(spec.Mapping) > 0 {
		opts = append(opts, adapter.WithMapping(spec.Mapping))
	}
	if len(spec.Defaults) > 0 {
		opts = append(opts, adapter.WithDefaults(spec.Defaults))
	}
	if len(spec.Outputs) > 0 {
		opts = append(opts, adapter.WithOutputs(spec.Outputs...))
	}

	a, err := s.program.Adapter(spec.Func, opts...)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", spec.Func, err)
	}
	for _, w := range a.Warnings() {
		logging.Get(logging.CategoryCLI).Warn("%s: %s", a.Name(), w)
	}
	s.adapters = append(s.adapters, a)
	return a, nil
}

// Close releases the recorder, if any.
func (s *session) Close() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Close(); err != nil {
		logging.Get(logging.CategoryCLI).Warn("Failed to close recorder: %v", err)
	}
	s.recorder = nil
}

func newRunID() string { return uuid.NewString() }

func sortedNames(values map[string]any) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
