package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"porchlight/internal/config"
)

var showInstrumented bool

// inspectCmd shows what a model wires together without running it
var inspectCmd = &cobra.Command{
	Use:   "inspect <model.yaml>",
	Short: "Show discovered inputs, outputs, call order and the seeded pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectModel(cmd, cfg, args[0], cmd.OutOrStdout())
	},
}

func inspectModel(cmd *cobra.Command, cfg *config.Config, path string, out io.Writer) error {
	model, err := config.LoadModel(path)
	if err != nil {
		return err
	}
	s, err := buildSession(commandContext(cmd), cfg, model, buildOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	snap := s.med.Snapshot()
	fmt.Fprintln(out, titleStyle.Render("model "+model.Name))
	fmt.Fprintln(out, "call order: "+strings.Join(snap.CallOrder, " -> "))
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderAdapters(snap))
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderPool(snap))

	for _, a := range s.adapters {
		for _, w := range a.Warnings() {
			fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("warning: %s: %s", a.Name(), w)))
		}
	}
	if missing := s.med.UninitializedInputs(); len(missing) > 0 {
		fmt.Fprintln(out, warnStyle.Render("inputs without values: "+strings.Join(missing, ", ")))
	} else {
		fmt.Fprintln(out, okStyle.Render("all required inputs present"))
	}

	if showInstrumented {
		fmt.Fprintln(out)
		fmt.Fprintln(out, mutedStyle.Render("instrumented source:"))
		fmt.Fprintln(out, s.program.Instrumented())
	}
	return nil
}
