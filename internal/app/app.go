// Package app wires the application together: logger construction,
// program loading, function compilation, invocation, and the snapshot
// store.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vk/tensorlink/internal/compile"
	"github.com/vk/tensorlink/internal/ctxlog"
	"github.com/vk/tensorlink/internal/program"
	"github.com/vk/tensorlink/internal/store"
	"github.com/vk/tensorlink/internal/value"
)

// Config holds everything an App instance needs to run.
type Config struct {
	ProgramPath  string
	FunctionName string
	LogFormat    string
	LogLevel     string
	Linker       string
	GC           bool
	Calls        int
	Args         []string
	StorePath    string
	SaveAs       string
	LoadName     string
}

// App encapsulates the application's dependencies and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
}

// New constructs the application with its own isolated logger.
func New(outW io.Writer, errW io.Writer, cfg *Config) *App {
	return &App{
		outW:   outW,
		logger: newLogger(cfg.LogLevel, cfg.LogFormat, errW),
	}
}

// Run executes one program: compile (or restore) the function, invoke
// it the requested number of times, and optionally save a snapshot.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App run started.", "program", cfg.ProgramPath, "load", cfg.LoadName)

	args, err := parseArgs(cfg.Args)
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.StorePath != "" {
		st, err = store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	var fn *compile.Function
	var outputNames []string
	source := ""

	if cfg.LoadName != "" {
		if st == nil {
			return fmt.Errorf("-load requires -store")
		}
		snap, err := st.Load(ctx, cfg.LoadName)
		if err != nil {
			return err
		}
		fn, err = compile.Restore(ctx, snap.State)
		if err != nil {
			return err
		}
		source = snap.Source
		a.logger.Debug("Function restored from store.", "name", cfg.LoadName)
	} else {
		prog, err := program.Load(ctx, cfg.ProgramPath)
		if err != nil {
			return err
		}
		var mode *compile.Mode
		if cfg.Linker != "" {
			m, err := compile.ParseMode(cfg.Linker, cfg.GC)
			if err != nil {
				return err
			}
			mode = &m
		}
		built, err := prog.BuildFunction(ctx, cfg.FunctionName, mode)
		if err != nil {
			return err
		}
		fn = built.Function
		outputNames = built.OutputNames
		source = prog.Source
	}

	if got, want := len(args), fn.Arity(); got != want {
		return fmt.Errorf("function takes %d arguments, got %d via -args", want, got)
	}

	for call := 0; call < cfg.Calls; call++ {
		results, err := fn.Invoke(ctx, args, nil)
		if err != nil {
			return fmt.Errorf("call %d: %w", call+1, err)
		}
		for i, res := range results {
			label := fmt.Sprintf("out%d", i)
			if i < len(outputNames) {
				label = outputNames[i]
			}
			fmt.Fprintf(a.outW, "call %d: %s = %v\n", call+1, label, res)
		}
	}

	if cfg.SaveAs != "" {
		if st == nil {
			return fmt.Errorf("-save requires -store")
		}
		state, err := fn.MarshalBinary()
		if err != nil {
			return err
		}
		id, err := st.Save(ctx, cfg.SaveAs, source, state)
		if err != nil {
			return err
		}
		a.logger.Info("Snapshot saved.", "name", cfg.SaveAs, "id", id)
	}

	a.logger.Debug("App run finished.")
	return nil
}

// parseArgs turns "x=5,y=2.5" pairs into scalar tensor arguments, in
// the order given. Whole numbers become int64 scalars.
func parseArgs(pairs []string) ([]any, error) {
	var out []any
	for _, pair := range pairs {
		_, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("argument %q is not of the form name=value", pair)
		}
		raw = strings.TrimSpace(raw)
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			out = append(out, value.ScalarInt64(i))
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", pair, err)
		}
		out = append(out, value.ScalarFloat64(f))
	}
	return out, nil
}
