// Package cli parses command-line arguments into an app.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/tensorlink/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("tensorlink", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
tensorlink - compile and run stateful tensor programs.

Usage:
  tensorlink [options] [PROGRAM_PATH]

Arguments:
  PROGRAM_PATH
    Path to a .hcl program file. Optional when restoring with -load.

Options:
`)
		flagSet.PrintDefaults()
	}

	programFlag := flagSet.String("program", "", "Path to the program file.")
	functionFlag := flagSet.String("function", "", "Function block to build. Defaults to the only function in the program.")
	linkerFlag := flagSet.String("linker", "", "Linker to compile with. Options: 'perform' or 'block'. Empty uses the program's mode block.")
	gcFlag := flagSet.Bool("gc", true, "Reclaim intermediate storage after each call (perform linker only).")
	callsFlag := flagSet.Int("calls", 1, "Number of times to invoke the function.")
	argsFlag := flagSet.String("args", "", "Comma-separated input bindings, e.g. 'x=5,y=2.5', in declaration order.")
	storeFlag := flagSet.String("store", "", "Path to the snapshot database. Use 'file::memory:' for in-memory.")
	saveFlag := flagSet.String("save", "", "Save the function state to the store under this name after the calls.")
	loadFlag := flagSet.String("load", "", "Restore the function from the store under this name instead of compiling.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := *programFlag
	if path == "" && flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Program path determined.", "path", path)

	if path == "" && *loadFlag == "" {
		slog.Debug("No program path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	switch *linkerFlag {
	case "", "perform", "block":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid linker: must be 'perform' or 'block'"}
	}

	if *callsFlag < 1 {
		return nil, false, &ExitError{Code: 2, Message: "invalid calls: must be at least 1"}
	}

	if (*saveFlag != "" || *loadFlag != "") && *storeFlag == "" {
		return nil, false, &ExitError{Code: 2, Message: "-save and -load require -store"}
	}
	slog.Debug("CLI parameter validation complete.")

	var callArgs []string
	if *argsFlag != "" {
		for _, pair := range strings.Split(*argsFlag, ",") {
			callArgs = append(callArgs, strings.TrimSpace(pair))
		}
	}

	config := &app.Config{
		ProgramPath:  path,
		FunctionName: *functionFlag,
		Linker:       *linkerFlag,
		GC:           *gcFlag,
		Calls:        *callsFlag,
		Args:         callArgs,
		StorePath:    *storeFlag,
		SaveAs:       *saveFlag,
		LoadName:     *loadFlag,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
