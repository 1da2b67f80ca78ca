// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Command harness is a local coding agent. With arguments it runs them as a
// single task; otherwise it starts an interactive session.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jllopis/harness/pkg/config"
	"github.com/jllopis/harness/pkg/errors"
	"github.com/mattn/go-isatty"
)

const version = "v0.1.0"

type globalFlags struct {
	ConfigArgs  []string
	JSON        bool
	NoTelemetry bool
	Help        bool
	Version     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global, args, err := parseGlobalFlags(argv)
	if err != nil {
		return reportError(stderr, NewInvalidArgumentError(err.Error()), global.JSON)
	}
	if global.Help {
		printUsage(stdout)
		return 0
	}
	if global.Version {
		fmt.Fprintf(stdout, "harness %s\n", version)
		return 0
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		return reportError(stderr, NewConfigError(err, configPathArg(global.ConfigArgs)), global.JSON)
	}

	// SIGTERM ends the process; SIGINT is routed per task below.
	root, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := newApp(root, cfg, appOptions{
		stdout:      stdout,
		stderr:      stderr,
		json:        global.JSON,
		noTelemetry: global.NoTelemetry,
	})
	if err != nil {
		return reportError(stderr, err, global.JSON)
	}
	defer a.Close()

	if len(args) > 0 {
		task := strings.Join(args, " ")
		ctx, cancel := signal.NotifyContext(root, os.Interrupt)
		defer cancel()
		return a.runSingle(ctx, task)
	}

	s := newSession(a, stdin, isInteractive(stdin, stdout))
	if s.interactive {
		if w, err := config.WatchCLI(root, global.ConfigArgs, config.WithWatchLogger(a.logger)); err == nil {
			defer w.Stop()
			w.OnChange(s.queueConfig)
		} else {
			a.logger.Warn("config watch disabled", "error", err)
		}
	}
	return s.loop(root)
}

func isInteractive(stdin io.Reader, stdout io.Writer) bool {
	in, ok := stdin.(*os.File)
	if !ok {
		return false
	}
	out, ok := stdout.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(in.Fd()) && isatty.IsTerminal(out.Fd())
}

// parseGlobalFlags consumes leading flags. The first non-flag argument
// starts the task text.
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--version":
			flags.Version = true
		case arg == "--json":
			flags.JSON = true
		case arg == "--no-telemetry":
			flags.NoTelemetry = true
		case arg == "--config", arg == "--set", arg == "--profile", arg == "--env":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--set="),
			strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--env="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown flag %q", arg)
		}
	}
	return flags, nil, nil
}

// configPathArg extracts the --config value for error hints.
func configPathArg(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return config.DefaultPath()
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Harness - local coding agent

Usage:
  harness [flags] [task...]

Without a task, starts an interactive session (or reads one task per line
when stdin is not a terminal).

Flags:
  --config <path>     Config file (YAML or JSON, default ~/.harness/config.json)
  --profile <name>    Merge <config>.<name>.<ext> over the config file (alias --env)
  --set key=value     Override a config value (repeatable)
  --json              Print results as JSON
  --no-telemetry      Disable trace and metric export
  --version           Print the version
  -h, --help          Show this help

Environment:
  HARNESS_<SECTION>_<KEY>   e.g. HARNESS_LLM_MODEL, HARNESS_AGENT_MAX_STEPS
  CHAT_MODEL, MAX_STEPS, OLLAMA_HOST, QDRANT_HOST, FILESYSTEM_ROOT, CONTRAST_API_KEY

Type /help in a session for commands.
`)
}

func printJSON(w io.Writer, value any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(value)
}

// reportError prints err and returns the matching exit status.
func reportError(w io.Writer, err error, asJSON bool) int {
	var cliErr *CLIError
	if ce, ok := err.(*CLIError); ok {
		cliErr = ce
	} else {
		cliErr = NewCLIError(errors.AsHarnessError(err), hintFor(err))
	}
	cliErr.PrintError(w, asJSON)
	return errors.ExitCode(cliErr.HarnessError)
}
