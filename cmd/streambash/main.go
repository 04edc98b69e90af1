// Command streambash is a CLI harness over the dispatcher: each
// subcommand is the same call a host agent loop would make against the
// start tool or the process tool, so it doubles as a manual driver for
// the subsystem. The registry lives in this process's memory, so ps,
// poll, log, stdin and kill only see sessions started by the same
// process; a session started by an earlier `streambash run` is not
// visible to them.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/streambash/internal/bgconfig"
	"github.com/ehrlich-b/streambash/internal/bglog"
	"github.com/ehrlich-b/streambash/internal/dispatcher"
	"github.com/ehrlich-b/streambash/internal/events"
	"github.com/ehrlich-b/streambash/internal/registry"
	"github.com/ehrlich-b/streambash/internal/shellexec"
)

var (
	logLevel   string
	logFile    string
	policyPath string

	disp *dispatcher.Dispatcher
	reg  *registry.Registry
)

func main() {
	root := &cobra.Command{
		Use:   "streambash",
		Short: "Streamable background-process execution subsystem",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bglog.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			watcher, err := bgconfig.NewWatcher(policyPath, false)
			if err != nil {
				return fmt.Errorf("load policy: %w", err)
			}
			_ = watcher.Close()
			reg = registry.New(watcher.Current().JobTTL)
			disp = dispatcher.New(reg, shellexec.New())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "additional log file (stderr is always written to)")
	root.PersistentFlags().StringVar(&policyPath, "policy", "", "optional YAML policy file; the CLI applies its job_ttl_ms (yield_ms and max_output_chars are read but not applied)")

	root.AddCommand(runCmd(), psCmd(), pollCmd(), logCmd(), stdinCmd(), killCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var workdir string
	var yieldMs int
	var envFlags []string
	var stdinMode string

	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Start tool: run a shell command, streaming to stdout until it completes or the yield window elapses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envOverlay, err := parseEnvFlags(envFlags)
			if err != nil {
				return err
			}
			sink := events.SinkFunc(func(e events.Event) {
				switch e.Kind {
				case events.KindOutput:
					if e.Stream == events.StreamStderr {
						fmt.Fprint(os.Stderr, e.Chunk)
					} else {
						fmt.Fprint(os.Stdout, e.Chunk)
					}
				case events.KindProgress:
					fmt.Fprintf(os.Stderr, "\n[yielded: session %s, pid %d]\n", e.SessionID, e.Pid)
				}
			})
			result, err := disp.Start(context.Background(), "cli", dispatcher.StartArgs{
				Command:   strings.Join(args, " "),
				Workdir:   workdir,
				Env:       envOverlay,
				YieldMs:   yieldMs,
				StdinMode: stdinMode,
			}, nil, nil, sink)
			if err != nil {
				return err
			}
			if result.Status == dispatcher.StatusRunning {
				fmt.Println(result.Content[0].Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory for the command")
	cmd.Flags().IntVar(&yieldMs, "yield-ms", 0, "milliseconds to wait before yielding (0 uses BASH_YIELD_MS or the package default)")
	cmd.Flags().StringArrayVar(&envFlags, "env", nil, "KEY=VALUE environment overlay, repeatable")
	cmd.Flags().StringVar(&stdinMode, "stdin-mode", "", "stdin mode, only \"pipe\" is supported")
	return cmd
}

func psCmd() *cobra.Command {
	var limit int
	var noLimit bool
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "Process tool, action=list: show running and recently finished sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var l *int
			if !noLimit {
				l = &limit
			}
			result := disp.Process(dispatcher.ProcessArgs{Action: dispatcher.ActionList, Limit: l})
			fmt.Print(result.Content[0].Text)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions to list")
	cmd.Flags().BoolVar(&noLimit, "all", false, "list every tracked session, ignoring --limit")
	return cmd
}

func pollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <session-id>",
		Short: "Process tool, action=poll: drain new output from a backgrounded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := disp.Process(dispatcher.ProcessArgs{Action: dispatcher.ActionPoll, SessionID: args[0]})
			fmt.Println(result.Content[0].Text)
			return statusErr(result)
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	var offset, limit int
	var hasOffset, hasLimit bool
	cmd := &cobra.Command{
		Use:   "log <session-id>",
		Short: "Process tool, action=log: read a slice of the retained output window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var off, lim *int
			if hasOffset {
				off = &offset
			}
			if hasLimit {
				lim = &limit
			}
			result := disp.Process(dispatcher.ProcessArgs{Action: dispatcher.ActionLog, SessionID: args[0], Offset: off, Limit: lim})
			fmt.Println(result.Content[0].Text)
			return statusErr(result)
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "byte offset into the retained window")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum bytes to return")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		hasOffset = cmd.Flags().Changed("offset")
		hasLimit = cmd.Flags().Changed("limit")
		return nil
	}
	return cmd
}

func stdinCmd() *cobra.Command {
	var eof bool
	cmd := &cobra.Command{
		Use:   "stdin <session-id> <data>",
		Short: "Process tool, action=write: write to a backgrounded session's stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := disp.Process(dispatcher.ProcessArgs{Action: dispatcher.ActionWrite, SessionID: args[0], Data: args[1], EOF: eof})
			fmt.Println(result.Content[0].Text)
			return statusErr(result)
		},
	}
	cmd.Flags().BoolVar(&eof, "eof", false, "close stdin after writing")
	return cmd
}

func killCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill <session-id>",
		Short: "Process tool, action=kill: terminate a backgrounded session's process tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := disp.Process(dispatcher.ProcessArgs{Action: dispatcher.ActionKill, SessionID: args[0]})
			fmt.Println(result.Content[0].Text)
			return statusErr(result)
		},
	}
	return cmd
}

func statusErr(result dispatcher.Result) error {
	if result.Status == dispatcher.StatusFailed {
		os.Exit(1)
	}
	return nil
}

func parseEnvFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env value %q, want KEY=VALUE", f)
		}
		out[k] = v
	}
	return out, nil
}
