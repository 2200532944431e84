package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/spf13/cobra"

	"github.com/dshills/evmdebug/internal/debug"
	"github.com/dshills/evmdebug/internal/debug/dap"
	"github.com/dshills/evmdebug/internal/debug/variables"
	"github.com/dshills/evmdebug/internal/trace/fixture"
)

// replayOptions drive a scripted debug session.
type replayOptions struct {
	workingDirectory string
	step             string
	max              int
	breakpoints      []string
	stopOnEntry      bool
	vars             bool
	demo             bool
}

func newReplayCmd(a *app) *cobra.Command {
	ro := replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay [txHash]",
		Short: "Step through a transaction and print every stop",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch ro.step {
			case "over", "into", "out", "continue":
			default:
				return fmt.Errorf("invalid --step %q (must be over, into, out or continue)", ro.step)
			}
			if len(args) == 0 && !ro.demo {
				return errors.New("replay needs a transaction hash unless --demo is set")
			}
			opts, store, err := a.sessionOptions()
			if err != nil {
				return err
			}
			defer store.Close()

			var txHash string
			if len(args) > 0 {
				txHash = args[0]
			}
			if ro.demo {
				sample := fixture.Counter()
				opts.Engine = fixture.Static(sample)
				opts.Contracts = nil
				if txHash == "" {
					txHash = sample.TxHash
				}
			}
			return replay(cmd.Context(), cmd.OutOrStdout(), opts, txHash, ro)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&ro.workingDirectory, "cwd", ".", "project directory holding the build artifacts")
	flags.StringVar(&ro.step, "step", "over", "how to advance after each stop (over, into, out, continue)")
	flags.IntVar(&ro.max, "max", 0, "stop after this many stops (0 means no limit)")
	flags.StringArrayVarP(&ro.breakpoints, "break", "b", nil, "breakpoint as path:line, repeatable")
	flags.BoolVar(&ro.stopOnEntry, "stop-on-entry", true, "stop at the first step of the transaction")
	flags.BoolVar(&ro.vars, "vars", false, "print the top-level variables at each stop")
	flags.BoolVar(&ro.demo, "demo", false, "replay the built-in Counter sample trace instead of a real transaction")
	return cmd
}

// replay drives an in-process session through a DAP client, the same way
// an editor would.
func replay(ctx context.Context, out io.Writer, opts debug.Options, txHash string, ro replayOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// output events arrive on the client's receive goroutine
	out = &syncWriter{w: out}

	server, conn := net.Pipe()
	session := debug.NewSession(dap.NewRawTransport(server), opts)
	served := make(chan error, 1)
	go func() { served <- session.Serve(ctx) }()

	client := dap.NewClient(dap.NewRawTransport(conn))
	defer client.Close()

	stops := make(chan godap.StoppedEventBody, 16)
	ended := make(chan struct{})
	client.OnStopped(func(body godap.StoppedEventBody) { stops <- body })
	client.OnTerminated(func() { close(ended) })
	client.OnOutput(func(body godap.OutputEventBody) { fmt.Fprint(out, body.Output) })

	if _, err := client.Initialize(ctx, godap.InitializeRequestArguments{ClientID: "evmdebug-replay", AdapterID: "evmdebug"}); err != nil {
		return err
	}
	for _, spec := range ro.breakpoints {
		path, line, err := parseBreakpoint(spec)
		if err != nil {
			return err
		}
		if _, err := client.SetBreakpoints(ctx, path, line); err != nil {
			return fmt.Errorf("breakpoint %s: %w", spec, err)
		}
	}
	stopOnEntry := ro.stopOnEntry
	if err := client.Launch(ctx, dap.LaunchArguments{
		TxHash:           txHash,
		WorkingDirectory: ro.workingDirectory,
		StopOnEntry:      &stopOnEntry,
	}); err != nil {
		return err
	}

	for n := 0; ro.max <= 0 || n < ro.max; n++ {
		select {
		case stop := <-stops:
			if err := printStop(ctx, out, client, stop, ro.vars); err != nil {
				return err
			}
		case <-ended:
			fmt.Fprintln(out, "terminated")
			return disconnect(ctx, client, served)
		case err := <-served:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := advance(ctx, client, ro.step); err != nil {
			return err
		}
	}
	return disconnect(ctx, client, served)
}

func advance(ctx context.Context, client *dap.Client, step string) error {
	switch step {
	case "into":
		return client.StepIn(ctx)
	case "out":
		return client.StepOut(ctx)
	case "continue":
		return client.Continue(ctx)
	default:
		return client.Next(ctx)
	}
}

func printStop(ctx context.Context, out io.Writer, client *dap.Client, stop godap.StoppedEventBody, vars bool) error {
	st, err := client.StackTrace(ctx)
	if err != nil {
		return err
	}
	where := "?"
	if len(st.StackFrames) > 0 {
		f := st.StackFrames[0]
		file := ""
		if f.Source != nil {
			file = f.Source.Path
		}
		where = fmt.Sprintf("%s:%d (%s)", file, f.Line, f.Name)
	}
	line := fmt.Sprintf("%-10s %s", stop.Reason, where)
	if stop.Text != "" {
		line += ": " + stop.Text
	}
	fmt.Fprintln(out, line)

	if !vars {
		return nil
	}
	all, err := client.Variables(ctx, variables.AllReference)
	if err != nil {
		return err
	}
	for _, v := range all {
		fmt.Fprintf(out, "    %s = %s\n", v.Name, v.Value)
	}
	return nil
}

func disconnect(ctx context.Context, client *dap.Client, served <-chan error) error {
	if err := client.Disconnect(ctx); err != nil {
		return err
	}
	select {
	case err := <-served:
		return err
	case <-ctx.Done():
		return nil
	}
}

// parseBreakpoint splits "path:line". The last colon separates the line so
// Windows drive letters survive.
func parseBreakpoint(spec string) (string, int, error) {
	i := strings.LastIndex(spec, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid breakpoint %q, want path:line", spec)
	}
	line, err := strconv.Atoi(spec[i+1:])
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid breakpoint line in %q", spec)
	}
	return spec[:i], line, nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
