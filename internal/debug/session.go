package debug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	godap "github.com/google/go-dap"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/evmdebug/internal/debug/dap"
	"github.com/dshills/evmdebug/internal/debug/runtime"
	"github.com/dshills/evmdebug/internal/debug/variables"
	"github.com/dshills/evmdebug/internal/trace"
)

// Options configures a Session.
type Options struct {
	Engine    trace.Engine
	Contracts runtime.ContractLoader
	Logger    log.Logger

	// StopOnEntry applies when launch does not say.
	StopOnEntry bool

	// ProviderURL applies when launch does not name a provider.
	ProviderURL string

	// EventBuffer is the capacity of the runtime event channel.
	EventBuffer int
}

// Session serves one debug session over a transport. It owns one runtime
// and one variable indirection for its lifetime.
type Session struct {
	id        string
	transport dap.Transport
	runtime   *runtime.Runtime
	vars      *variables.Indirection
	log       log.Logger
	opts      Options

	sendMu sync.Mutex
	seq    int

	stateMu sync.RWMutex
	state   State
	tracing bool

	launchedOnce  sync.Once
	launched      chan struct{}
	terminateOnce sync.Once

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	leaving  bool
}

// NewSession creates a session reading requests from transport.
func NewSession(transport dap.Transport, opts Options) *Session {
	l := opts.Logger
	if l == nil {
		l = log.Root()
	}
	id := uuid.NewString()
	l = l.New("session", id)

	rt := runtime.New(runtime.Options{
		Engine:      opts.Engine,
		Contracts:   opts.Contracts,
		Logger:      l,
		EventBuffer: opts.EventBuffer,
	})
	return &Session{
		id:        id,
		transport: transport,
		runtime:   rt,
		vars:      variables.New(rt),
		log:       l,
		opts:      opts,
		launched:  make(chan struct{}),
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current protocol state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	old := s.state
	if old != StateTerminated {
		s.state = state
	}
	s.stateMu.Unlock()

	if old != state && old != StateTerminated {
		s.log.Debug("Session state changed", "from", old, "to", state)
	}
}

// Serve reads and answers requests until the client disconnects, the
// transport fails or ctx is cancelled. Requests are answered one at a time
// in arrival order; runtime events reach the client from a separate goroutine
// and interleave between responses.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer cancel()

	s.log.Info("Debug session started")

	var g errgroup.Group
	g.Go(func() error {
		s.pump(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.transport.Close()
	})

	err := s.readLoop(ctx)

	cancel()
	if cerr := s.runtime.Close(); cerr != nil {
		s.log.Warn("Closing trace failed", "err", cerr)
	}
	_ = g.Wait()

	s.log.Info("Debug session ended", "err", err)
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.transport.Receive()
		if err != nil {
			if s.isLeaving() || ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		decoded, err := dap.Decode(msg.Content)
		if err != nil {
			var de *dap.DecodeError
			if errors.As(err, &de) && de.IsRequest() {
				s.log.Warn("Unsupported request", "seq", de.Seq, "command", de.Command)
				s.send(dap.NewErrorResponse(de.Seq, de.Command, fmt.Sprintf("unsupported command %q", de.Command)))
				continue
			}
			s.log.Warn("Dropping undecodable message", "err", err)
			continue
		}

		reqMsg, ok := decoded.(godap.RequestMessage)
		if !ok {
			s.log.Debug("Ignoring non-request message", "seq", decoded.GetSeq())
			continue
		}

		s.handle(ctx, reqMsg)
	}
}

// handle runs one request inside the fault boundary. Every failure, panics
// included, becomes a single error response.
func (s *Session) handle(ctx context.Context, msg godap.RequestMessage) {
	req := msg.GetRequest()
	l := s.log.New("seq", req.Seq, "command", req.Command)
	l.Trace("Request received")
	if s.isTracing() {
		s.output("console", fmt.Sprintf("-> %s (%d)\n", req.Command, req.Seq))
	}

	resp, err := s.dispatch(ctx, msg)
	if err != nil {
		l.Debug("Request failed", "err", err)
		s.send(dap.NewErrorResponse(req.Seq, req.Command, err.Error()))
		return
	}
	s.send(resp)

	switch req.Command {
	case "initialize":
		s.send(&godap.InitializedEvent{Event: dap.NewEvent("initialized")})
	case "disconnect":
		s.leave()
	}
}

func (s *Session) dispatch(ctx context.Context, msg godap.RequestMessage) (resp godap.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Request handler panicked", "command", msg.GetRequest().Command, "panic", r)
			resp, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()

	switch req := msg.(type) {
	case *godap.InitializeRequest:
		return s.onInitialize(req)
	case *godap.LaunchRequest:
		return s.onLaunch(ctx, req)
	case *godap.SetBreakpointsRequest:
		return s.onSetBreakpoints(req)
	case *godap.SetExceptionBreakpointsRequest:
		return s.onSetExceptionBreakpoints(req)
	case *godap.ConfigurationDoneRequest:
		return s.onConfigurationDone(req)
	case *godap.ThreadsRequest:
		return s.onThreads(req)
	case *godap.StackTraceRequest:
		return s.onStackTrace(req)
	case *godap.ScopesRequest:
		return s.onScopes(req)
	case *godap.VariablesRequest:
		return s.onVariables(ctx, req)
	case *godap.EvaluateRequest:
		return s.onEvaluate(ctx, req)
	case *godap.ContinueRequest:
		return s.onContinue(req)
	case *godap.NextRequest:
		return s.onNext(req)
	case *godap.StepInRequest:
		return s.onStepIn(req)
	case *godap.StepOutRequest:
		return s.onStepOut(req)
	case *godap.DisconnectRequest:
		return s.onDisconnect(req)
	case *dap.GetInstructionsRequest:
		return s.onGetInstructions(req)
	case *dap.GetCurrentInstructionRequest:
		return s.onGetCurrentInstruction(req)
	default:
		return nil, fmt.Errorf("unsupported command %q", msg.GetRequest().Command)
	}
}

// pump forwards runtime events to the client. Stops are held back until
// the launched event has been sent.
func (s *Session) pump(ctx context.Context) {
	for ev := range s.runtime.Events() {
		if s.isTracing() {
			s.output("console", fmt.Sprintf("<- %s\n", ev.Kind))
		}

		switch {
		case ev.Kind == runtime.EventBreakpointValidated:
			bp := ev.Breakpoint
			s.send(&godap.BreakpointEvent{
				Event: dap.NewEvent("breakpoint"),
				Body: godap.BreakpointEventBody{
					Reason:     "changed",
					Breakpoint: toBreakpoint(*bp),
				},
			})

		case ev.Kind == runtime.EventEnd:
			s.terminate()

		case ev.Kind.IsStop():
			select {
			case <-s.launched:
			case <-ctx.Done():
				continue
			}
			s.setState(StateStopped)

			body := godap.StoppedEventBody{
				Reason:            ev.Kind.String(),
				ThreadId:          dap.ThreadID,
				AllThreadsStopped: true,
				Text:              ev.Text,
			}
			if ev.Kind == runtime.EventBreakpoint && ev.Breakpoint != nil {
				body.HitBreakpointIds = []int{ev.Breakpoint.ID}
			}
			s.send(&godap.StoppedEvent{Event: dap.NewEvent("stopped"), Body: body})
		}
	}
}

// markLaunched sends the launched event and releases held stops.
func (s *Session) markLaunched() {
	s.launchedOnce.Do(func() {
		s.send(dap.NewLaunchedEvent())
		close(s.launched)
	})
}

// terminate sends the terminated event once.
func (s *Session) terminate() {
	s.terminateOnce.Do(func() {
		s.setState(StateTerminated)
		s.send(&godap.TerminatedEvent{Event: dap.NewEvent("terminated")})
		s.log.Info("Trace exhausted")
	})
}

// output sends an output event.
func (s *Session) output(category, text string) {
	s.send(&godap.OutputEvent{
		Event: dap.NewEvent("output"),
		Body:  godap.OutputEventBody{Category: category, Output: text},
	})
}

// send stamps msg with the next sequence number and writes it. Sends are
// totally ordered.
func (s *Session) send(msg any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.seq++
	data, err := dap.Encode(msg, s.seq)
	if err != nil {
		s.log.Error("Cannot encode message", "err", err)
		return
	}
	if err := s.transport.Send(&dap.Message{Content: data}); err != nil {
		s.log.Debug("Send failed", "err", err)
	}
}

func (s *Session) isTracing() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.tracing
}

func (s *Session) setTracing(on bool) {
	s.stateMu.Lock()
	s.tracing = on
	s.stateMu.Unlock()
}

func (s *Session) leave() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	s.leaving = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) isLeaving() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	return s.leaving
}
