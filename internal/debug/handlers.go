package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	godap "github.com/google/go-dap"

	"github.com/dshills/evmdebug/internal/debug/dap"
	"github.com/dshills/evmdebug/internal/debug/runtime"
	"github.com/dshills/evmdebug/internal/debug/variables"
)

// ScopeName is the name of the single variables scope.
const ScopeName = "All variables"

func (s *Session) onInitialize(req *godap.InitializeRequest) (godap.Message, error) {
	s.setState(StateInitialized)
	s.log.Debug("Client initialized", "client", req.Arguments.ClientID, "adapter", req.Arguments.AdapterID)

	resp := &godap.InitializeResponse{
		Response: dap.NewResponse(req.Seq, req.Command),
		Body: godap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsEvaluateForHovers:        true,
		},
	}

	return resp, nil
}

func (s *Session) onLaunch(ctx context.Context, req *godap.LaunchRequest) (godap.Message, error) {
	var args dap.LaunchArguments
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid launch arguments: %w", err)
		}
	}
	if args.TxHash == "" {
		return nil, errors.New("launch requires txHash")
	}

	stopOnEntry := s.opts.StopOnEntry
	if args.StopOnEntry != nil {
		stopOnEntry = *args.StopOnEntry
	}
	provider := args.ProviderURL
	if provider == "" {
		provider = s.opts.ProviderURL
	}
	s.setTracing(args.Trace)

	s.setState(StateLaunching)
	s.log.Info("Launching", "tx", args.TxHash, "wd", args.WorkingDirectory, "provider", provider)

	if err := s.runtime.Attach(ctx, args.TxHash, args.WorkingDirectory, provider); err != nil {
		return nil, err
	}
	if _, err := s.runtime.ProcessInitialBreakPoints(); err != nil {
		s.log.Warn("Some breakpoints could not be set", "err", err)
		s.output("console", fmt.Sprintf("breakpoints: %v\n", err))
	}
	for _, f := range args.Files {
		if _, err := s.runtime.ResolveSource(f); err != nil {
			s.output("console", fmt.Sprintf("%s is not part of this transaction\n", f))
		}
	}

	s.markLaunched()
	s.setState(StateRunning)
	if err := s.runtime.Start(stopOnEntry); err != nil {
		return nil, err
	}
	return &godap.LaunchResponse{Response: dap.NewResponse(req.Seq, req.Command)}, nil
}

func (s *Session) onSetBreakpoints(req *godap.SetBreakpointsRequest) (godap.Message, error) {
	path := req.Arguments.Source.Path
	if path == "" {
		return nil, errors.New("setBreakpoints requires a source path")
	}

	lines := make([]int, 0, len(req.Arguments.Breakpoints))
	for _, bp := range req.Arguments.Breakpoints {
		lines = append(lines, bp.Line)
	}
	if len(lines) == 0 {
		lines = append(lines, req.Arguments.Lines...)
	}

	set, err := s.runtime.SetBreakpoints(path, lines)
	if err != nil {
		return nil, err
	}

	resp := &godap.SetBreakpointsResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.Breakpoints = make([]godap.Breakpoint, len(set))
	for i, bp := range set {
		resp.Body.Breakpoints[i] = toBreakpoint(bp)
		if !bp.Verified {
			resp.Body.Breakpoints[i].Message = "pending until a transaction is launched"
		}
	}
	return resp, nil
}

func (s *Session) onSetExceptionBreakpoints(req *godap.SetExceptionBreakpointsRequest) (godap.Message, error) {
	return &godap.SetExceptionBreakpointsResponse{Response: dap.NewResponse(req.Seq, req.Command)}, nil
}

func (s *Session) onConfigurationDone(req *godap.ConfigurationDoneRequest) (godap.Message, error) {
	return &godap.ConfigurationDoneResponse{Response: dap.NewResponse(req.Seq, req.Command)}, nil
}

func (s *Session) onThreads(req *godap.ThreadsRequest) (godap.Message, error) {
	resp := &godap.ThreadsResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.Threads = []godap.Thread{{Id: dap.ThreadID, Name: "Main Thread"}}
	return resp, nil
}

func (s *Session) onStackTrace(req *godap.StackTraceRequest) (godap.Message, error) {
	frames, err := s.runtime.CallStack()
	if err != nil {
		return nil, err
	}

	// frame ids start at 1, 0 means no frame
	out := make([]godap.StackFrame, len(frames))
	for i, f := range frames {
		out[i] = godap.StackFrame{
			Id:     i + 1,
			Name:   f.Name,
			Line:   f.Line,
			Column: f.Column,
		}
		if f.File != "" {
			out[i].Source = &godap.Source{Name: filepath.Base(f.File), Path: f.File}
		}
		if f.Address != "" || f.IsCurrent {
			out[i].InstructionPointerReference = hexutil.EncodeUint64(f.PC)
		}
		if !f.IsCurrent {
			out[i].PresentationHint = "subtle"
		}
	}

	start := req.Arguments.StartFrame
	if start < 0 || start > len(out) {
		start = len(out)
	}
	end := len(out)
	if levels := req.Arguments.Levels; levels > 0 && start+levels < end {
		end = start + levels
	}

	resp := &godap.StackTraceResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.StackFrames = out[start:end]
	resp.Body.TotalFrames = len(out)
	return resp, nil
}

func (s *Session) onScopes(req *godap.ScopesRequest) (godap.Message, error) {
	resp := &godap.ScopesResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.Scopes = []godap.Scope{{
		Name:               ScopeName,
		PresentationHint:   "locals",
		VariablesReference: variables.AllReference,
	}}
	return resp, nil
}

func (s *Session) onVariables(ctx context.Context, req *godap.VariablesRequest) (godap.Message, error) {
	vars, err := s.vars.List(ctx, req.Arguments.VariablesReference)
	if err != nil {
		return nil, err
	}

	resp := &godap.VariablesResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.Variables = make([]godap.Variable, len(vars))
	for i, v := range vars {
		resp.Body.Variables[i] = godap.Variable{
			Name:               v.Name,
			Value:              v.Value,
			Type:               v.Type,
			EvaluateName:       v.EvaluateName,
			VariablesReference: v.VariablesReference,
		}
	}
	return resp, nil
}

func (s *Session) onEvaluate(ctx context.Context, req *godap.EvaluateRequest) (godap.Message, error) {
	res, err := s.vars.Evaluate(ctx, req.Arguments.Expression)
	if err != nil {
		return nil, err
	}

	resp := &godap.EvaluateResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.Result = res.Result
	resp.Body.Type = res.Type
	resp.Body.VariablesReference = res.VariablesReference
	return resp, nil
}

func (s *Session) onContinue(req *godap.ContinueRequest) (godap.Message, error) {
	s.setState(StateRunning)
	if err := s.runtime.Continue(); err != nil {
		return nil, err
	}
	resp := &godap.ContinueResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.AllThreadsContinued = true
	return resp, nil
}

func (s *Session) onNext(req *godap.NextRequest) (godap.Message, error) {
	if err := s.stepWith(s.runtime.StepNext); err != nil {
		return nil, err
	}
	return &godap.NextResponse{Response: dap.NewResponse(req.Seq, req.Command)}, nil
}

func (s *Session) onStepIn(req *godap.StepInRequest) (godap.Message, error) {
	if err := s.stepWith(s.runtime.StepInto); err != nil {
		return nil, err
	}
	return &godap.StepInResponse{Response: dap.NewResponse(req.Seq, req.Command)}, nil
}

func (s *Session) onStepOut(req *godap.StepOutRequest) (godap.Message, error) {
	if err := s.stepWith(s.runtime.StepOut); err != nil {
		return nil, err
	}
	return &godap.StepOutResponse{Response: dap.NewResponse(req.Seq, req.Command)}, nil
}

func (s *Session) stepWith(step func() error) error {
	s.setState(StateRunning)
	return step()
}

func (s *Session) onDisconnect(req *godap.DisconnectRequest) (godap.Message, error) {
	s.log.Info("Client disconnected")
	s.setState(StateTerminated)
	return &godap.DisconnectResponse{Response: dap.NewResponse(req.Seq, req.Command)}, nil
}

func (s *Session) onGetInstructions(req *dap.GetInstructionsRequest) (godap.Message, error) {
	steps, err := s.runtime.InstructionSteps()
	if err != nil {
		return nil, err
	}

	resp := &dap.GetInstructionsResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	resp.Body.Instructions = make([]dap.Instruction, len(steps))
	for i, in := range steps {
		resp.Body.Instructions[i] = dap.Instruction{PC: in.PC, Op: in.Op, Argument: in.Argument}
	}
	return resp, nil
}

func (s *Session) onGetCurrentInstruction(req *dap.GetCurrentInstructionRequest) (godap.Message, error) {
	in, ok, err := s.runtime.CurrentInstructionStep()
	if err != nil {
		return nil, err
	}

	resp := &dap.GetCurrentInstructionResponse{Response: dap.NewResponse(req.Seq, req.Command)}
	if ok {
		resp.Body.Instruction = &dap.Instruction{PC: in.PC, Op: in.Op, Argument: in.Argument}
	}
	return resp, nil
}

func toBreakpoint(bp runtime.Breakpoint) godap.Breakpoint {
	out := godap.Breakpoint{
		Id:       bp.ID,
		Verified: bp.Verified,
		Line:     bp.Line,
	}
	if bp.Path != "" {
		out.Source = &godap.Source{Name: filepath.Base(bp.Path), Path: bp.Path}
	}
	return out
}
