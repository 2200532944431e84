package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	godap "github.com/google/go-dap"
	"github.com/tidwall/gjson"
)

// ResponseError is returned when the adapter answers with success=false.
type ResponseError struct {
	Command string
	Message string
}

// Error implements error.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// Client drives a debug adapter. Requests may be issued concurrently;
// event handlers run on the receive goroutine in arrival order.
type Client struct {
	transport Transport
	seq       atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	inflight map[int]chan reply
	handlers map[string]func(json.RawMessage)
	onAny    func(name string, body json.RawMessage)
	err      error
}

// reply is the outcome of one request: a response or the receive error
// that ended the client.
type reply struct {
	resp response
	err  error
}

type request struct {
	godap.Request
	Arguments any `json:"arguments,omitempty"`
}

type response struct {
	godap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

type event struct {
	godap.Event
	Body json.RawMessage `json:"body,omitempty"`
}

// NewClient creates a client and starts reading from transport.
func NewClient(transport Transport) *Client {
	c := &Client{
		transport: transport,
		closed:    make(chan struct{}),
		inflight:  make(map[int]chan reply),
		handlers:  make(map[string]func(json.RawMessage)),
	}
	go c.receiveLoop()
	return c
}

// Close closes the client and its transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.transport.Close()
}

// Error returns the error that stopped the receive loop, if any.
func (c *Client) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) receiveLoop() {
	for {
		msg, err := c.transport.Receive()
		if c.isClosed() {
			return
		}
		if err != nil {
			c.fail(err)
			return
		}

		switch gjson.GetBytes(msg.Content, "type").String() {
		case "response":
			c.deliver(msg.Content)
		case "event":
			c.dispatch(msg.Content)
		}
	}
}

// fail records err and releases every waiting request with it.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for seq, ch := range c.inflight {
		ch <- reply{err: err}
		delete(c.inflight, seq)
	}
}

func (c *Client) deliver(content []byte) {
	var resp response
	if json.Unmarshal(content, &resp) != nil {
		return
	}
	if ch, ok := c.take(resp.RequestSeq); ok {
		ch <- reply{resp: resp}
	}
}

func (c *Client) take(seq int) (chan reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.inflight[seq]
	delete(c.inflight, seq)
	return ch, ok
}

func (c *Client) dispatch(content []byte) {
	var evt event
	if json.Unmarshal(content, &evt) != nil {
		return
	}
	name := evt.Event.Event

	c.mu.Lock()
	h, all := c.handlers[name], c.onAny
	c.mu.Unlock()

	if h != nil {
		h(evt.Body)
	}
	if all != nil {
		all(name, evt.Body)
	}
}

// call sends command and decodes the response body into out when out is
// not nil.
func (c *Client) call(ctx context.Context, command string, args, out any) error {
	seq := int(c.seq.Add(1))
	content, err := json.Marshal(request{
		Request: godap.Request{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         command,
		},
		Arguments: args,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.inflight[seq] = ch
	c.mu.Unlock()

	if err := c.transport.Send(&Message{Content: content}); err != nil {
		c.take(seq)
		return fmt.Errorf("send %s: %w", command, err)
	}

	var r reply
	select {
	case <-ctx.Done():
		c.take(seq)
		return ctx.Err()
	case r = <-ch:
	}
	switch {
	case r.err != nil:
		return r.err
	case !r.resp.Success:
		return &ResponseError{Command: command, Message: r.resp.Message}
	case out != nil && len(r.resp.Body) > 0:
		if err := json.Unmarshal(r.resp.Body, out); err != nil {
			return fmt.Errorf("unmarshal %s response: %w", command, err)
		}
	}
	return nil
}

// on registers the handler for event name, replacing any earlier one.
func (c *Client) on(name string, h func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[name] = h
	c.mu.Unlock()
}

// onBody registers a handler receiving the decoded body of event name.
// Bodies that do not decode are dropped.
func onBody[T any](c *Client, name string, handler func(T)) {
	c.on(name, func(raw json.RawMessage) {
		var body T
		if json.Unmarshal(raw, &body) == nil {
			handler(body)
		}
	})
}

// OnInitialized sets the handler for the initialized event.
func (c *Client) OnInitialized(handler func()) {
	c.on("initialized", func(json.RawMessage) { handler() })
}

// OnLaunched sets the handler for the launched event.
func (c *Client) OnLaunched(handler func()) {
	c.on(EventLaunched, func(json.RawMessage) { handler() })
}

// OnStopped sets the handler for the stopped event.
func (c *Client) OnStopped(handler func(godap.StoppedEventBody)) {
	onBody(c, "stopped", handler)
}

// OnTerminated sets the handler for the terminated event.
func (c *Client) OnTerminated(handler func()) {
	c.on("terminated", func(json.RawMessage) { handler() })
}

// OnBreakpoint sets the handler for the breakpoint event.
func (c *Client) OnBreakpoint(handler func(godap.BreakpointEventBody)) {
	onBody(c, "breakpoint", handler)
}

// OnOutput sets the handler for the output event.
func (c *Client) OnOutput(handler func(godap.OutputEventBody)) {
	onBody(c, "output", handler)
}

// OnAnyEvent sets a handler called for every event after the specific one.
func (c *Client) OnAnyEvent(handler func(name string, body json.RawMessage)) {
	c.mu.Lock()
	c.onAny = handler
	c.mu.Unlock()
}

// Initialize sends the initialize request.
func (c *Client) Initialize(ctx context.Context, args godap.InitializeRequestArguments) (*godap.Capabilities, error) {
	var caps godap.Capabilities
	if err := c.call(ctx, "initialize", args, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// Launch sends the launch request.
func (c *Client) Launch(ctx context.Context, args LaunchArguments) error {
	return c.call(ctx, "launch", args, nil)
}

// ConfigurationDone sends the configurationDone request.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	return c.call(ctx, "configurationDone", nil, nil)
}

// SetBreakpoints sends the setBreakpoints request.
func (c *Client) SetBreakpoints(ctx context.Context, path string, lines ...int) ([]godap.Breakpoint, error) {
	args := godap.SetBreakpointsArguments{Source: godap.Source{Path: path}}
	for _, l := range lines {
		args.Breakpoints = append(args.Breakpoints, godap.SourceBreakpoint{Line: l})
	}
	var body godap.SetBreakpointsResponseBody
	if err := c.call(ctx, "setBreakpoints", args, &body); err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// SetExceptionBreakpoints sends the setExceptionBreakpoints request.
func (c *Client) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	return c.call(ctx, "setExceptionBreakpoints", godap.SetExceptionBreakpointsArguments{Filters: filters}, nil)
}

// Threads sends the threads request.
func (c *Client) Threads(ctx context.Context) ([]godap.Thread, error) {
	var body godap.ThreadsResponseBody
	if err := c.call(ctx, "threads", nil, &body); err != nil {
		return nil, err
	}
	return body.Threads, nil
}

// StackTrace sends the stackTrace request for the main thread.
func (c *Client) StackTrace(ctx context.Context) (*godap.StackTraceResponseBody, error) {
	var body godap.StackTraceResponseBody
	if err := c.call(ctx, "stackTrace", godap.StackTraceArguments{ThreadId: ThreadID}, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Scopes sends the scopes request.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]godap.Scope, error) {
	var body godap.ScopesResponseBody
	if err := c.call(ctx, "scopes", godap.ScopesArguments{FrameId: frameID}, &body); err != nil {
		return nil, err
	}
	return body.Scopes, nil
}

// Variables sends the variables request.
func (c *Client) Variables(ctx context.Context, ref int) ([]godap.Variable, error) {
	var body godap.VariablesResponseBody
	if err := c.call(ctx, "variables", godap.VariablesArguments{VariablesReference: ref}, &body); err != nil {
		return nil, err
	}
	return body.Variables, nil
}

// Evaluate sends the evaluate request.
func (c *Client) Evaluate(ctx context.Context, expression string) (*godap.EvaluateResponseBody, error) {
	var body godap.EvaluateResponseBody
	args := godap.EvaluateArguments{Expression: expression, Context: "repl"}
	if err := c.call(ctx, "evaluate", args, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Continue sends the continue request.
func (c *Client) Continue(ctx context.Context) error {
	return c.call(ctx, "continue", godap.ContinueArguments{ThreadId: ThreadID}, nil)
}

// Next sends the next request.
func (c *Client) Next(ctx context.Context) error {
	return c.call(ctx, "next", godap.NextArguments{ThreadId: ThreadID}, nil)
}

// StepIn sends the stepIn request.
func (c *Client) StepIn(ctx context.Context) error {
	return c.call(ctx, "stepIn", godap.StepInArguments{ThreadId: ThreadID}, nil)
}

// StepOut sends the stepOut request.
func (c *Client) StepOut(ctx context.Context) error {
	return c.call(ctx, "stepOut", godap.StepOutArguments{ThreadId: ThreadID}, nil)
}

// Disconnect sends the disconnect request.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.call(ctx, "disconnect", godap.DisconnectArguments{}, nil)
}

// GetInstructions sends the getInstructions request.
func (c *Client) GetInstructions(ctx context.Context) ([]Instruction, error) {
	var body GetInstructionsResponseBody
	if err := c.call(ctx, CommandGetInstructions, nil, &body); err != nil {
		return nil, err
	}
	return body.Instructions, nil
}

// GetCurrentInstruction sends the getCurrentInstruction request.
func (c *Client) GetCurrentInstruction(ctx context.Context) (*Instruction, error) {
	var body GetCurrentInstructionResponseBody
	if err := c.call(ctx, CommandGetCurrentInstruction, nil, &body); err != nil {
		return nil, err
	}
	return body.Instruction, nil
}

// Raw sends an arbitrary command and returns the raw response body.
func (c *Client) Raw(ctx context.Context, command string, args any) (json.RawMessage, error) {
	var body json.RawMessage
	if err := c.call(ctx, command, args, &body); err != nil {
		return nil, err
	}
	return body, nil
}
