package dap

import (
	"encoding/json"
	"fmt"

	godap "github.com/google/go-dap"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Custom commands and events.
const (
	CommandGetInstructions       = "getInstructions"
	CommandGetCurrentInstruction = "getCurrentInstruction"

	EventLaunched = "launched"
)

// ThreadID is the only thread a transaction debugger reports.
const ThreadID = 1

// LaunchArguments are the arguments of the launch request.
type LaunchArguments struct {
	TxHash           string   `json:"txHash"`
	WorkingDirectory string   `json:"workingDirectory"`
	ProviderURL      string   `json:"providerUrl,omitempty"`
	Files            []string `json:"files,omitempty"`
	StopOnEntry      *bool    `json:"stopOnEntry,omitempty"`
	Trace            bool     `json:"trace,omitempty"`
}

// LaunchedEvent is sent once a transaction is attached, before any stop.
type LaunchedEvent struct {
	godap.Event
}

// Instruction is one disassembled instruction.
type Instruction struct {
	PC       uint64 `json:"pc"`
	Op       string `json:"op"`
	Argument string `json:"argument,omitempty"`
}

// GetInstructionsRequest asks for the instructions of the executing code.
type GetInstructionsRequest struct {
	godap.Request
}

// GetInstructionsResponseBody lists instructions in pc order.
type GetInstructionsResponseBody struct {
	Instructions []Instruction `json:"instructions"`
}

// GetInstructionsResponse answers GetInstructionsRequest.
type GetInstructionsResponse struct {
	godap.Response
	Body GetInstructionsResponseBody `json:"body"`
}

// GetCurrentInstructionRequest asks for the instruction at the current step.
type GetCurrentInstructionRequest struct {
	godap.Request
}

// GetCurrentInstructionResponseBody holds the current instruction, nil when
// the current pc is not a known instruction.
type GetCurrentInstructionResponseBody struct {
	Instruction *Instruction `json:"instruction"`
}

// GetCurrentInstructionResponse answers GetCurrentInstructionRequest.
type GetCurrentInstructionResponse struct {
	godap.Response
	Body GetCurrentInstructionResponseBody `json:"body"`
}

// DecodeError reports a frame that could not be decoded. For requests Seq
// and Command identify what to answer.
type DecodeError struct {
	Seq     int
	Type    string
	Command string
	Err     error
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("decode %s %q: %v", e.Type, e.Command, e.Err)
	}
	return fmt.Sprintf("decode message: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRequest reports whether the failed frame was a request that expects an
// answer.
func (e *DecodeError) IsRequest() bool {
	return e.Type == "request" && e.Seq > 0
}

// Decode decodes a frame into a go-dap message or one of the custom requests.
func Decode(content []byte) (godap.Message, error) {
	head := gjson.GetManyBytes(content, "seq", "type", "command")
	seq, typ, command := int(head[0].Int()), head[1].String(), head[2].String()

	if typ == "request" {
		switch command {
		case CommandGetInstructions:
			req := &GetInstructionsRequest{}
			if err := json.Unmarshal(content, req); err != nil {
				return nil, &DecodeError{Seq: seq, Type: typ, Command: command, Err: err}
			}
			return req, nil
		case CommandGetCurrentInstruction:
			req := &GetCurrentInstructionRequest{}
			if err := json.Unmarshal(content, req); err != nil {
				return nil, &DecodeError{Seq: seq, Type: typ, Command: command, Err: err}
			}
			return req, nil
		}
	}

	msg, err := godap.DecodeProtocolMessage(content)
	if err != nil {
		return nil, &DecodeError{Seq: seq, Type: typ, Command: command, Err: err}
	}
	return msg, nil
}

// Encode marshals msg and stamps it with seq.
func Encode(msg any, seq int) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return sjson.SetBytes(data, "seq", seq)
}

// NewResponse returns a successful response to the request requestSeq.
func NewResponse(requestSeq int, command string) godap.Response {
	return godap.Response{
		ProtocolMessage: godap.ProtocolMessage{Type: "response"},
		Command:         command,
		RequestSeq:      requestSeq,
		Success:         true,
	}
}

// NewErrorResponse returns a failed response carrying message.
func NewErrorResponse(requestSeq int, command, message string) *godap.ErrorResponse {
	resp := &godap.ErrorResponse{Response: NewResponse(requestSeq, command)}
	resp.Success = false
	resp.Message = message
	resp.Body.Error = &godap.ErrorMessage{Id: 1, Format: message, ShowUser: true}
	return resp
}

// NewEvent returns an event header.
func NewEvent(event string) godap.Event {
	return godap.Event{
		ProtocolMessage: godap.ProtocolMessage{Type: "event"},
		Event:           event,
	}
}

// NewLaunchedEvent returns the launched event.
func NewLaunchedEvent() *LaunchedEvent {
	return &LaunchedEvent{Event: NewEvent(EventLaunched)}
}
