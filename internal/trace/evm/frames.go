package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
	"github.com/holiman/uint256"
)

// frame is one EVM call frame seen while walking the struct logs.
type frame struct {
	code     common.Address
	storage  common.Address
	creation bool
	depth    int // EVM depth, 0 for the transaction frame

	prog *program // nil when the code is not one of the known contracts
}

// record is one struct log with the call stack it executed under.
type record struct {
	log   *logger.StructLogRes
	stack []*frame // outermost first
}

// callee returns the address operand of a call instruction. The stack is
// stored bottom first, so the operand below gas is second from the end.
func callee(log *logger.StructLogRes) (common.Address, bool) {
	return stackAddress(log, 1)
}

// stackAddress decodes the stack word n positions below the top as an address.
func stackAddress(log *logger.StructLogRes, n int) (common.Address, bool) {
	if log == nil || log.Stack == nil {
		return common.Address{}, false
	}
	stack := *log.Stack
	if len(stack) <= n {
		return common.Address{}, false
	}
	word := new(uint256.Int).SetBytes(common.FromHex(stack[len(stack)-1-n]))
	return common.Address(word.Bytes20()), true
}

// walkFrames attributes every struct log to its call frame. Frames entered
// by CREATE or CREATE2 learn their address when the creating frame resumes.
func walkFrames(logs []logger.StructLogRes, root *frame) []record {
	records := make([]record, 0, len(logs))
	stack := []*frame{root}
	var created *frame

	for i := range logs {
		log := &logs[i]
		evmDepth := log.Depth - 1

		for len(stack) > 1 && evmDepth < len(stack)-1 {
			created = nil
			popped := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if popped.creation {
				created = popped
			}
		}
		if created != nil {
			// the creating frame resumes with the new address on top
			if addr, ok := stackAddress(log, 0); ok && addr != (common.Address{}) {
				created.code = addr
				created.storage = addr
			}
			created = nil
		}

		snapshot := make([]*frame, len(stack))
		copy(snapshot, stack)
		records = append(records, record{log: log, stack: snapshot})

		if i+1 >= len(logs) || logs[i+1].Depth-1 <= evmDepth {
			continue
		}
		if next := enter(log, stack[len(stack)-1]); next != nil {
			next.depth = evmDepth + 1
			stack = append(stack, next)
		}
	}
	return records
}

// enter returns the frame a call instruction opens, or nil for other ops.
func enter(log *logger.StructLogRes, caller *frame) *frame {
	switch log.Op {
	case "CALL", "STATICCALL":
		addr, ok := callee(log)
		if !ok {
			return nil
		}
		return &frame{code: addr, storage: addr}
	case "DELEGATECALL", "CALLCODE":
		addr, ok := callee(log)
		if !ok {
			return nil
		}
		return &frame{code: addr, storage: caller.storage}
	case "CREATE", "CREATE2":
		return &frame{creation: true}
	default:
		return nil
	}
}
