package fixture

import (
	"encoding/json"

	"github.com/dshills/evmdebug/internal/trace"
)

// Addresses used by Counter.
const (
	CounterAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	CounterPath    = "/work/contracts/Counter.sol"
	MathLibPath    = "/work/contracts/MathLib.sol"
)

// Counter returns a small recorded trace of Counter.increment(), which calls
// into the MathLib library at line 6. It is the trace behind replay --demo:
//
//	step  source       line  depth
//	0     Counter.sol  5     0
//	1     Counter.sol  6     0
//	2     MathLib.sol  3     1
//	3     MathLib.sol  4     1
//	4     Counter.sol  7     0
//	5     Counter.sol  8     0
func Counter() *Trace {
	counter := Frame{Address: CounterAddress, StorageAddress: CounterAddress}
	lib := Frame{ContractName: "MathLib"}

	vars := func(count string, extra map[string]any) map[string]any {
		v := map[string]any{
			"contract": map[string]any{"name": "Counter", "address": CounterAddress},
			"storage":  map[string]any{"count": json.Number(count)},
		}
		for k, x := range extra {
			v[k] = x
		}
		return v
	}

	return &Trace{
		TxHash: "0xabc",
		Sources: []SourceFile{
			{ID: 0, Path: CounterPath},
			{ID: 1, Path: MathLibPath},
		},
		Contracts: []Contract{
			{Name: "Counter", SourcePath: CounterPath, Address: CounterAddress},
			{Name: "MathLib", SourcePath: MathLibPath},
		},
		Instructions: []trace.Instruction{
			{PC: 0, Op: "PUSH1", Argument: "0x80"},
			{PC: 2, Op: "PUSH1", Argument: "0x40"},
			{PC: 4, Op: "MSTORE"},
			{PC: 5, Op: "CALLVALUE"},
			{PC: 6, Op: "DUP1"},
			{PC: 7, Op: "SLOAD"},
		},
		Steps: []Step{
			{SourceID: 0, Line: 5, Column: 5, PC: 0, CallStack: []Frame{counter}, Variables: vars("1", nil)},
			{SourceID: 0, Line: 6, Column: 9, PC: 2, CallStack: []Frame{counter}, Variables: vars("1", nil)},
			{SourceID: 1, Line: 3, Column: 9, Depth: 1, PC: 4, CallStack: []Frame{counter, lib},
				Variables: vars("1", map[string]any{"args": map[string]any{"a": json.Number("1"), "b": json.Number("1")}})},
			{SourceID: 1, Line: 4, Column: 9, Depth: 1, PC: 5, CallStack: []Frame{counter, lib}, Variables: vars("1", nil)},
			{SourceID: 0, Line: 7, Column: 9, PC: 6, CallStack: []Frame{counter}, Variables: vars("2", nil)},
			{SourceID: 0, Line: 8, Column: 5, PC: 7, CallStack: []Frame{counter}, Variables: vars("2", nil)},
		},
	}
}
