package fixture

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/dshills/evmdebug/internal/trace"
)

// Record steps s into every source line until the trace ends or maxSteps
// stops were captured, and returns the stops as a recorded trace document.
// The session is left at the end of the trace. A maxSteps of 0 means no limit.
func Record(s trace.Session, txHash string, maxSteps int) ([]byte, error) {
	doc := []byte(`{}`)
	var err error

	if doc, err = sjson.SetBytes(doc, "txHash", txHash); err != nil {
		return nil, err
	}

	sources := s.Sources()
	if doc, err = setJSON(doc, "sources", recordSources(sources)); err != nil {
		return nil, err
	}
	if doc, err = setJSON(doc, "contracts", recordContracts(s.Contracts())); err != nil {
		return nil, err
	}
	if ins := s.Instructions(); len(ins) > 0 {
		if doc, err = setJSON(doc, "instructions", ins); err != nil {
			return nil, err
		}
	}
	if doc, err = sjson.SetRawBytes(doc, "steps", []byte(`[]`)); err != nil {
		return nil, err
	}

	for n := 0; !s.Finished() && (maxSteps <= 0 || n < maxSteps); n++ {
		step, err := captureStep(s)
		if err != nil {
			return nil, fmt.Errorf("capture step %d: %w", n, err)
		}
		// "-1" appends to the array
		if doc, err = setJSON(doc, "steps.-1", step); err != nil {
			return nil, err
		}
		s.StepInto()
	}
	return doc, nil
}

func captureStep(s trace.Session) (Step, error) {
	loc := s.CurrentLocation()
	cur := s.CurrentStep()
	stack := s.CallStack()

	vars, err := s.Variables()
	if err != nil {
		return Step{}, err
	}

	step := Step{
		SourceID:  loc.SourceID,
		Line:      loc.Line,
		Column:    loc.Column,
		Depth:     cur.Depth,
		Fault:     cur.Fault,
		Variables: vars,
	}
	if in, ok := s.CurrentInstruction(); ok {
		step.PC = in.PC
	}
	for _, f := range stack {
		step.CallStack = append(step.CallStack, Frame{
			Address:        f.Address,
			StorageAddress: f.StorageAddress,
			ContractName:   f.ContractName,
			PC:             f.PC,
		})
	}
	return step, nil
}

func recordSources(sources []trace.Source) []SourceFile {
	out := make([]SourceFile, len(sources))
	for i, src := range sources {
		out[i] = SourceFile{ID: src.ID, Path: src.Path}
	}
	return out
}

func recordContracts(contracts []trace.ContractInfo) []Contract {
	out := make([]Contract, len(contracts))
	for i, c := range contracts {
		out[i] = Contract{Name: c.Name, SourcePath: c.SourcePath, Address: c.Address}
	}
	return out
}

func setJSON(doc []byte, path string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	return sjson.SetRawBytes(doc, path, raw)
}
