package trace

// Step is one recorded execution step as seen by a Cursor.
type Step struct {
	Location Location
	// Depth is the logical call depth: external calls plus internal function
	// jumps.
	Depth int
	// Fault is the error text when the step's instruction failed.
	Fault string
}

type lineKey struct {
	source int
	line   int
}

func keyOf(loc Location) lineKey {
	return lineKey{source: loc.SourceID, line: loc.Line}
}

// Cursor walks a recorded list of steps at source-line granularity. Engines
// record their trace into steps and delegate stepping and breakpoints to it.
type Cursor struct {
	steps       []Step
	pos         int
	done        bool
	breakpoints map[lineKey]bool
}

// NewCursor positions a cursor on the first step mapped to source. When no
// step is mapped, the cursor starts on the first step.
func NewCursor(steps []Step) *Cursor {
	c := &Cursor{
		steps:       steps,
		breakpoints: make(map[lineKey]bool),
	}
	if len(steps) == 0 {
		c.done = true
		return c
	}
	for i, s := range steps {
		if s.Location.Mapped() {
			c.pos = i
			break
		}
	}
	return c
}

// Len returns the number of steps.
func (c *Cursor) Len() int { return len(c.steps) }

// Pos returns the index of the current step.
func (c *Cursor) Pos() int { return c.pos }

// Finished reports whether the cursor ran past the last step.
func (c *Cursor) Finished() bool { return c.done }

// Current returns the current step.
func (c *Cursor) Current() (Step, bool) {
	if len(c.steps) == 0 {
		return Step{}, false
	}
	return c.steps[c.pos], true
}

// Location returns the location of the current step, or of the closest
// mapped step before it when the current one is unmapped.
func (c *Cursor) Location() Location {
	for i := c.pos; i >= 0 && i < len(c.steps); i-- {
		if c.steps[i].Location.Mapped() {
			return c.steps[i].Location
		}
	}
	return Location{}
}

// AddBreakpoint registers a breakpoint line.
func (c *Cursor) AddBreakpoint(bp Breakpoint) {
	c.breakpoints[lineKey{source: bp.SourceID, line: bp.Line}] = true
}

// ClearBreakpoints removes all breakpoints.
func (c *Cursor) ClearBreakpoints() {
	c.breakpoints = make(map[lineKey]bool)
}

// StepInto moves to the next step on a different source line, entering calls.
func (c *Cursor) StepInto() {
	cur := keyOf(c.Location())
	c.advance(func(s Step) bool {
		return keyOf(s.Location) != cur
	})
}

// StepNext moves to the next step on a different source line at the same or a
// shallower depth.
func (c *Cursor) StepNext() {
	cur := keyOf(c.Location())
	depth := c.depth()
	c.advance(func(s Step) bool {
		return s.Depth <= depth && keyOf(s.Location) != cur
	})
}

// StepOut moves to the next mapped step at a shallower depth.
func (c *Cursor) StepOut() {
	depth := c.depth()
	c.advance(func(s Step) bool {
		return s.Depth < depth
	})
}

// Continue runs until a breakpoint line is entered or a step faults.
func (c *Cursor) Continue() Halt {
	if c.done {
		return Halt{Reason: HaltEnd}
	}
	prev := keyOf(c.Location())
	for i := c.pos + 1; i < len(c.steps); i++ {
		s := c.steps[i]
		if s.Fault != "" {
			c.pos = i
			return Halt{Reason: HaltFault, Fault: s.Fault}
		}
		if !s.Location.Mapped() {
			continue
		}
		k := keyOf(s.Location)
		if k != prev && c.breakpoints[k] {
			c.pos = i
			return Halt{
				Reason:     HaltBreakpoint,
				Breakpoint: Breakpoint{SourceID: k.source, Line: k.line},
			}
		}
		prev = k
	}
	c.finish()
	return Halt{Reason: HaltEnd}
}

func (c *Cursor) depth() int {
	if len(c.steps) == 0 {
		return 0
	}
	return c.steps[c.pos].Depth
}

// advance moves to the next mapped step accepted by match, or past the end.
func (c *Cursor) advance(match func(Step) bool) {
	if c.done {
		return
	}
	for i := c.pos + 1; i < len(c.steps); i++ {
		s := c.steps[i]
		if s.Location.Mapped() && match(s) {
			c.pos = i
			return
		}
	}
	c.finish()
}

func (c *Cursor) finish() {
	c.done = true
	if len(c.steps) > 0 {
		c.pos = len(c.steps) - 1
	}
}
