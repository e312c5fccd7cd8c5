package continuity

import (
	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/heap"
)

// Frame is one activation. It runs Code until it returns, whatever the
// reloads in between.
type Frame struct {
	Code     *Code
	Receiver *heap.Object
	Locals   map[string]any
	// Step is the index of the statement being executed.
	Step int
	// Deoptimized is set when Code lost its specialisations while the frame
	// was running. The interpreter then drops whatever it cached for the
	// frame; computed locals are kept.
	Deoptimized bool
}

func NewFrame(code *Code, receiver *heap.Object) *Frame {
	return &Frame{Code: code, Receiver: receiver, Locals: map[string]any{}}
}

// Local returns a local variable or parameter.
func (f *Frame) Local(name string) (any, bool) {
	v, ok := f.Locals[name]
	return v, ok
}

// Stack is the call stack of one thread.
type Stack struct {
	frames []*Frame
	max    int
}

// NewStack creates a stack bounded by max frames, config.MaxFrameCount when
// max is not positive.
func NewStack(max int) *Stack {
	if max <= 0 {
		max = config.MaxFrameCount
	}
	return &Stack{max: max}
}

// Push adds a frame, failing with a stack overflow past the bound.
func (s *Stack) Push(f *Frame) error {
	if len(s.frames) >= s.max {
		return diagnostics.Overflow()
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *Stack) Pop() *Frame {
	n := len(s.frames)
	if n == 0 {
		return nil
	}
	f := s.frames[n-1]
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
	return f
}

// Top returns the innermost frame or nil.
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *Stack) Depth() int { return len(s.frames) }

// Frames returns the frames outermost first.
func (s *Stack) Frames() []*Frame {
	return append([]*Frame(nil), s.frames...)
}

// Deoptimize flags every frame running invalid code and returns how many
// were flagged.
func (s *Stack) Deoptimize() int {
	n := 0
	for _, f := range s.frames {
		if !f.Deoptimized && !f.Code.Valid() {
			f.Deoptimized = true
			n++
		}
	}
	return n
}
