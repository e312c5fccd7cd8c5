// Package pipeline runs a fixed sequence of stages over a shared context
// value.
package pipeline

import (
	"context"
	"fmt"
)

// Processor is one stage of a pipeline.
type Processor[C any] interface {
	Name() string
	Process(ctx context.Context, c C) error
}

type stage[C any] struct {
	name string
	fn   func(context.Context, C) error
}

func (s stage[C]) Name() string { return s.name }

func (s stage[C]) Process(ctx context.Context, c C) error { return s.fn(ctx, c) }

// Stage adapts a function to a Processor.
func Stage[C any](name string, fn func(context.Context, C) error) Processor[C] {
	return stage[C]{name: name, fn: fn}
}

// StageError reports which stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline represents a sequence of processing stages.
type Pipeline[C any] struct {
	processors []Processor[C]
	onStage    func(name string)
}

func New[C any](processors ...Processor[C]) *Pipeline[C] {
	return &Pipeline[C]{processors: processors}
}

// OnStage registers fn to be called before each stage runs.
func (p *Pipeline[C]) OnStage(fn func(name string)) *Pipeline[C] {
	p.onStage = fn
	return p
}

// Stages returns the stage names in order.
func (p *Pipeline[C]) Stages() []string {
	out := make([]string, len(p.processors))
	for i, proc := range p.processors {
		out[i] = proc.Name()
	}
	return out
}

// Run executes the pipeline. Unlike a diagnostics pass it stops at the
// first failing stage; the error is a *StageError.
func (p *Pipeline[C]) Run(ctx context.Context, c C) error {
	for _, proc := range p.processors {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: proc.Name(), Err: err}
		}
		if p.onStage != nil {
			p.onStage(proc.Name())
		}
		if err := proc.Process(ctx, c); err != nil {
			return &StageError{Stage: proc.Name(), Err: err}
		}
	}
	return nil
}
