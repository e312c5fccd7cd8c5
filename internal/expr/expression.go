package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/funvibe/hotreload/internal/program"
)

// Expression is a compiled CEL expression.
type Expression struct {
	// Original is the expression as written in the library source.
	Original string
	// Program is the evaluable form bound to one environment.
	Program cel.Program
}

// Compile type-checks src against env and plans it for evaluation.
func Compile(env *cel.Env, e *program.Expr) (*Expression, error) {
	ast, iss := env.Compile(e.Source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("line %d: %w", e.Line, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", e.Line, err)
	}
	return &Expression{Original: e.Source, Program: prg}, nil
}

// Check type-checks src against env without planning it.
func Check(env *cel.Env, src string) error {
	_, iss := env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return iss.Err()
	}
	return nil
}
