package compiler

import (
	"context"
	"sort"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/errgroup"

	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/expr"
	"github.com/funvibe/hotreload/internal/program"
)

// checkExpressions type-checks every expression of the fresh libraries
// against the identifiers of the whole program. Libraries are checked
// concurrently.
func checkExpressions(ctx context.Context, p *program.Program, fresh map[string]bool) error {
	env, err := expr.NewEnvironment(p.Names())
	if err != nil {
		return diagnostics.Compile(p.Root, 0, "building expression environment: %v", err)
	}

	var uris []string
	for uri := range fresh {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	errs := make([]error, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range uris {
		i, uri := i, uri
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			errs[i] = checkLibrary(env, p.Library(uri))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return firstDiagnostic(err)
	}
	// Report the first failing library in URI order so diagnostics are
	// deterministic.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func checkLibrary(env *cel.Env, l *program.Library) error {
	check := func(e *program.Expr) error {
		if e == nil {
			return nil
		}
		if err := expr.Check(env, e.Source); err != nil {
			return diagnostics.Compile(l.URI, e.Line, "%v", err)
		}
		return nil
	}
	checkFunction := func(f *program.Function) error {
		for _, st := range f.Body {
			if err := check(st.Target); err != nil {
				return err
			}
			if err := check(st.Value); err != nil {
				return err
			}
		}
		return nil
	}

	for _, v := range l.Variables {
		if err := check(v.Init); err != nil {
			return err
		}
	}
	for _, f := range l.Functions {
		if err := checkFunction(f); err != nil {
			return err
		}
	}
	for _, c := range l.Classes {
		for _, f := range c.Fields {
			if err := check(f.Init); err != nil {
				return err
			}
		}
		for _, s := range c.Statics {
			if err := check(s.Init); err != nil {
				return err
			}
		}
		for _, m := range c.Methods {
			if err := checkFunction(m); err != nil {
				return err
			}
		}
	}
	return nil
}
