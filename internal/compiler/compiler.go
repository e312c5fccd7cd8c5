package compiler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/program"
)

// ModifiedFunc reports whether the library at uri changed after since.
type ModifiedFunc func(uri string, since time.Time) bool

// Options control incremental compilation.
type Options struct {
	// Incremental compiles against Baseline: libraries that are neither
	// modified nor affected by a modified library are reused as-is.
	Incremental bool
	Baseline    *program.Program
	// Since is passed to IsModified; it is usually the baseline compile time.
	Since time.Time
	// IsModified is the modification oracle. When nil, a library counts as
	// modified when its source hash differs from the baseline.
	IsModified ModifiedFunc
}

// Request is one compilation of a whole program.
type Request struct {
	Root    string
	Sources map[string][]byte
	Options Options
}

// Compiler turns library sources into a Program.
type Compiler struct {
	log logr.Logger
}

func New(log logr.Logger) *Compiler {
	return &Compiler{log: log.WithName("compiler")}
}

// Compile builds a Program or returns a *diagnostics.Diagnostic.
func (c *Compiler) Compile(ctx context.Context, req Request) (*program.Program, error) {
	if req.Root == "" {
		return nil, diagnostics.Compile("", 0, "no root library")
	}
	if _, ok := req.Sources[req.Root]; !ok {
		return nil, diagnostics.Compile(req.Root, 0, "root library not found")
	}

	reuse := c.reusable(req)

	uris := make([]string, 0, len(req.Sources))
	for uri := range req.Sources {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	libs := make([]*program.Library, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range uris {
		i, uri := i, uri
		if l, ok := reuse[uri]; ok {
			libs[i] = l
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l, err := parseLibrary(uri, req.Sources[uri])
			if err != nil {
				return err
			}
			libs[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, firstDiagnostic(err)
	}

	fresh := map[string]bool{}
	for _, l := range libs {
		if _, ok := reuse[l.URI]; !ok {
			fresh[l.URI] = true
		}
	}

	p := program.New(req.Root, libs)
	if err := resolve(p, fresh); err != nil {
		return nil, err
	}
	if err := checkExpressions(ctx, p, fresh); err != nil {
		return nil, err
	}

	p.CompiledAt = time.Now()
	if b := req.Options.Baseline; b != nil {
		p.Generation = b.Generation + 1
	} else {
		p.Generation = 1
	}
	c.log.V(1).Info("compiled", "root", req.Root, "libraries", len(libs), "reused", len(reuse), "generation", p.Generation)
	return p, nil
}

// reusable returns the baseline libraries that need no recompilation.
// Modification propagates to every library that imports or exports a
// modified library, transitively.
func (c *Compiler) reusable(req Request) map[string]*program.Library {
	out := map[string]*program.Library{}
	base := req.Options.Baseline
	if !req.Options.Incremental || base == nil {
		return out
	}

	modified := map[string]bool{}
	for uri, src := range req.Sources {
		old := base.Library(uri)
		switch {
		case old == nil:
			modified[uri] = true
		case req.Options.IsModified != nil:
			modified[uri] = req.Options.IsModified(uri, req.Options.Since)
		default:
			modified[uri] = old.Hash != Hash(src)
		}
	}
	for _, l := range base.Libraries() {
		if l.URI == config.CoreLibraryURI {
			continue
		}
		if _, still := req.Sources[l.URI]; !still {
			modified[l.URI] = true
		}
	}

	for uri := range Propagate(base.Dependents(), modified) {
		modified[uri] = true
	}

	for uri := range req.Sources {
		if !modified[uri] {
			out[uri] = base.Library(uri)
		}
	}
	return out
}

// Propagate returns every library reachable from a modified library through
// the dependents graph.
func Propagate(dependents map[string][]string, modified map[string]bool) map[string]bool {
	out := map[string]bool{}
	var queue []string
	for uri, m := range modified {
		if m {
			queue = append(queue, uri)
		}
	}
	for len(queue) > 0 {
		uri := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[uri] {
			if !out[dep] && !modified[dep] {
				out[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return out
}

func parseLibrary(uri string, src []byte) (*program.Library, error) {
	var s sourceLibrary
	if err := yaml.Unmarshal(src, &s); err != nil {
		return nil, diagnostics.Compile(uri, yamlLine(err), "%s", yamlMessage(err))
	}
	if s.Library != "" && s.Library != uri {
		return nil, diagnostics.Compile(uri, 1, "library declares URI %q", s.Library)
	}
	l, err := buildLibrary(uri, &s)
	if err != nil {
		return nil, err
	}
	l.Source = src
	l.Hash = Hash(src)
	return l, nil
}

func firstDiagnostic(err error) error {
	var d *diagnostics.Diagnostic
	if errors.As(err, &d) {
		return d
	}
	return diagnostics.Compile("", 0, "%v", err)
}

// yamlLine extracts "line N" from a yaml.v3 error message.
func yamlLine(err error) int {
	var te *yaml.TypeError
	msg := err.Error()
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg = te.Errors[0]
	}
	i := strings.Index(msg, "line ")
	if i < 0 {
		return 0
	}
	n := 0
	for _, r := range msg[i+5:] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func yamlMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "yaml: ")
}
