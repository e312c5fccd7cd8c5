package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/funvibe/hotreload/internal/compiler"
	"github.com/funvibe/hotreload/internal/differ"
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/shape"
)

func newDiffCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old-dir> <new-dir>",
		Short: "Show how reloading new-dir over old-dir would change the program",
		Long: "Compile both directories and print the structural diff. Transitions that\n" +
			"a reload rejects while instances are live are reported as warnings.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(args[0])
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			ctx := cmd.Context()
			c := compiler.New(log)

			oldProg, err := compileDir(ctx, c, cfg.Root, args[0], nil)
			if err != nil {
				return err
			}
			newProg, err := compileDir(ctx, c, cfg.Root, args[1], oldProg)
			if err != nil {
				return err
			}
			res, err := differ.Diff(ctx, oldProg, newProg)
			if err != nil {
				return err
			}
			writeDiff(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func compileDir(ctx context.Context, c *compiler.Compiler, root, dir string, baseline *program.Program) (*program.Program, error) {
	sources, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	req := compiler.Request{Root: root, Sources: sources}
	if baseline != nil {
		req.Options = compiler.Options{Incremental: true, Baseline: baseline}
	}
	return c.Compile(ctx, req)
}

// liveEverywhere assumes every class has live instances and constants, so
// validation reports every transition a reload could reject.
type liveEverywhere struct{}

func (liveEverywhere) HasInstances(program.ClassKey) bool { return true }

func (liveEverywhere) HasConstants(program.ClassKey) bool { return true }

func writeDiff(w io.Writer, res *differ.Result) {
	if !res.Changed() {
		fmt.Fprintln(w, "no changes")
		return
	}
	for _, ld := range res.Libraries {
		if ld.Change == differ.Unchanged {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", mark(ld.Change), styleHeading(ld.URI))
		writeEntries(w, "  ", "function", ld.Functions)
		writeEntries(w, "  ", "variable", ld.Variables)
		writeEntries(w, "  ", "typedef", ld.Typedefs)
		writeEntries(w, "  ", "import", ld.Imports)
		writeEntries(w, "  ", "became", ld.Transitions)
		for _, cd := range ld.Classes {
			if cd.Change == differ.Unchanged {
				continue
			}
			line := fmt.Sprintf("  %s class %s", mark(cd.Change), cd.Key.Name)
			if cd.Change == differ.Modified && cd.Kinds != 0 {
				line += " (" + cd.Kinds.String() + ")"
			}
			fmt.Fprintln(w, line)
			writeEntries(w, "    ", "field", cd.Fields)
			writeEntries(w, "    ", "method", cd.Methods)
			writeEntries(w, "    ", "static", cd.Statics)
			writeEntries(w, "    ", "enum value", cd.EnumMembers)
		}
	}

	s := res.Stats()
	fmt.Fprintf(w, "\nlibraries: +%d -%d ~%d  classes: +%d -%d ~%d  shapes changed: %d\n",
		s.LibrariesAdded, s.LibrariesRemoved, s.LibrariesModified,
		s.ClassesAdded, s.ClassesRemoved, s.ClassesModified, s.ShapesChanged)

	if err := shape.Validate(res, liveEverywhere{}); err != nil {
		fmt.Fprintf(w, "%s %s\n", styleChanged("warning: with live instances this reload is rejected:"), err)
	}
}

func writeEntries(w io.Writer, indent, what string, entries []differ.Entry) {
	for _, e := range entries {
		if e.Change == differ.Unchanged {
			continue
		}
		line := indent + mark(e.Change) + " " + what + " " + e.Name
		if e.Detail != "" {
			line += ": " + e.Detail
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func mark(c differ.Change) string {
	switch c {
	case differ.Added:
		return styleAdded("+")
	case differ.Removed:
		return styleRemoved("-")
	case differ.Modified:
		return styleChanged("~")
	}
	return " "
}
