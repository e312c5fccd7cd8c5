package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/funvibe/hotreload/internal/config"
	hotreload "github.com/funvibe/hotreload/pkg/embed"
)

const (
	replPrompt  = "hotreload> "
	historyFile = ".hotreload_history"
)

const replHelp = `Commands:
  invoke <library> <function> [args...]  call a top-level function
  eval <library> <expression>            evaluate an expression
  reload [dir]                           reload from dir (default: the source directory)
  libraries                              list libraries and their debuggable flag
  debuggable <library> [on|off]          show or set a library's debuggable flag
  history [n]                            show the last n journaled reloads
  heap                                   show heap usage
  snapshot <file>                        write the current program's sources to file
  help                                   show this help
  quit                                   leave the repl
`

func newReplCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "repl [dir]",
		Short: "Load the libraries in dir and call into them interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(firstArg(args))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			rt, err := hotreload.FromConfig(ctx, cfg, hotreload.WithLogger(newLogger(cfg.LogLevel)), hotreload.WithStdout(out))
			if err != nil {
				return err
			}
			defer rt.Close()

			s := &session{rt: rt, cfg: cfg, out: out}
			return s.loop(ctx)
		},
	}
}

// session is one interactive repl over a loaded runtime.
type session struct {
	rt  *hotreload.Runtime
	cfg *config.Config
	out io.Writer
}

func (s *session) loop(ctx context.Context) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Fprintf(s.out, "loaded %s from %s; type help for commands\n", s.cfg.Root, s.cfg.Sources)
	for {
		line, err := ln.Prompt(replPrompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		quit, err := s.exec(ctx, line)
		if err != nil {
			fmt.Fprintln(s.out, styleError(err.Error()))
		}
		if quit {
			return nil
		}
	}
}

// exec runs one repl command.
func (s *session) exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "quit", "exit":
		return true, nil

	case "help":
		fmt.Fprint(s.out, replHelp)

	case "invoke":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: invoke <library> <function> [args...]")
		}
		vals := make([]any, len(args)-2)
		for i, a := range args[2:] {
			if vals[i], err = parseArg(a); err != nil {
				return false, err
			}
		}
		v, err := s.rt.Invoke(args[0], args[1], vals...)
		if err != nil {
			return false, err
		}
		return false, s.print(v)

	case "eval":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: eval <library> <expression>")
		}
		v, err := s.rt.Eval(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return false, err
		}
		return false, s.print(v)

	case "reload":
		dir := s.cfg.Sources
		if len(args) > 0 {
			dir = args[0]
		}
		res, err := s.rt.ReloadDir(ctx, dir)
		if err != nil {
			return false, err
		}
		printResult(s.out, res)

	case "libraries":
		for _, l := range s.rt.Libraries() {
			fmt.Fprintf(s.out, "%3d  %-24s debuggable=%t\n", l.ID, l.URI, l.Debuggable)
		}

	case "debuggable":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: debuggable <library> [on|off]")
		}
		id, ok := s.rt.LibraryID(args[0])
		if !ok {
			return false, fmt.Errorf("unknown library %q", args[0])
		}
		if len(args) > 1 {
			on, err := parseSwitch(args[1])
			if err != nil {
				return false, err
			}
			if err := s.rt.SetLibraryDebuggable(id, on); err != nil {
				return false, err
			}
		}
		on, err := s.rt.IsLibraryDebuggable(id)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%s debuggable=%t\n", args[0], on)

	case "history":
		limit := 10
		if len(args) > 0 {
			if limit, err = strconv.Atoi(args[0]); err != nil {
				return false, fmt.Errorf("history: %w", err)
			}
		}
		entries, err := s.rt.History(ctx, limit)
		if err != nil {
			return false, err
		}
		writeHistory(s.out, entries)

	case "heap":
		st := s.rt.HeapStats()
		limit := "unlimited"
		if st.Limit > 0 {
			limit = strconv.Itoa(st.Limit)
		}
		fmt.Fprintf(s.out, "objects=%d used=%d limit=%s\n", st.Objects, st.Used, limit)

	case "snapshot":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: snapshot <file>")
		}
		data, err := s.rt.Snapshot()
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "wrote %d bytes to %s\n", len(data), args[0])

	default:
		return false, fmt.Errorf("unknown command %q (type help)", cmd)
	}
	return false, nil
}

func (s *session) print(v any) error {
	str, err := s.rt.Str(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, styleValue(str))
	return nil
}

// parseArg reads a repl argument as a YAML scalar, so 1 is an int, 1.5 a
// double, true a bool and anything else a string.
func parseArg(s string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("argument %q: %w", s, err)
	}
	return v, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
