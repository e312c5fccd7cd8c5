package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/funvibe/hotreload/internal/config"
)

var (
	styleHeading = color.New(color.FgBlue, color.Bold).SprintFunc()
	styleError   = color.New(color.FgRed).SprintFunc()
	styleAdded   = color.New(color.FgGreen).SprintFunc()
	styleRemoved = color.New(color.FgRed).SprintFunc()
	styleChanged = color.New(color.FgYellow).SprintFunc()
	styleValue   = color.New(color.FgCyan).SprintFunc()
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	root       string
	journal    string
	verbosity  int
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "hotreload",
		Short:         "Run reloadable programs and swap in new code while they run",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setColor()
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to "+config.ConfigFileName+" (searched upwards from the source directory by default)")
	cmd.PersistentFlags().StringVar(&g.root, "root", "", "URI of the root library (overrides the config file)")
	cmd.PersistentFlags().StringVar(&g.journal, "journal", "", "Path of the SQLite reload journal (overrides the config file)")
	cmd.PersistentFlags().CountVarP(&g.verbosity, "verbose", "v", "Increase log verbosity (-v traces reload phases)")

	cobra.AddTemplateFunc("StyleHeading", styleHeading)
	cmd.SetUsageTemplate(strings.NewReplacer(
		`Usage:`, `{{StyleHeading "Usage:"}}`,
		`Available Commands:`, `{{StyleHeading "Available Commands:"}}`,
		`Flags:`, `{{StyleHeading "Options:"}}`,
		`Global Flags:`, `{{StyleHeading "Global Options:"}}`,
	).Replace(cmd.UsageTemplate()))

	cmd.AddCommand(
		newRunCommand(g),
		newDiffCommand(g),
		newReplCommand(g),
		newHistoryCommand(g),
	)
	return cmd
}

// setColor disables color when NO_COLOR is set or stdout is not a terminal.
func setColor() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		color.NoColor = true
		return
	}
	fd := os.Stdout.Fd()
	color.NoColor = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// newLogger builds a console logger on stderr. Verbosity n enables
// logr V(n) messages.
func newLogger(verbosity int) logr.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	if !color.NoColor {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(zapcore.Level(-verbosity)),
	)
	return zapr.NewLogger(zap.New(core))
}

// loadConfig resolves the configuration for a source directory: the
// --config file, a hotreload.yaml found upwards from dir, or defaults.
// Flags override what the file says.
func (g *globals) loadConfig(dir string) (*config.Config, error) {
	path := g.configPath
	if path == "" {
		start := dir
		if start == "" {
			start = "."
		}
		found, err := config.FindConfig(start)
		if err != nil {
			return nil, err
		}
		path = found
	}

	var cfg *config.Config
	if path != "" {
		c, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = &config.Config{Root: "main", Entry: "main"}
	}
	if dir != "" {
		cfg.Sources = dir
	}
	if cfg.Sources == "" {
		return nil, fmt.Errorf("no source directory given and no %s found", config.ConfigFileName)
	}
	if g.root != "" {
		cfg.Root = g.root
	}
	if g.journal != "" {
		cfg.Journal = g.journal
	}
	if g.verbosity > cfg.LogLevel {
		cfg.LogLevel = g.verbosity
	}
	return cfg, nil
}
