package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/funvibe/hotreload/internal/compiler"
	"github.com/funvibe/hotreload/internal/config"
	hotreload "github.com/funvibe/hotreload/pkg/embed"
)

func newRunCommand(g *globals) *cobra.Command {
	var (
		entry       string
		watch       time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run [dir]",
		Short: "Load the libraries in dir and call the entry function",
		Long: "Load the libraries in dir and call the entry function of the root library.\n" +
			"With --watch the directory is polled and every change is reloaded into\n" +
			"the running program before the entry function is called again.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(firstArg(args))
			if err != nil {
				return err
			}
			if entry != "" {
				cfg.Entry = entry
			}
			if metricsAddr != "" {
				cfg.Metrics = true
			}
			log := newLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			rt, err := hotreload.FromConfig(ctx, cfg, hotreload.WithLogger(log), hotreload.WithStdout(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			defer rt.Close()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error(err, "metrics server stopped")
					}
				}()
				defer srv.Close()
			}

			if watch <= 0 {
				return runEntry(cmd.OutOrStdout(), rt, cfg)
			}
			return watchLoop(ctx, log, cmd.OutOrStdout(), rt, cfg, watch)
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "", "Entry function of the root library (default from config, else main)")
	cmd.Flags().DurationVar(&watch, "watch", 0, "Poll the source directory at this interval and reload on change")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runEntry(w io.Writer, rt *hotreload.Runtime, cfg *config.Config) error {
	v, err := rt.Invoke(cfg.Root, cfg.Entry)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	s, err := rt.Str(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, styleValue(s))
	return nil
}

// watchLoop runs the entry function, then reloads and reruns it whenever
// a source file changes, until ctx is done.
func watchLoop(ctx context.Context, log logr.Logger, w io.Writer, rt *hotreload.Runtime, cfg *config.Config, every time.Duration) error {
	if err := runEntry(w, rt, cfg); err != nil {
		log.Error(err, "entry function failed", "entry", cfg.Entry)
	}
	last, err := fingerprint(cfg.Sources)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sources, err := compiler.LoadDir(cfg.Sources)
		if err != nil {
			log.Error(err, "reading sources")
			continue
		}
		current := hashes(sources)
		if maps.Equal(current, last) {
			continue
		}
		last = current

		res := rt.Reload(ctx, sources)
		printResult(w, res)
		if !res.Success {
			continue
		}
		if err := runEntry(w, rt, cfg); err != nil {
			log.Error(err, "entry function failed", "entry", cfg.Entry)
		}
	}
}

func fingerprint(dir string) (map[string]string, error) {
	sources, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return hashes(sources), nil
}

func hashes(sources map[string][]byte) map[string]string {
	out := make(map[string]string, len(sources))
	for uri, src := range sources {
		out[uri] = compiler.Hash(src)
	}
	return out
}

// printResult writes a one-line summary of a reload.
func printResult(w io.Writer, res hotreload.Result) {
	if res.Success {
		s := res.Stats
		fmt.Fprintf(w, "%s %s in %s: %d libraries changed, %d classes migrated, %d objects migrated\n",
			styleAdded("reloaded"), res.TxnID, res.Duration.Round(time.Microsecond),
			s.Diff.LibrariesAdded+s.Diff.LibrariesRemoved+s.Diff.LibrariesModified,
			s.ClassesMigrated, s.ObjectsMigrated)
		return
	}
	msg := "unknown error"
	if d := res.Diagnostic(); d != nil {
		msg = fmt.Sprintf("[%s] %s", d.Kind, d.Error())
	}
	fmt.Fprintf(w, "%s during %s: %s\n", styleError("reload rejected"), res.Phase, msg)
}
