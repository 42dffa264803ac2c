// Package main is the entry point for the scriptdbg debug adapter.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/dshills/scriptdbg/internal/config"
	"github.com/dshills/scriptdbg/internal/debug"
	"github.com/dshills/scriptdbg/internal/logflags"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type listenOptions struct {
	configPath  string
	dialect     string
	host        string
	port        int
	log         string
	metricsAddr string

	// override re-applies the command line flags, also after a reload.
	override func(*config.Config)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scriptdbg",
		Short:         "Debug adapter for DBGp and GRLD script engines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newListenCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scriptdbg %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}

func newListenCmd() *cobra.Command {
	var opts listenOptions
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for an engine and drive it from a line console",
		Example: `  scriptdbg listen --dialect dbgp --port 9003
  scriptdbg listen -c scriptdbg.toml --log session,adapter`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.override = flagOverride(cmd, opts)
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML or YAML configuration file")
	f.StringVar(&opts.dialect, "dialect", "", "Engine protocol (dbgp or grld)")
	f.StringVar(&opts.host, "host", "", "Address to listen on")
	f.IntVarP(&opts.port, "port", "p", config.DefaultPort, "Port to listen on")
	f.StringVar(&opts.log, "log", "", "Log layers to enable (wire,session,adapter or all)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// loadConfig layers the command line flags over the file and environment.
func loadConfig(opts listenOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	opts.override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func flagOverride(cmd *cobra.Command, opts listenOptions) func(*config.Config) {
	f := cmd.Flags()
	dialect, host, port, log := f.Changed("dialect"), f.Changed("host"), f.Changed("port"), f.Changed("log")
	return func(cfg *config.Config) {
		if dialect {
			cfg.Dialect = opts.dialect
		}
		if host {
			cfg.Host = opts.host
		}
		if port {
			cfg.Port = opts.port
		}
		if log {
			cfg.LogLevel = opts.log
		}
	}
}

func runListen(ctx context.Context, cfg *config.Config, opts listenOptions, in io.Reader, out io.Writer) error {
	if err := logflags.Setup(cfg.LogLevel, os.Stderr); err != nil {
		return err
	}

	adapter, err := debug.New(cfg)
	if err != nil {
		return err
	}
	defer adapter.Close()

	if opts.configPath != "" {
		w, err := config.Watch(opts.configPath, func(c *config.Config) {
			opts.override(c)
			if err := logflags.Setup(c.LogLevel, os.Stderr); err != nil {
				fmt.Fprintf(os.Stderr, "config: %v\n", err)
			}
			if err := adapter.UpdateConfig(c); err != nil {
				fmt.Fprintf(os.Stderr, "config: %v\n", err)
			}
		}, config.WithErrorHandler(func(err error) {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}))
		if err != nil {
			return err
		}
		defer w.Close()
	}

	if err := adapter.Start(); err != nil {
		return err
	}

	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	c := newConsole(adapter, out, interactive)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.printEvents(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.run(ctx, readLines(ctx, in))
	})
	if opts.metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, opts.metricsAddr)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLines feeds stdin lines to the console. The reader goroutine is
// left blocked on stdin at exit.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		s := newScanner(in)
		for s.Scan() {
			select {
			case lines <- s.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
