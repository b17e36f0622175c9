package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ragkb/internal/mcp"
	"github.com/Aman-CERP/ragkb/internal/telemetry"
)

var errServeDone = errors.New("mcp session ended")

type serveOptions struct {
	transport   string
	org         string
	metricsAddr string
	watchDir    string
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge base to agents over MCP",
		Long: `Start an MCP server on stdio exposing query, ask and document tools,
plus a resource per document.

stdout carries the protocol, so logs go to the data directory only.

Examples:
  ragkb serve --org acme
  ragkb serve --metrics-addr :9464 --watch ./docs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), g, appOptions{stdio: true}, func(a *app) error {
				return runServe(cmd, a, opts)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.transport, "transport", "stdio", "Transport (stdio)")
	f.StringVar(&opts.org, "org", "", "Organization used when a tool call names none")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default from config)")
	f.StringVar(&opts.watchDir, "watch", "", "Also mirror this directory while serving")
	return cmd
}

func runServe(cmd *cobra.Command, a *app, opts serveOptions) error {
	ctx := cmd.Context()

	server, err := mcp.NewServer(a.engine, a.manager, mcp.Options{OrganizationID: opts.org})
	if err != nil {
		return err
	}
	if err := server.RegisterDocumentResources(ctx); err != nil {
		slog.Warn("document_resources_unavailable", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)

	addr := opts.metricsAddr
	if addr == "" {
		addr = a.cfg.Server.MetricsAddr
	}
	if addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, a.metrics)
		})
	}

	if opts.watchDir != "" {
		syncer, w, err := newSync(a, opts.watchDir, watchOptions{org: opts.org})
		if err != nil {
			return err
		}
		g.Go(func() error {
			if _, err := syncer.InitialSync(gctx); err != nil {
				return err
			}
			return runWatch(gctx, syncer, w)
		})
	}

	g.Go(func() error {
		if err := server.Serve(gctx, opts.transport); err != nil {
			return err
		}
		// The client went away; stop the metrics and watch loops too.
		return errServeDone
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errServeDone) {
		return nil
	}
	return err
}

// serveMetrics exposes the Prometheus registry until ctx ends.
func serveMetrics(ctx context.Context, addr string, m *telemetry.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	slog.Info("metrics_listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
