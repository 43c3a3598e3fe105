package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbindex/internal/mcp"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
)

type serveOptions struct {
	transport string
	root      string
	watch     bool
	noMetrics bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Serve the knowledge base over the Model Context Protocol.

Tools: search_documents (TF-IDF), search_passages (semantic) and
index_status. Every indexed file is also exposed as a file:// resource,
and kbindex://metrics reports query counts kept in the tenant's
telemetry.db.

stdout carries the protocol; logs go to server.log_file
(default ~/.kbindex/logs/kbindex.log).`,
		Example: `  kbindex serve
  kbindex --tenant acme/alice serve --root ~/handbook --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport (default: server.transport)")
	cmd.Flags().StringVar(&opts.root, "root", "", "Directory document paths are relative to (default: working directory)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep the index in sync with --root while serving")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "Do not record query metrics")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	sess, err := openSession(opts.root, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	transport := opts.transport
	if transport == "" {
		transport = sess.cfg.Server.Transport
	}

	srv, err := mcp.NewServer(sess.indexer, sess.tenant, sess.cfg, sess.root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	if !opts.noMetrics {
		metrics, err := openMetrics(sess)
		if err != nil {
			slog.Warn("query_metrics_unavailable", slog.String("error", err.Error()))
		} else {
			defer func() { _ = metrics.Close() }()
			srv.SetMetrics(metrics)
		}
	}
	if err := srv.RegisterResources(ctx); err != nil {
		slog.Warn("mcp_resources_unavailable", slog.String("error", err.Error()))
	}

	if opts.watch {
		ctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := watchLoop(ctx, sess, false, nil); err != nil {
				slog.Error("serve_watch_failed", slog.String("error", err.Error()))
			}
		}()
		// the watcher must stop writing before the databases close
		defer func() {
			cancel()
			<-done
		}()
		return srv.Serve(ctx, transport)
	}

	return srv.Serve(ctx, transport)
}

// openMetrics opens the tenant's telemetry database next to its indexes.
func openMetrics(sess *session) (*telemetry.QueryMetrics, error) {
	lexicalPath, _ := sess.registry.Paths(sess.tenant)
	store, err := telemetry.OpenSQLiteStore(filepath.Join(filepath.Dir(lexicalPath), telemetry.FileName))
	if err != nil {
		return nil, err
	}
	cfg := telemetry.DefaultConfig()
	cfg.Tenant = sess.tenant.String()
	cfg.Lang = sess.cfg.Lexical.Lang
	return telemetry.New(store, cfg), nil
}
