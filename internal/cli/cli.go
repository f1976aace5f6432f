// Package cli builds the draftsync command tree and wires the engine's
// components together from configuration.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ridelines/draftsync/internal/cache"
	"github.com/ridelines/draftsync/internal/config"
	"github.com/ridelines/draftsync/internal/conflict"
	"github.com/ridelines/draftsync/internal/connectivity"
	"github.com/ridelines/draftsync/internal/draft"
	"github.com/ridelines/draftsync/internal/localstore"
	"github.com/ridelines/draftsync/internal/lockmgr"
	"github.com/ridelines/draftsync/internal/logging"
	"github.com/ridelines/draftsync/internal/metrics"
	"github.com/ridelines/draftsync/internal/queue"
	"github.com/ridelines/draftsync/internal/retryx"
	"github.com/ridelines/draftsync/internal/store"
	"github.com/ridelines/draftsync/internal/store/memory"
	"github.com/ridelines/draftsync/internal/store/postgres"
	"github.com/ridelines/draftsync/internal/syncer"
	"github.com/ridelines/draftsync/internal/workflow"
)

type options struct {
	configFile  string
	dsn         string
	localDB     string
	metricsAddr string
	verbose     bool
}

// BuildCLI constructs the draftsync command tree.
func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "draftsync",
		Short:         "Transit schedule draft synchronization engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "postgres DSN for the remote store (empty: in-memory)")
	rootCmd.PersistentFlags().StringVar(&opts.localDB, "local-db", "", "sqlite file for the offline queue (empty: in-memory)")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "address for the /metrics endpoint, e.g. :9090")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		buildCreateCommand(opts),
		buildGetCommand(opts),
		buildListCommand(opts),
		buildRenameCommand(opts),
		buildDeleteCommand(opts),
		buildStatusCommand(opts),
		buildDrainCommand(opts),
		buildRunCommand(opts),
	)
	return rootCmd
}

// engine is a fully wired synchronizer plus the resources it owns.
type engine struct {
	sync     *syncer.Synchronizer
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	registry *prometheus.Registry
	logger   logging.Logger
	cfg      *config.Config

	closers []func() error
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Error(context.Background(), "close failed", "error", err)
		}
	}
}

// buildEngine resolves configuration and assembles the component graph.
func buildEngine(ctx context.Context, opts *options) (*engine, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	// flags override the file
	if opts.dsn != "" {
		cfg.RemoteDSN = opts.dsn
	}
	if opts.localDB != "" {
		cfg.LocalDBPath = opts.localDB
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	e := &engine{logger: logger, cfg: cfg}

	var remote store.DocumentStore
	if cfg.RemoteDSN != "" {
		pg, err := postgres.New(ctx, cfg.RemoteDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open remote store: %w", err)
		}
		e.closers = append(e.closers, pg.Close)
		remote = pg
	} else {
		remote = memory.New(nil)
	}

	var local localstore.KV
	if cfg.LocalDBPath != "" {
		kv, db, err := localstore.Open(ctx, cfg.LocalDBPath)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to open local storage: %w", err)
		}
		e.closers = append(e.closers, db.Close)
		local = kv
	} else {
		local = localstore.NewMemory()
	}

	q, err := queue.New(ctx, local, cfg.QueueCapacity, logger, nil)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.registry = prometheus.NewRegistry()
	collector := metrics.NewCollector(e.registry)

	e.queue = q
	e.sync = syncer.New(syncer.Deps{
		Store:           remote,
		Cache:           cache.New(cfg.CacheTTL, nil),
		Locks:           lockmgr.New(cfg.LockTimeout, nil),
		Queue:           q,
		Retrier:         retryx.New(cfg.BackoffBase, cfg.BackoffCap, logger),
		Resolver:        conflict.NewResolver(logger, nil),
		Tracker:         workflow.NewTracker(local, remote, logger, nil),
		Metrics:         collector,
		Logger:          logger,
		MaxSaveAttempts: cfg.MaxSaveAttempts,
		BackoffBase:     cfg.BackoffBase,
	})

	e.monitor = connectivity.New(remote, cfg.OnlineCheckInterval, logger)
	e.monitor.OnOnline(e.sync.OnOnline)

	return e, nil
}

func buildCreateCommand(opts *options) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Create a draft seeded from an uploaded schedule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			fileName := filepath.Base(args[0])
			name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
			original := draft.OriginalData{
				FileName: fileName,
				FileType: strings.TrimPrefix(filepath.Ext(fileName), "."),
			}

			d, outcome, err := e.sync.Create(cmd.Context(), name, owner, original)
			if err != nil {
				return err
			}

			if outcome.Queued {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (queued offline)\n", d.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s at version %d\n", d.ID, outcome.Version)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (empty: anonymous)")
	return cmd
}

func buildGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <draft-id>",
		Short: "Print a draft as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			d, err := e.sync.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func buildListCommand(opts *options) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			drafts, err := e.sync.List(cmd.Context(), owner)
			if err != nil {
				return err
			}

			for _, d := range drafts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tv%d\t%s\t%s\t%d%%\n",
					d.ID, d.Metadata.Version, d.Name, d.CurrentStep, d.Progress)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner id")
	return cmd
}

func buildRenameCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <draft-id> <name>",
		Short: "Rename a draft and its source file record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			outcome, err := e.sync.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed, version %d\n", outcome.Version)
			return nil
		},
	}
}

func buildDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <draft-id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.sync.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
}

func buildStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show offline queue contents and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			e.monitor.Probe(cmd.Context())
			if e.monitor.Online() {
				fmt.Fprintln(cmd.OutOrStdout(), "remote store: online")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "remote store: offline")
			}

			pending := e.queue.Pending()
			fmt.Fprintf(cmd.OutOrStdout(), "queued operations: %d\n", len(pending))
			for _, op := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\t%s/%s\tattempts=%d\tenqueued=%s\n",
					op.ID, op.Type, op.Collection, op.DocumentID, op.Attempts,
					op.EnqueuedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func buildDrainCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued offline saves against the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			applied, err := e.sync.DrainQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d, %d remaining\n", applied, e.queue.Depth())
			return nil
		},
	}
}

func buildRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine: watch connectivity, drain the queue, serve metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := buildEngine(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: e.cfg.MetricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						e.logger.Error(ctx, "metrics server failed", "error", err)
					}
				}()
				defer srv.Shutdown(context.Background())
				e.logger.Info(ctx, "metrics endpoint up", "addr", e.cfg.MetricsAddr)
			}

			// catch up anything queued from a previous session
			if _, err := e.sync.DrainQueue(ctx); err != nil {
				e.logger.Error(ctx, "initial queue drain failed", "error", err)
			}

			e.logger.Info(ctx, "sync engine running", "queued", e.queue.Depth())
			e.monitor.Run(ctx)
			return nil
		},
	}
}
