// Command docache runs the storage layer of the bot on its own: schema
// migrations, ad hoc reads and writes through the cache, health checks, and a
// long-running mode that keeps the caches warm and exports metrics.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/docache/config"
	"github.com/unkn0wn-root/docache/filter"
	"github.com/unkn0wn-root/docache/internal/app"
	dlog "github.com/unkn0wn-root/docache/log"
	"github.com/unkn0wn-root/docache/manager"
	"github.com/unkn0wn-root/docache/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:          "docache",
		Short:        "Document store and cache-aside layer for the bot",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&rf.configPath, "config", "c", os.Getenv("DOCACHE_CONFIG"), "YAML config file")
	root.PersistentFlags().BoolVarP(&rf.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newMigrateCmd(rf),
		newFindCmd(rf),
		newInsertCmd(rf),
		newHealthCmd(rf),
		newServeCmd(rf),
	)
	return root
}

// open loads config, builds logging and assembles the app. The returned
// cleanup closes the app and flushes logs.
func open(ctx context.Context, rf *rootFlags) (*app.App, config.Config, func(), error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	if rf.verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	logs, err := app.NewLogging(cfg.Log, os.Stderr)
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	a, err := app.Open(ctx, cfg, logs.Logger, logs.Slog)
	if err != nil {
		_ = logs.Sync()
		return nil, config.Config{}, nil, err
	}
	cleanup := func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(cctx); err != nil {
			logs.Logger.Warn("shutdown", dlog.Fields{"err": err})
		}
		_ = logs.Sync()
	}
	return a, cfg, cleanup, nil
}

func requireStorage(a *app.App) error {
	if !a.Conn.IsConnected() {
		return fmt.Errorf("storage unavailable: %w", errors.Join(store.ErrNotConnected, a.Conn.Err()))
	}
	return nil
}

func newMigrateCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and run the migration pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, cleanup, err := open(cmd.Context(), rf)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := requireStorage(a); err != nil {
				return err
			}
			ok, total, err := a.Conn.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations: %d/%d statements applied\n", ok, total)
			return nil
		},
	}
}

func newFindCmd(rf *rootFlags) *cobra.Command {
	var (
		many  bool
		sort  string
		desc  bool
		ttl   time.Duration
		twice bool
	)
	cmd := &cobra.Command{
		Use:   "find <collection> [filter-json]",
		Short: "Read records through the cache",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f filter.Filter
			if len(args) == 2 {
				m, err := decodeObject(args[1])
				if err != nil {
					return fmt.Errorf("filter: %w", err)
				}
				f = filter.Filter(m)
			}
			a, _, cleanup, err := open(cmd.Context(), rf)
			if err != nil {
				return err
			}
			defer cleanup()

			coll := store.Collection(args[0])
			run := func() (any, error) {
				switch {
				case sort != "":
					dir := store.Asc
					if desc {
						dir = store.Desc
					}
					return a.Records.FindManySorted(cmd.Context(), coll, f, sort, dir, ttl)
				case many:
					return a.Records.FindMany(cmd.Context(), coll, f, ttl)
				default:
					return a.Records.FindOne(cmd.Context(), coll, f, ttl)
				}
			}
			out, err := run()
			if err != nil {
				return err
			}
			if twice {
				if out, err = run(); err != nil {
					return err
				}
				st := a.Records.Stats()
				fmt.Fprintf(cmd.ErrOrStderr(), "hits=%d misses=%d\n", st.Hits, st.Misses)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&many, "many", false, "return every match")
	cmd.Flags().StringVar(&sort, "sort", "", "sort field (implies --many)")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "cache ttl (0 = configured default)")
	cmd.Flags().BoolVar(&twice, "twice", false, "read twice and report cache stats")
	return cmd
}

func newInsertCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <collection> <document-json>",
		Short: "Insert a record and invalidate the collection's cached reads",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := decodeObject(args[1])
			if err != nil {
				return fmt.Errorf("document: %w", err)
			}
			a, _, cleanup, err := open(cmd.Context(), rf)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := requireStorage(a); err != nil {
				return err
			}
			id, err := a.Records.InsertOne(cmd.Context(), store.Collection(args[0]), doc)
			if id != "" {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return err
		},
	}
}

func newHealthCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report backend reachability and cache health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, cleanup, err := open(cmd.Context(), rf)
			if err != nil {
				return err
			}
			defer cleanup()
			h := a.Monitor.Health()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(h); err != nil {
				return err
			}
			if !h.Healthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	}
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Warm caches, log stats, run cleanup and serve /metrics until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cfg, cleanup, err := open(ctx, rf)
			if err != nil {
				return err
			}
			defer cleanup()

			if n, err := a.Monitor.WarmCaches(ctx); err != nil {
				a.Log.Warn("cache warm-up incomplete", dlog.Fields{"warmed": n, "err": err})
			}
			a.Monitor.StartStatsLogging(ctx, cfg.Manager.StatsInterval)
			a.Monitor.StartOptimization(ctx, cfg.Manager.CleanupInterval)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				manager.NewCollector(cfg.Metrics.Namespace, a.Monitor),
				collectors.NewGoCollector(),
			)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				h := a.Monitor.Health()
				if !h.Healthy {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
				_ = json.NewEncoder(w).Encode(h)
			})
			srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				a.Log.Info("metrics listening", dlog.Fields{"addr": cfg.Metrics.Addr})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return err
				}
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
}

// decodeObject parses a JSON object keeping integers as int64.
func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("expected a JSON object")
	}
	return store.NormalizeRecord(m), nil
}
