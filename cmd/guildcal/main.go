package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gitea.jw6.us/james/guildcal/internal/config"
	httpserver "gitea.jw6.us/james/guildcal/internal/http"
	"gitea.jw6.us/james/guildcal/internal/ical"
	"gitea.jw6.us/james/guildcal/internal/log"
	"gitea.jw6.us/james/guildcal/internal/metrics"
	"gitea.jw6.us/james/guildcal/internal/reconcile"
	"gitea.jw6.us/james/guildcal/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "guildcal",
		Short: "Mirror a guild's scheduled events into linked Google calendars",
		Long: `guildcal keeps a guild's scheduled events, a Postgres mirror of them
and every linked member's Google Calendar in step. Runs are triggered
externally, either with "guildcal sync" or POST /sync on "guildcal serve".`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional YAML config file")

	rootCmd.AddCommand(
		versionCmd(),
		syncCmd(),
		pushCmd(),
		retractCmd(),
		exportCmd(),
		migrateCmd(),
		serveCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("guildcal %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func syncCmd() *cobra.Command {
	var strict, full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.reconciler.Run
			if full {
				run = a.reconciler.Backfill
			}
			report, runErr := run(cmd.Context())
			if err := metrics.Push(context.WithoutCancel(cmd.Context()), a.cfg.PushgatewayURL, "guildcal_sync"); err != nil {
				log.Error("push metrics", err)
			}
			if runErr != nil {
				return runErr
			}
			printReport(report)
			if strict && report.Failed() {
				return fmt.Errorf("%d operations failed", len(report.Failures))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any operation failed")
	cmd.Flags().BoolVar(&full, "full", false, "upsert every current event into every linked calendar instead of applying the diff")
	return cmd
}

func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <event-id>",
		Short: "Project one event now, or retract it if it has finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return single(cmd, func(ctx context.Context, r *reconcile.Reconciler) (*reconcile.Report, error) {
				return r.Project(ctx, args[0])
			})
		},
	}
}

func retractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retract <event-id>",
		Short: "Remove one event from the mirror and every linked calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return single(cmd, func(ctx context.Context, r *reconcile.Reconciler) (*reconcile.Report, error) {
				return r.Retract(ctx, args[0])
			})
		},
	}
}

func single(cmd *cobra.Command, fn func(context.Context, *reconcile.Reconciler) (*reconcile.Report, error)) error {
	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := fn(cmd.Context(), a.reconciler)
	if err != nil {
		return err
	}
	printReport(report)
	if report.Failed() {
		return fmt.Errorf("%d operations failed", len(report.Failures))
	}
	return nil
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the mirrored events as an iCalendar feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.store.Events.ReadSnapshot(cmd.Context())
			if err != nil {
				return err
			}

			w := os.Stdout
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return ical.Export(w, snap, ical.Options{
				Name:     "Guild events",
				TimeZone: a.cfg.Timezone,
				Stamp:    time.Now(),
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log.SetLevel(log.ParseLevel(cfg.LogLevel))

			st, err := store.Open(cmd.Context(), cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			applied, err := st.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				log.Info("schema up to date")
				return nil
			}
			log.Info("applied migrations", "names", applied)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and the sync trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:        a.cfg.ListenAddr,
				Handler:     httpserver.NewRouter(a.cfg, a.store, a.reconciler),
				ReadTimeout: 15 * time.Second,
				// Sync runs answer only once every operation has settled.
				WriteTimeout: 10 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("server listening", "addr", a.cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func printReport(r *reconcile.Report) {
	fmt.Printf("run %s: removed=%d updated=%d added=%d users=%d failures=%d\n",
		r.RunID, r.Removed, r.Updated, r.Added, r.Users, len(r.Failures))
	for _, f := range r.Failures {
		fmt.Printf("  %s\n", f.Error())
	}
}
