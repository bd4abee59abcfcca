// newswire — financial news ingestion pipeline
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openwire/newswire/api"
	"github.com/openwire/newswire/internal/config"
	"github.com/openwire/newswire/internal/feed"
	"github.com/openwire/newswire/internal/scheduler"
	"github.com/openwire/newswire/internal/store"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "newswire",
	Short: "newswire — financial news ingestion pipeline",
	Long: `newswire polls a configured set of financial news feeds, normalizes
and deduplicates what they return, and archives it in a relational store.
It serves the archive and per-run ingestion summaries over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("newswire %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion scheduler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sessions := feed.NewSessionManager()
		defer sessions.Close()

		sched, err := scheduler.New(cfg, st, sessions)
		if err != nil {
			return err
		}

		srv := api.NewServer(cfg, st, sched.History(), version)
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("newswire %s serving on %s, sources: %v\n", version, addr, sched.Sources())

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sched.Run(ctx) })
		g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
		return g.Wait()
	},
}

// --- Fetch Command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch [source]",
	Short: "Run one fetch cycle for a source, or for all sources",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sessions := feed.NewSessionManager()
		defer sessions.Close()

		sched, err := scheduler.New(cfg, st, sessions)
		if err != nil {
			return err
		}

		names := sched.Sources()
		if len(args) == 1 {
			names = args
		}
		for _, name := range names {
			sum, err := sched.RunSource(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s status=%-8s fetched=%d after_dedup=%d saved=%d duplicate=%d error=%d\n",
				sum.Source, sum.Status, sum.Fetched, sum.AfterDedup, sum.Saved, sum.Duplicate, sum.Error)
		}
		return nil
	},
}

// --- Migrate Command ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		st, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Printf("schema ready (%s)\n", cfg.Database.Driver)
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and archive counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  newswire — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:    %s (%s)\n", version, commit)
		fmt.Printf("  Database:   %s\n", cfg.Database.Driver)
		fmt.Printf("  API Server: %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  Sources:")
		for _, s := range cfg.Sources {
			state := "disabled"
			if s.Enabled {
				state = fmt.Sprintf("every %s", s.Cadence)
			}
			fmt.Printf("    %-10s kind=%-7s %s\n", s.Name, s.Kind, state)
		}
		fmt.Println()

		st, err := store.Open(ctx, cfg.Database)
		if err != nil {
			fmt.Printf("  Archive:    unavailable (%v)\n", err)
			fmt.Println("═══════════════════════════════════════")
			return nil
		}
		defer st.Close()

		total, err := st.Count(ctx, "")
		if err != nil {
			fmt.Printf("  Archive:    unavailable (%v)\n", err)
		} else {
			fmt.Printf("  Archive:    %d records\n", total)
			for _, s := range cfg.Sources {
				if n, err := st.Count(ctx, s.Name); err == nil {
					fmt.Printf("    %-10s %d\n", s.Name, n)
				}
			}
		}
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
