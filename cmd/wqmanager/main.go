package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccl/workqueue/pkg/auth"
	"github.com/ccl/workqueue/pkg/dispatcher"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/metrics"
	"github.com/ccl/workqueue/pkg/mgrd"
	"github.com/ccl/workqueue/pkg/storage"
	"github.com/ccl/workqueue/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "wqmanager",
	Short:   "Work queue manager: accepts workers and dispatches tasks",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"wqmanager version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	startCmd.Flags().String("listen", ":9123", "Address to accept worker connections on")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics HTTP server")
	startCmd.Flags().String("category-mode", "max", "Default category resource mode (fixed, max, min_waste, max_throughput, greedy_bucketing, exhaustive_bucketing)")
	startCmd.Flags().String("algorithm", "files", "Default scheduling algorithm (files, fcfs, time, random)")
	startCmd.Flags().Int("retry-limit", 3, "Task retry limit before failing outright")
	startCmd.Flags().Duration("keepalive-interval", 15*time.Second, "How often to ping connected workers")
	startCmd.Flags().Duration("keepalive-expiry", 90*time.Second, "How long a worker may go silent before disconnect")
	startCmd.Flags().String("ticket-secret", "", "Shared secret for ticket auth (disables ticket auth if empty)")
	startCmd.Flags().String("db-path", "", "Directory holding the bbolt database for warm-start persistence (disabled if empty)")
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the manager, listening for worker connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		categoryMode, _ := cmd.Flags().GetString("category-mode")
		algorithm, _ := cmd.Flags().GetString("algorithm")
		retryLimit, _ := cmd.Flags().GetInt("retry-limit")
		keepaliveInterval, _ := cmd.Flags().GetDuration("keepalive-interval")
		keepaliveExpiry, _ := cmd.Flags().GetDuration("keepalive-expiry")
		ticketSecret, _ := cmd.Flags().GetString("ticket-secret")
		dbPath, _ := cmd.Flags().GetString("db-path")

		var store storage.Store
		if dbPath != "" {
			s, err := storage.NewBoltStore(dbPath)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer s.Close()
			store = s
		}

		mgr := dispatcher.New(dispatcher.Config{
			DefaultMode:     types.CategoryMode(categoryMode),
			DefaultAlgo:     types.ScheduleAlgorithm(algorithm),
			RetryLimit:      retryLimit,
			KeepaliveEvery:  keepaliveInterval,
			KeepaliveExpiry: keepaliveExpiry,
			Store:           store,
		})
		defer mgr.Close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("dispatcher", true, "")
		if store != nil {
			metrics.RegisterComponent("storage", true, "")
		}

		var chain *auth.Chain
		if ticketSecret != "" {
			chain = auth.NewChain(auth.TicketMethod("wqmanager", []byte(ticketSecret)))
		} else {
			chain = auth.NewChain(auth.AddressMethod())
		}

		srv := mgrd.New(mgr, mgrd.Config{
			AuthChain:         chain,
			KeepaliveInterval: keepaliveInterval,
		})

		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", listenAddr, err)
		}
		fmt.Printf("wqmanager listening on %s\n", listenAddr)

		stop := make(chan struct{})
		serveErr := make(chan error, 1)
		go func() {
			if err := srv.Run(ln, stop); err != nil {
				serveErr <- err
			}
		}()

		collector := metrics.NewCollector(mgr)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Warn(fmt.Sprintf("metrics server error: %v", err))
			}
		}()
		fmt.Printf("metrics endpoint: http://%s/metrics (also /health, /ready, /live)\n", metricsAddr)
		fmt.Println("wqmanager running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nshutting down...")
		case err := <-serveErr:
			fmt.Fprintf(os.Stderr, "\nserver error: %v\n", err)
		}

		close(stop)
		_ = ln.Close()
		fmt.Println("shutdown complete")
		return nil
	},
}
