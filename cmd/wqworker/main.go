package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccl/workqueue/pkg/auth"
	"github.com/ccl/workqueue/pkg/log"
	"github.com/ccl/workqueue/pkg/workerd"
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
	Use:     "wqworker",
	Short:   "Work queue worker: executes tasks dispatched by a manager",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"wqworker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	hostname, _ := os.Hostname()
	startCmd.Flags().String("name", hostname, "Worker name announced to the manager")
	startCmd.Flags().String("manager", "127.0.0.1:9123", "Manager address to connect to")
	startCmd.Flags().String("work-dir", "", "Directory for the worker's cache and sandboxes (required)")
	startCmd.Flags().Int64("cores", int64(runtime.NumCPU()), "Cores to advertise to the manager")
	startCmd.Flags().Int64("memory-mb", 0, "Memory (MB) to advertise to the manager")
	startCmd.Flags().Int64("disk-mb", 0, "Disk (MB) to advertise to the manager")
	startCmd.Flags().Int64("gpus", 0, "GPUs to advertise to the manager")
	startCmd.Flags().String("ticket-secret", "", "Shared secret for ticket auth (disables ticket auth if empty)")
	startCmd.Flags().Duration("keepalive-interval", 30*time.Second, "Expected ping interval from the manager")
	_ = startCmd.MarkFlagRequired("work-dir")
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Connect to a manager and serve tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		managerAddr, _ := cmd.Flags().GetString("manager")
		workDir, _ := cmd.Flags().GetString("work-dir")
		cores, _ := cmd.Flags().GetInt64("cores")
		memoryMB, _ := cmd.Flags().GetInt64("memory-mb")
		diskMB, _ := cmd.Flags().GetInt64("disk-mb")
		gpus, _ := cmd.Flags().GetInt64("gpus")
		ticketSecret, _ := cmd.Flags().GetString("ticket-secret")
		keepaliveInterval, _ := cmd.Flags().GetDuration("keepalive-interval")

		var chain *auth.Chain
		if ticketSecret != "" {
			chain = auth.NewChain(auth.TicketMethod("wqworker", []byte(ticketSecret)))
		} else {
			chain = auth.NewChain(auth.AddressMethod())
		}

		d, err := workerd.New(workerd.Config{
			Name:              name,
			ManagerAddr:       managerAddr,
			WorkDir:           workDir,
			Cores:             cores,
			MemoryMB:          memoryMB,
			DiskMB:            diskMB,
			GPUs:              gpus,
			AuthChain:         chain,
			KeepaliveInterval: keepaliveInterval,
		})
		if err != nil {
			return fmt.Errorf("create worker daemon: %w", err)
		}
		defer d.Close()

		stop := make(chan struct{})
		runErr := make(chan error, 1)
		go func() { runErr <- d.Run(stop) }()

		fmt.Printf("wqworker %q connecting to %s\n", name, managerAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nshutting down...")
			close(stop)
			<-runErr
		case err := <-runErr:
			if err != nil {
				return fmt.Errorf("worker exited: %w", err)
			}
		}
		fmt.Println("shutdown complete")
		return nil
	},
}
