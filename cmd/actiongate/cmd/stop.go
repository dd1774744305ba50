package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running actiongate server",
	Long: `Stop the server recorded in ~/.actiongate/server.pid.

The server gets --timeout to finish in-flight plans before it is killed.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for a graceful exit")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no PID file at %s; is the server running?", pidPath)
	}
	if !processAlive(pid) {
		_ = os.Remove(pidPath)
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Stopping actiongate (PID %d)...\n", pid)
	if err := requestStop(pid); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		if !processAlive(pid) {
			_ = os.Remove(pidPath)
			fmt.Fprintln(out, "Stopped.")
			return nil
		}
	}

	fmt.Fprintln(out, "Server did not exit in time, killing it.")
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
	_ = os.Remove(pidPath)
	return nil
}
