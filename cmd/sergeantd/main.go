// Command sergeantd runs the coordination kernel as a single self-contained
// binary: embedded SQLite store, in-process event buses, the task/agent/
// memory services, the audit logger, an optional persona launcher bridging
// subprocesses over an embedded NATS server, and an HTTP+JSON exposure of
// internal/opsurface. Structured the way the teacher's cmd/cliairmonitor
// wires its pieces together, replacing flag-based config with cobra
// (grounded on cuemby-warren/cmd/warren/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coopforge/sergeant/internal/logging"
)

var (
	// Version information, set via ldflags during build.
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
	Use:   "sergeantd",
	Short: "sergeantd coordinates multi-agent work queues",
	Long: `sergeantd is a multi-agent coordination server. External coding
agents connect over a tool-invocation protocol and cooperatively drain a
shared work queue; sergeantd owns the queue, the agent registry, a small
persistent key/value memory, and the event bus that couples them.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sergeantd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sergeantd version %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}
