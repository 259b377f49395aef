// dctbridge connects one DCT camera recorder to the Gray Logic message bus.
//
// It keeps a WebSocket session to the recorder, translates MQTT commands
// and HTTP actions into device commands, and publishes the buffer state,
// the variable projection and bridge health.
//
// Commands:
//
//	dctbridge [run] [--config path]   run the bridge until SIGINT/SIGTERM
//	dctbridge send --host h <command> send one raw command to a recorder
//	dctbridge version                 print build information
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/dct.yaml"

// configEnv overrides the default configuration path.
const configEnv = "DCT_CONFIG"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root without a
// subcommand runs the bridge.
func newRootCmd() *cobra.Command {
	var configPath string

	runBridge := func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), getConfigPath(configPath))
	}

	root := &cobra.Command{
		Use:           "dctbridge",
		Short:         "Bridge a DCT camera recorder to MQTT and HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBridge,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"configuration file (default $"+configEnv+" or "+defaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runBridge,
		},
		newSendCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "dctbridge %s (commit %s, built %s)\n", version, commit, date)
}

// getConfigPath returns the configuration file path.
// An explicit flag wins over the DCT_CONFIG environment variable, which
// wins over the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
