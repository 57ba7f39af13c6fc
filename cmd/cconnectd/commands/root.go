// Package commands implements the cconnectd CLI: the start command that
// runs the daemon, and diagnostic subcommands that talk to a running
// daemon's loopback RPC port.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cconnectd",
	Short: "cconnect - peer-to-peer device connect daemon",
	Long: `cconnectd discovers nearby devices on the LAN, pairs with them over
mutually-authenticated TLS, and exchanges pings, notifications, clipboard
content, files, and synced folders with KDE-Connect-compatible peers.

Use "cconnectd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cconnect/config.yaml)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(listDevicesCmd)
	rootCmd.AddCommand(deviceInfoCmd)
	rootCmd.AddCommand(testConnectivityCmd)
	rootCmd.AddCommand(dumpConfigCmd)
	rootCmd.AddCommand(exportLogsCmd)
	rootCmd.AddCommand(metricsCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
