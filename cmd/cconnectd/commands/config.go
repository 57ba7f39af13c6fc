package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/olafkfreund/cconnect/internal/cli/output"
	"github.com/olafkfreund/cconnect/pkg/config"
)

var showSensitive bool

var dumpConfigCmd = &cobra.Command{
	Use:   "dump-config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration the daemon would run with: the config file
merged with environment overrides and defaults.

Run-command lines are redacted unless --show-sensitive is given, since they
may embed credentials.`,
	RunE: runDumpConfig,
}

func init() {
	dumpConfigCmd.Flags().BoolVar(&showSensitive, "show-sensitive", false, "Include run-command lines verbatim")
}

func runDumpConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if !showSensitive && len(cfg.RunCommand) > 0 {
		redacted := make(map[string]string, len(cfg.RunCommand))
		for key := range cfg.RunCommand {
			redacted[key] = "<redacted>"
		}
		cfg.RunCommand = redacted
	}

	fmt.Printf("# effective configuration (source: %s)\n", getConfigSource(GetConfigFile()))
	return output.PrintYAML(os.Stdout, cfg)
}
