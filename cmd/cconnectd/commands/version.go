package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/olafkfreund/cconnect/pkg/protocol"
)

var versionVerbose bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !versionVerbose {
			fmt.Printf("cconnectd %s\n", Version)
			return nil
		}
		fmt.Printf("cconnectd %s\n", Version)
		fmt.Printf("  commit:           %s\n", Commit)
		fmt.Printf("  built:            %s\n", Date)
		fmt.Printf("  go version:       %s\n", runtime.Version())
		fmt.Printf("  platform:         %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  protocol version: %d\n", protocol.ProtocolVersion)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "Show detailed build information")
}
