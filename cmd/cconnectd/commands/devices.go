package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/olafkfreund/cconnect/internal/cli/output"
	"github.com/olafkfreund/cconnect/internal/cli/timeutil"
)

var (
	listVerbose bool
	listOutput  string
	connTimeout time.Duration
)

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List devices known to the running daemon",
	Long: `List all devices the running daemon knows about: discovered, paired,
and connected. Requires a running daemon.

Examples:
  # Compact listing
  cconnectd list-devices

  # Include addresses, capabilities and last-seen times
  cconnectd list-devices --verbose

  # Machine-readable output
  cconnectd list-devices --output json`,
	RunE: runListDevices,
}

var deviceInfoCmd = &cobra.Command{
	Use:   "device-info <device-id>",
	Short: "Show everything known about one device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceInfo,
}

var testConnectivityCmd = &cobra.Command{
	Use:   "test-connectivity <device-id>",
	Short: "Probe a device with a ping over the control session",
	Long: `Ask the running daemon to open (or reuse) a session with the device
and send a ping. Exit code 0 means the device answered the session
handshake; a trust or reachability failure is reported with its error code.`,
	Args: cobra.ExactArgs(1),
	RunE: runTestConnectivity,
}

func init() {
	listDevicesCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "Show addresses, capabilities and timestamps")
	listDevicesCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table|json|yaml)")
	testConnectivityCmd.Flags().DurationVar(&connTimeout, "timeout", 10*time.Second, "Probe timeout")
}

func runListDevices(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(listOutput)
	if err != nil {
		return err
	}

	client, _, err := newClient()
	if err != nil {
		return err
	}
	devices, err := client.Devices()
	if err != nil {
		return err
	}

	if format != output.FormatTable {
		return output.NewPrinter(os.Stdout, format).Print(devices)
	}

	if len(devices) == 0 {
		fmt.Println("No devices known. Is a peer announcing on this network?")
		return nil
	}

	var table *output.TableData
	if listVerbose {
		table = output.NewTableData("ID", "NAME", "TYPE", "STATE", "PAIRING", "ADDRESS", "LAST SEEN", "CAPS")
	} else {
		table = output.NewTableData("ID", "NAME", "TYPE", "STATE", "PAIRING")
	}
	for _, d := range devices {
		if listVerbose {
			addr := ""
			if d.Host != "" {
				addr = d.Host + ":" + strconv.Itoa(d.Port)
			}
			table.AddRow(d.ID, d.DisplayName, d.Type, d.ConnectionState, d.PairingStatus,
				addr, timeutil.FormatAgo(d.LastSeen), strconv.Itoa(len(d.IncomingCaps)))
		} else {
			table.AddRow(d.ID, d.DisplayName, d.Type, d.ConnectionState, d.PairingStatus)
		}
	}
	return output.PrintTable(os.Stdout, table)
}

func runDeviceInfo(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	d, err := client.Device(args[0])
	if err != nil {
		return err
	}

	pairs := [][2]string{
		{"ID", d.ID},
		{"Name", d.Name},
	}
	if d.Nickname != "" {
		pairs = append(pairs, [2]string{"Nickname", d.Nickname})
	}
	pairs = append(pairs,
		[2]string{"Type", d.Type},
		[2]string{"Connection", d.ConnectionState},
		[2]string{"Pairing", d.PairingStatus},
		[2]string{"Trusted", strconv.FormatBool(d.IsTrusted)},
	)
	if d.Host != "" {
		pairs = append(pairs, [2]string{"Address", d.Host + ":" + strconv.Itoa(d.Port)})
	}
	if d.Fingerprint != "" {
		pairs = append(pairs, [2]string{"Fingerprint", d.Fingerprint})
	}
	if d.LastSeen > 0 {
		pairs = append(pairs, [2]string{"Last seen", timeutil.FormatEpoch(d.LastSeen)})
	}
	if d.LastConnected > 0 {
		pairs = append(pairs, [2]string{"Last connected", timeutil.FormatEpoch(d.LastConnected)})
	}
	if d.Battery != nil {
		state := fmt.Sprintf("%d%%", d.Battery.Charge)
		if d.Battery.IsCharging {
			state += " (charging)"
		}
		pairs = append(pairs, [2]string{"Battery", state})
	}
	if len(d.IncomingCaps) > 0 {
		pairs = append(pairs, [2]string{"Incoming caps", strings.Join(d.IncomingCaps, ", ")})
	}
	if len(d.OutgoingCaps) > 0 {
		pairs = append(pairs, [2]string{"Outgoing caps", strings.Join(d.OutgoingCaps, ", ")})
	}
	for name, enabled := range d.PluginOverrides {
		pairs = append(pairs, [2]string{"Plugin " + name, map[bool]string{true: "enabled", false: "disabled"}[enabled]})
	}
	return output.SimpleTable(os.Stdout, pairs)
}

func runTestConnectivity(cmd *cobra.Command, args []string) error {
	id := args[0]
	client, _, err := newClient()
	if err != nil {
		return err
	}
	client.SetTimeout(connTimeout)

	start := time.Now()
	if err := client.Ping(id, "connectivity test"); err != nil {
		return fmt.Errorf("device %s unreachable: %w", id, err)
	}
	fmt.Printf("Device %s reachable (ping acknowledged in %s)\n",
		id, time.Since(start).Round(time.Millisecond))
	return nil
}
