package commands

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/olafkfreund/cconnect/pkg/config"
)

var (
	exportOutput string
	exportLines  int
)

var exportLogsCmd = &cobra.Command{
	Use:   "export-logs",
	Short: "Export recent daemon logs to a file",
	Long: `Copy the tail of the daemon's log to a file, for attaching to bug
reports. Reads the log file the daemon writes to: the configured
logging.output path, or the default background-mode log file when the
daemon logs to stdout/stderr.

Examples:
  # Last 500 lines (default) to a bundle file
  cconnectd export-logs --output /tmp/cconnect-logs.txt

  # Everything the log file holds
  cconnectd export-logs --output /tmp/cconnect-logs.txt --lines 0`,
	RunE: runExportLogs,
}

func init() {
	exportLogsCmd.Flags().StringVar(&exportOutput, "output", "", "Destination file (required)")
	exportLogsCmd.Flags().IntVar(&exportLines, "lines", 500, "Number of trailing lines to export, 0 for all")
	_ = exportLogsCmd.MarkFlagRequired("output")
}

func runExportLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logPath := cfg.Logging.Output
	if logPath == "stdout" || logPath == "stderr" {
		logPath = GetDefaultLogFile()
	}

	lines, err := tailFile(logPath, exportLines)
	if err != nil {
		return fmt.Errorf("reading %s: %w", logPath, err)
	}

	out, err := os.Create(exportOutput)
	if err != nil {
		return fmt.Errorf("creating %s: %w", exportOutput, err)
	}
	defer func() { _ = out.Close() }()

	w := bufio.NewWriter(out)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("Exported %d lines from %s to %s\n", len(lines), logPath, exportOutput)
	return nil
}

// tailFile returns the last n lines of a file, or all lines when n <= 0.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
