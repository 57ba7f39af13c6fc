package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// PrintYAML encodes data as two-space-indented YAML.
func PrintYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close() //nolint:errcheck
	return enc.Encode(data)
}
