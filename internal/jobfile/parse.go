package jobfile

import (
	"fmt"
	"os"

	"jobgrid/internal/strictyaml"
)

// ParseFile reads and strictly decodes a jobs file (YAML or JSON list of
// job records). It does not validate; see Validate.
func ParseFile(path string) ([]Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(path, b)
}

// ParseBytes decodes jobs file content. The path is only used to sniff the
// format from the extension (.yaml/.yml vs anything else = JSON).
func ParseBytes(path string, data []byte) ([]Spec, error) {
	var specs []Spec
	if err := strictyaml.Decode(path, data, &specs); err != nil {
		return nil, fmt.Errorf("jobs file: %w", err)
	}
	return specs, nil
}
