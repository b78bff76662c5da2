package narration

import (
	"fmt"
	"os"

	"demo-reel-pipeline/types"

	"gopkg.in/yaml.v3"
)

// Table maps segment names to narration text
type Table map[string]string

// LoadTable reads a YAML map of segment name to narration. An empty path yields an empty table.
func LoadTable(path string) (Table, error) {
	if path == "" {
		return Table{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read narration table: %w", err)
	}
	t := Table{}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse narration table %s: %w", path, err)
	}
	return t, nil
}

// Text returns the narration for seg; inline text wins over the table
func (t Table) Text(seg types.Segment) string {
	if seg.Narration != "" {
		return seg.Narration
	}
	return t[seg.Name]
}
