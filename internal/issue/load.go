package issue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads an issue list from a .json, .yaml or .yml file.
// Returns the valid issues and the number of dropped entries.
func LoadFile(path string) ([]Issue, int, error) {
	raws, dropped, err := LoadRaw(path)
	if err != nil {
		return nil, 0, err
	}
	issues, bad := ParseAll(raws)
	return issues, dropped + bad, nil
}

// LoadRaw reads an issue file into unvalidated JSON entries, for callers
// that hand the list on to a plan build. The count is of YAML entries that
// could not be re-encoded as JSON.
func LoadRaw(path string) ([]json.RawMessage, int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, 0, fmt.Errorf("reading issue file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlEntries(data)
	case ".json", "":
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, 0, fmt.Errorf("decoding issue list: %w", err)
		}
		return raws, 0, nil
	default:
		return nil, 0, fmt.Errorf("unsupported issue file extension %q", filepath.Ext(path))
	}
}

// ParseYAML decodes a YAML sequence of issue entries. Each entry is
// re-encoded to JSON so YAML and JSON input share one validation path.
func ParseYAML(data []byte) ([]Issue, int, error) {
	raws, dropped, err := yamlEntries(data)
	if err != nil {
		return nil, 0, err
	}
	issues, bad := ParseAll(raws)
	return issues, dropped + bad, nil
}

func yamlEntries(data []byte) ([]json.RawMessage, int, error) {
	var entries []interface{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, 0, fmt.Errorf("decoding issue list: %w", err)
	}

	raws := make([]json.RawMessage, 0, len(entries))
	dropped := 0
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			dropped++
			continue
		}
		raws = append(raws, b)
	}
	return raws, dropped, nil
}
