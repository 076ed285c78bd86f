package permissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPath indicates an unusable policy file path.
var ErrInvalidPath = errors.New("permissions: invalid policy file path")

// LoadFile reads a policy document from a .yaml, .yml or .json file.
func LoadFile(path string) (*Policy, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is validated above
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidPath)
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("%w: path contains directory traversal", ErrInvalidPath)
	}
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".yaml", ".yml", ".json":
		return nil
	default:
		return fmt.Errorf("%w: path must have .yaml, .yml, or .json extension", ErrInvalidPath)
	}
}

// Parse decodes a policy document. ext selects JSON for ".json" and YAML
// otherwise.
func Parse(data []byte, ext string) (*Policy, error) {
	var p Policy
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse JSON policy: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse YAML policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Merge applies a JSON override document on top of base. Objects merge key
// by key at every depth; any other value in the override replaces the base
// value. Keys absent from the override keep their base value.
func Merge(base *Policy, override []byte) (*Policy, error) {
	if len(override) == 0 {
		return base.Clone(), nil
	}
	var over map[string]any
	if err := json.Unmarshal(override, &over); err != nil {
		return nil, fmt.Errorf("parse policy override: %w", err)
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	deepMerge(merged, over)

	raw, err = json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode merged policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		sv, srcIsMap := v.(map[string]any)
		dv, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			deepMerge(dv, sv)
			continue
		}
		dst[k] = v
	}
}
