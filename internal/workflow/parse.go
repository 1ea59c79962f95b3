// Package workflow loads workflow templates from TOML and YAML files.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// Format is a template file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format implied by a file name, or "" if unsupported.
func FormatOf(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	}
	return ""
}

// ParseFile reads and parses a template file.
func ParseFile(path string) (*types.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", path, err)
	}
	return Parse(data, FormatOf(path), path)
}

// Parse decodes, normalizes and validates a template. source names the
// origin in error messages; a template without an id takes the file's base name.
func Parse(data []byte, format Format, source string) (*types.WorkflowTemplate, error) {
	var wf types.WorkflowTemplate

	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &wf)
		if err != nil {
			return nil, deckerrors.TemplateParseError(source, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, deckerrors.TemplateParseError(source, fmt.Errorf("unknown keys: %v", undecoded))
		}
	case FormatYAML:
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&wf); err != nil {
			return nil, deckerrors.TemplateParseError(source, err)
		}
	default:
		return nil, deckerrors.TemplateParseError(source, fmt.Errorf("unsupported template format %q", filepath.Ext(source)))
	}

	if wf.ID == "" {
		base := filepath.Base(source)
		wf.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if wf.Name == "" {
		wf.Name = wf.ID
	}

	wf.Normalize()
	if err := wf.Validate(); err != nil {
		return nil, deckerrors.TemplateInvalid(wf.ID, err.Error()).WithDetail("source", source)
	}
	return &wf, nil
}
