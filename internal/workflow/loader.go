package workflow

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

//go:embed builtin/*.toml builtin/*.yaml
var builtinFS embed.FS

// Source names where a template came from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceUser    Source = "user"
	SourceProject Source = "project"
)

// Loaded is a parsed template and its origin.
type Loaded struct {
	Template *types.WorkflowTemplate
	Source   Source
	Path     string
}

// Loader loads templates from multiple sources with precedence.
// Later sources override earlier ones by template id:
// builtin -> user -> project.
type Loader struct {
	// ProjectDir is the project workflow directory (usually .clawdeck/workflows).
	ProjectDir string

	// UserDir is the user workflow directory.
	// Default: ~/.clawdeck/workflows
	UserDir string

	// Builtins includes the embedded templates.
	Builtins bool
}

// NewLoader creates a loader for a project workflow directory.
func NewLoader(projectDir string) *Loader {
	userDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		userDir = filepath.Join(home, ".clawdeck", "workflows")
	}
	return &Loader{
		ProjectDir: projectDir,
		UserDir:    userDir,
		Builtins:   true,
	}
}

// LoadAll parses every template reachable by the loader, ordered by id.
// A file that fails to parse fails the whole load.
func (l *Loader) LoadAll() ([]Loaded, error) {
	byID := make(map[string]Loaded)

	if l.Builtins {
		builtins, err := loadBuiltins()
		if err != nil {
			return nil, err
		}
		for _, b := range builtins {
			byID[b.Template.ID] = b
		}
	}

	for _, dir := range []struct {
		path   string
		source Source
	}{
		{l.UserDir, SourceUser},
		{l.ProjectDir, SourceProject},
	} {
		if dir.path == "" {
			continue
		}
		loaded, err := loadDir(dir.path, dir.source)
		if err != nil {
			return nil, err
		}
		for _, t := range loaded {
			byID[t.Template.ID] = t
		}
	}

	out := make([]Loaded, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Template.ID < out[j].Template.ID
	})
	return out, nil
}

func loadBuiltins() ([]Loaded, error) {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("reading builtin workflows: %w", err)
	}

	var out []Loaded
	for _, e := range entries {
		format := FormatOf(e.Name())
		if e.IsDir() || format == "" {
			continue
		}
		p := path.Join("builtin", e.Name())
		data, err := builtinFS.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading builtin workflow %s: %w", p, err)
		}
		wf, err := Parse(data, format, p)
		if err != nil {
			return nil, err
		}
		out = append(out, Loaded{Template: wf, Source: SourceBuiltin, Path: p})
	}
	return out, nil
}

func loadDir(dir string, source Source) ([]Loaded, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading workflow dir %s: %w", dir, err)
	}

	var out []Loaded
	for _, e := range entries {
		if e.IsDir() || FormatOf(e.Name()) == "" {
			continue
		}
		p := filepath.Join(dir, e.Name())
		wf, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, Loaded{Template: wf, Source: source, Path: p})
	}
	return out, nil
}
