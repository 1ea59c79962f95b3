package workflow

import (
	"fmt"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// Registry is a read-only index of templates by id.
// Templates handed out must not be modified.
type Registry struct {
	templates map[string]*types.WorkflowTemplate
	order     []string
	sources   map[string]Source
}

// NewRegistry validates and indexes templates. Duplicate ids are an error.
func NewRegistry(templates ...*types.WorkflowTemplate) (*Registry, error) {
	r := &Registry{
		templates: make(map[string]*types.WorkflowTemplate, len(templates)),
		sources:   make(map[string]Source, len(templates)),
	}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, deckerrors.TemplateInvalid(t.ID, err.Error())
		}
		if _, dup := r.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate workflow id %q", t.ID)
		}
		r.templates[t.ID] = t
		r.order = append(r.order, t.ID)
	}
	return r, nil
}

// LoadRegistry builds a registry from everything the loader can see.
func LoadRegistry(l *Loader) (*Registry, error) {
	loaded, err := l.LoadAll()
	if err != nil {
		return nil, err
	}
	templates := make([]*types.WorkflowTemplate, len(loaded))
	for i, t := range loaded {
		templates[i] = t.Template
	}
	r, err := NewRegistry(templates...)
	if err != nil {
		return nil, err
	}
	for _, t := range loaded {
		r.sources[t.Template.ID] = t.Source
	}
	return r, nil
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (*types.WorkflowTemplate, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, deckerrors.TemplateNotFound(id)
	}
	return t, nil
}

// List returns all templates in registration order.
func (r *Registry) List() []*types.WorkflowTemplate {
	out := make([]*types.WorkflowTemplate, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.templates[id])
	}
	return out
}

// Source reports where a template was loaded from, if known.
func (r *Registry) Source(id string) Source {
	return r.sources[id]
}
