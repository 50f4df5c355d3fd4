// Package parser reads flow definitions from YAML
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kode4food/cascade/internal/conditions"
	"github.com/kode4food/cascade/internal/tasks"
	"github.com/kode4food/cascade/pkg/api"
)

type (
	flowDocument struct {
		ID          string             `yaml:"id"`
		Namespace   string             `yaml:"namespace"`
		Revision    int                `yaml:"revision,omitempty"`
		Description string             `yaml:"description,omitempty"`
		Labels      map[string]string  `yaml:"labels,omitempty"`
		Variables   map[string]any     `yaml:"variables,omitempty"`
		Inputs      []inputDocument    `yaml:"inputs,omitempty"`
		Tasks       tasks.List         `yaml:"tasks"`
		Errors      tasks.List         `yaml:"errors,omitempty"`
		Listeners   []listenerDocument `yaml:"listeners,omitempty"`
		Triggers    []triggerDocument  `yaml:"triggers,omitempty"`
		Disabled    bool               `yaml:"disabled,omitempty"`
	}

	inputDocument struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type,omitempty"`
		Required bool   `yaml:"required,omitempty"`
		Default  any    `yaml:"default,omitempty"`
	}

	listenerDocument struct {
		Description string          `yaml:"description,omitempty"`
		Conditions  conditions.List `yaml:"conditions,omitempty"`
		Tasks       tasks.List      `yaml:"tasks"`
	}

	triggerDocument struct {
		ID          string            `yaml:"id"`
		Type        string            `yaml:"type"`
		Description string            `yaml:"description,omitempty"`
		Conditions  conditions.List   `yaml:"conditions,omitempty"`
		States      []api.StateType   `yaml:"states,omitempty"`
		Inputs      map[string]string `yaml:"inputs,omitempty"`
		Disabled    bool              `yaml:"disabled,omitempty"`
	}

	validator interface {
		Validate() error
	}
)

// TriggerTypeFlow is the only trigger type flows may declare
const TriggerTypeFlow = "flow"

var flowExtensions = []string{".yaml", ".yml"}

// Parse decodes and validates a single flow definition. Unknown fields are
// rejected
func Parse(data []byte) (*api.Flow, error) {
	return parse("", bytes.NewReader(data))
}

// ParseFile reads and parses the flow definition at path
func ParseFile(path string) (*api.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(path, bytes.NewReader(data))
}

// ParseDir parses every YAML file below dir, in lexical order
func ParseDir(dir string) ([]*api.Flow, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(
		p string, d fs.DirEntry, err error,
	) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(p))
		if !d.IsDir() && slices.Contains(flowExtensions, ext) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(paths)
	res := make([]*api.Flow, 0, len(paths))
	for _, p := range paths {
		f, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

func parse(path string, r io.Reader) (*api.Flow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc flowDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: empty document", ErrInvalidDefinition)
		}
		return nil, newParseError(path, err)
	}

	f, err := doc.toFlow()
	if err != nil {
		return nil, newParseError(path, err)
	}
	if err := Validate(f); err != nil {
		return nil, newParseError(path, err)
	}
	return f, nil
}

// Validate checks the flow's structure, its task tree, and the conditions
// of its listeners and triggers
func Validate(f *api.Flow) error {
	if err := f.Validate(); err != nil {
		return err
	}
	lists := [][]api.Task{f.Tasks, f.Errors}
	for _, l := range f.Listeners {
		lists = append(lists, l.Tasks)
	}
	for _, ts := range lists {
		if err := tasks.ValidateAll(ts); err != nil {
			return err
		}
	}
	for _, l := range f.Listeners {
		if err := validateConditions(l.Conditions); err != nil {
			return err
		}
	}
	for _, t := range f.Triggers {
		if err := validateConditions(t.Conditions); err != nil {
			return fmt.Errorf("trigger '%s': %w", t.ID, err)
		}
	}
	return nil
}

func validateConditions(cs []api.Condition) error {
	for _, c := range cs {
		if v, ok := c.(validator); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *flowDocument) toFlow() (*api.Flow, error) {
	f := &api.Flow{
		ID:          d.ID,
		Namespace:   d.Namespace,
		Revision:    d.Revision,
		Description: d.Description,
		Labels:      d.Labels,
		Variables:   d.Variables,
		Tasks:       d.Tasks,
		Errors:      d.Errors,
		Disabled:    d.Disabled,
	}
	for _, in := range d.Inputs {
		f.Inputs = append(f.Inputs, &api.Input{
			Name:     in.Name,
			Type:     in.Type,
			Required: in.Required,
			Default:  in.Default,
		})
	}
	for _, l := range d.Listeners {
		f.Listeners = append(f.Listeners, &api.Listener{
			Description: l.Description,
			Conditions:  l.Conditions,
			Tasks:       l.Tasks,
		})
	}
	for _, t := range d.Triggers {
		if t.Type != TriggerTypeFlow {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrigger, t.Type)
		}
		f.Triggers = append(f.Triggers, &api.FlowTrigger{
			ID:          t.ID,
			Description: t.Description,
			Conditions:  t.Conditions,
			States:      t.States,
			Inputs:      t.Inputs,
			Disabled:    t.Disabled,
		})
	}
	return f, nil
}
