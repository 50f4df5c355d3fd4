package tasks

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kode4food/cascade/pkg/api"
)

type (
	// Factory creates an empty task of a registered type
	Factory func() api.Task

	// List is a sequence of tasks decoded by their type discriminator
	List []api.Task

	// Validator is implemented by tasks that check their own definition
	Validator interface {
		Validate() error
	}

	// Base carries the fields shared by every task type
	Base struct {
		ID          string `yaml:"id"`
		Type        string `yaml:"type"`
		Description string `yaml:"description,omitempty"`
		Disabled    bool   `yaml:"disabled,omitempty"`
	}

	typeHeader struct {
		Type string `yaml:"type"`
	}
)

var (
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrTaskTypeEmpty   = errors.New("task type empty")
	ErrNoChildTasks    = errors.New("container task has no child tasks")
	ErrNotTaskList     = errors.New("task list must be a sequence")
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a task type available to flow definitions
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = f
}

// New creates an empty task of the named type
func New(typ string) (api.Task, error) {
	registryMu.RLock()
	f, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, typ)
	}
	return f(), nil
}

// Types returns the registered type discriminators in sorted order
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	res := make([]string, 0, len(registry))
	for typ := range registry {
		res = append(res, typ)
	}
	slices.Sort(res)
	return res
}

// UnmarshalYAML decodes every element of the sequence into the task type
// named by its type field
func (l *List) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("%w: line %d", ErrNotTaskList, node.Line)
	}
	res := make(List, 0, len(node.Content))
	for _, item := range node.Content {
		var h typeHeader
		if err := item.Decode(&h); err != nil {
			return err
		}
		if h.Type == "" {
			return fmt.Errorf("%w: line %d", ErrTaskTypeEmpty, item.Line)
		}
		t, err := New(h.Type)
		if err != nil {
			return fmt.Errorf("%w: line %d", err, item.Line)
		}
		if err := item.Decode(t); err != nil {
			return err
		}
		res = append(res, t)
	}
	*l = res
	return nil
}

// ValidateAll validates every task of the tree that implements Validator
func ValidateAll(ts []api.Task) error {
	for _, t := range ts {
		if v, ok := t.(Validator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("task '%s': %w", t.TaskID(), err)
			}
		}
		if p, ok := t.(api.Parent); ok {
			if err := ValidateAll(p.AllChildTasks()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Base) TaskID() string   { return b.ID }
func (b *Base) IsDisabled() bool { return b.Disabled }

func childTasks(lists ...[]api.Task) []api.Task {
	return slices.Concat(lists...)
}
