// Package conditions provides the predicates flow triggers and listeners
// are guarded by, along with their YAML decoding
package conditions

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kode4food/cascade/pkg/api"
)

type (
	// Factory creates an empty condition of a registered type
	Factory func() api.Condition

	// List is a sequence of conditions decoded by their type discriminator
	List []api.Condition

	// Map is a set of named conditions decoded by their type discriminator
	Map map[string]api.Condition

	typeHeader struct {
		Type string `yaml:"type"`
	}
)

var (
	ErrUnknownConditionType = errors.New("unknown condition type")
	ErrConditionTypeEmpty   = errors.New("condition type empty")
	ErrNotConditionList     = errors.New("condition list must be a sequence")
	ErrNotConditionMap      = errors.New("condition map must be a mapping")
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a condition type available to flow definitions
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = f
}

// New creates an empty condition of the named type
func New(typ string) (api.Condition, error) {
	registryMu.RLock()
	f, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConditionType, typ)
	}
	return f(), nil
}

func (l *List) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("%w: line %d", ErrNotConditionList, node.Line)
	}
	res := make(List, 0, len(node.Content))
	for _, item := range node.Content {
		c, err := decode(item)
		if err != nil {
			return err
		}
		res = append(res, c)
	}
	*l = res
	return nil
}

func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d", ErrNotConditionMap, node.Line)
	}
	res := make(Map, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		c, err := decode(node.Content[i+1])
		if err != nil {
			return err
		}
		res[node.Content[i].Value] = c
	}
	*m = res
	return nil
}

func decode(node *yaml.Node) (api.Condition, error) {
	var h typeHeader
	if err := node.Decode(&h); err != nil {
		return nil, err
	}
	if h.Type == "" {
		return nil, fmt.Errorf("%w: line %d", ErrConditionTypeEmpty, node.Line)
	}
	c, err := New(h.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d", err, node.Line)
	}
	if err := node.Decode(c); err != nil {
		return nil, err
	}
	return c, nil
}
