package conditions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/cascade/pkg/api"
)

// Multiple holds once each of its named conditions has held at least once,
// possibly for different executions, within the same time window
type Multiple struct {
	Type     string        `yaml:"type"`
	ID       string        `yaml:"id"`
	Span     time.Duration `yaml:"window,omitempty"`
	Advance  time.Duration `yaml:"windowAdvance,omitempty"`
	Branches Map           `yaml:"conditions"`
}

const TypeMultiple = "multiple"

var (
	ErrMultipleIDEmpty    = errors.New("multiple condition id empty")
	ErrMultipleNoBranches = errors.New("multiple condition has no conditions")
	ErrNoConditionStorage = errors.New("multiple condition requires storage")
)

var _ api.MultipleCondition = (*Multiple)(nil)

func init() {
	Register(TypeMultiple, func() api.Condition { return &Multiple{} })
}

func (*Multiple) ConditionType() string { return TypeMultiple }

func (m *Multiple) ConditionID() string                  { return m.ID }
func (m *Multiple) Window() time.Duration                { return m.Span }
func (m *Multiple) WindowAdvance() time.Duration         { return m.Advance }
func (m *Multiple) Conditions() map[string]api.Condition { return m.Branches }

func (m *Multiple) Validate() error {
	if m.ID == "" {
		return ErrMultipleIDEmpty
	}
	if len(m.Branches) == 0 {
		return fmt.Errorf("%w: %s", ErrMultipleNoBranches, m.ID)
	}
	return nil
}

// Test evaluates every named condition against the execution, records the
// ones that hold in the current window, and reports whether the window is
// now fulfilled
func (m *Multiple) Test(
	ctx context.Context, cc *api.ConditionContext,
) (bool, error) {
	if cc.Storage == nil {
		return false, ErrNoConditionStorage
	}
	now := cc.Now
	if now.IsZero() {
		now = time.Now()
	}
	w, err := cc.Storage.GetOrCreate(ctx, cc.Flow, m, now)
	if err != nil {
		return false, err
	}

	results := make(map[string]bool, len(m.Branches))
	for name, c := range m.Branches {
		ok, err := c.Test(ctx, cc)
		if err != nil {
			return false, fmt.Errorf("condition '%s.%s': %w", m.ID, name, err)
		}
		results[name] = ok
	}

	w = w.With(results)
	if err := cc.Storage.Save(
		ctx, []*api.MultipleConditionWindow{w},
	); err != nil {
		return false, err
	}
	return w.IsFulfilled(m), nil
}
