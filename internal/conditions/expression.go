package conditions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/internal/script"
	"github.com/kode4food/cascade/pkg/api"
)

type (
	// Variable renders its expression against the terminated execution
	// and holds when the result parses as true
	Variable struct {
		Type       string `yaml:"type"`
		Expression string `yaml:"expression"`
	}

	// Lua holds when its script returns a true value. The script sees the
	// terminated execution as the execution variable and the flow owning
	// the condition as the flow variable
	Lua struct {
		Type   string `yaml:"type"`
		Script string `yaml:"script"`
	}
)

const (
	TypeVariable = "variable"
	TypeLua      = "lua"

	luaExecutionName = "execution"
	luaFlowName      = "flow"
)

var ErrNotBoolean = errors.New("expression did not render a boolean")

var luaEnv = sync.OnceValue(script.NewLuaEnv)

func init() {
	Register(TypeVariable, func() api.Condition { return &Variable{} })
	Register(TypeLua, func() api.Condition { return &Lua{} })
}

func (*Variable) ConditionType() string { return TypeVariable }

func (c *Variable) Test(
	_ context.Context, cc *api.ConditionContext,
) (bool, error) {
	if cc.Execution == nil {
		return false, ErrNoExecution
	}
	rc := runner.NewRunContext(cc.Flow, cc.Execution, nil)
	res, err := rc.Render(c.Expression)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(res))
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrNotBoolean, res)
	}
	return b, nil
}

func (*Lua) ConditionType() string { return TypeLua }

func (c *Lua) Test(
	_ context.Context, cc *api.ConditionContext,
) (bool, error) {
	if cc.Execution == nil {
		return false, ErrNoExecution
	}
	env := luaEnv()
	compiled, err := env.Compile(c.Script, luaExecutionName, luaFlowName)
	if err != nil {
		return false, err
	}
	return env.EvaluatePredicate(compiled, map[string]any{
		luaExecutionName: executionArgs(cc.Execution),
		luaFlowName:      flowArgs(cc.Flow),
	})
}

func executionArgs(e *api.Execution) map[string]any {
	labels := map[string]any{}
	for k, v := range e.Labels {
		labels[k] = v
	}
	return map[string]any{
		"id":        e.ID,
		"namespace": e.Namespace,
		"flowId":    e.FlowID,
		"state":     string(e.State.Current),
		"inputs":    e.Inputs,
		"labels":    labels,
		"outputs":   e.Outputs(),
	}
}

func flowArgs(f *api.Flow) map[string]any {
	if f == nil {
		return nil
	}
	return map[string]any{
		"id":        f.ID,
		"namespace": f.Namespace,
		"revision":  f.Revision,
	}
}
