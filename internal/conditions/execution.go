package conditions

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/kode4food/cascade/pkg/api"
)

type (
	// ExecutionFlow holds for executions of one flow
	ExecutionFlow struct {
		Type      string `yaml:"type"`
		Namespace string `yaml:"namespace"`
		FlowID    string `yaml:"flowId"`
	}

	// ExecutionStatus holds for executions whose state is in In, when In is
	// set, and not in NotIn
	ExecutionStatus struct {
		Type  string          `yaml:"type"`
		In    []api.StateType `yaml:"in,omitempty"`
		NotIn []api.StateType `yaml:"notIn,omitempty"`
	}

	// ExecutionNamespace holds for executions of a namespace, or of every
	// namespace below it when Prefix is set
	ExecutionNamespace struct {
		Type      string `yaml:"type"`
		Namespace string `yaml:"namespace"`
		Prefix    bool   `yaml:"prefix,omitempty"`
	}
)

const (
	TypeExecutionFlow      = "execution-flow"
	TypeExecutionStatus    = "execution-status"
	TypeExecutionNamespace = "execution-namespace"
)

var ErrNoExecution = errors.New("condition requires an execution")

func init() {
	Register(TypeExecutionFlow, func() api.Condition {
		return &ExecutionFlow{}
	})
	Register(TypeExecutionStatus, func() api.Condition {
		return &ExecutionStatus{}
	})
	Register(TypeExecutionNamespace, func() api.Condition {
		return &ExecutionNamespace{}
	})
}

func (*ExecutionFlow) ConditionType() string { return TypeExecutionFlow }

func (c *ExecutionFlow) Test(
	_ context.Context, cc *api.ConditionContext,
) (bool, error) {
	if cc.Execution == nil {
		return false, ErrNoExecution
	}
	e := cc.Execution
	return e.Namespace == c.Namespace && e.FlowID == c.FlowID, nil
}

func (*ExecutionStatus) ConditionType() string { return TypeExecutionStatus }

func (c *ExecutionStatus) Test(
	_ context.Context, cc *api.ConditionContext,
) (bool, error) {
	if cc.Execution == nil {
		return false, ErrNoExecution
	}
	st := cc.Execution.State.Current
	if len(c.In) > 0 && !slices.Contains(c.In, st) {
		return false, nil
	}
	return !slices.Contains(c.NotIn, st), nil
}

func (*ExecutionNamespace) ConditionType() string {
	return TypeExecutionNamespace
}

func (c *ExecutionNamespace) Test(
	_ context.Context, cc *api.ConditionContext,
) (bool, error) {
	if cc.Execution == nil {
		return false, ErrNoExecution
	}
	ns := cc.Execution.Namespace
	if c.Prefix {
		return strings.HasPrefix(ns, c.Namespace), nil
	}
	return ns == c.Namespace, nil
}
