package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/internal/script"
	"github.com/kode4food/cascade/pkg/api"
)

type (
	// Options carries the execution settings every runnable task accepts
	Options struct {
		Timeout time.Duration    `yaml:"timeout,omitempty"`
		Retry   *api.RetryConfig `yaml:"retry,omitempty"`
	}

	// Return publishes its rendered format as the value output
	Return struct {
		Base    `yaml:",inline"`
		Options `yaml:",inline"`
		Format  string `yaml:"format"`
	}

	// Log renders a message and writes it to the task log
	Log struct {
		Base    `yaml:",inline"`
		Options `yaml:",inline"`
		Message string `yaml:"message"`
		Level   string `yaml:"level,omitempty"`
	}

	// Fail always fails with its rendered error message
	Fail struct {
		Base         `yaml:",inline"`
		Options      `yaml:",inline"`
		ErrorMessage string `yaml:"errorMessage,omitempty"`
	}

	// Sleep waits for its duration, or until it is cancelled
	Sleep struct {
		Base     `yaml:",inline"`
		Options  `yaml:",inline"`
		Duration time.Duration `yaml:"duration"`
	}

	// Lua runs a sandboxed script with the rendered inputs bound as the
	// inputs variable. A table result becomes the task outputs
	Lua struct {
		Base    `yaml:",inline"`
		Options `yaml:",inline"`
		Script  string         `yaml:"script"`
		Inputs  map[string]any `yaml:"inputs,omitempty"`
	}
)

const (
	TypeReturn = "return"
	TypeLog    = "log"
	TypeFail   = "fail"
	TypeSleep  = "sleep"
	TypeLua    = "lua"

	defaultFailMessage = "task failed"
	luaInputsName      = "inputs"
)

var (
	ErrTaskFailed       = errors.New("task failed")
	ErrFormatEmpty      = errors.New("return format empty")
	ErrMessageEmpty     = errors.New("log message empty")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrNegativeDuration = errors.New("duration must not be negative")
	ErrNegativeTimeout  = errors.New("timeout must not be negative")
)

var logLevels = map[string]slog.Level{
	"":                     slog.LevelInfo,
	string(api.LevelDebug): slog.LevelDebug,
	string(api.LevelInfo):  slog.LevelInfo,
	string(api.LevelWarn):  slog.LevelWarn,
	string(api.LevelError): slog.LevelError,
}

var luaEnv = sync.OnceValue(script.NewLuaEnv)

var (
	_ runner.Runnable = (*Return)(nil)
	_ runner.Runnable = (*Log)(nil)
	_ runner.Runnable = (*Fail)(nil)
	_ runner.Runnable = (*Sleep)(nil)
	_ runner.Runnable = (*Lua)(nil)
)

func init() {
	Register(TypeReturn, func() api.Task { return &Return{} })
	Register(TypeLog, func() api.Task { return &Log{} })
	Register(TypeFail, func() api.Task { return &Fail{} })
	Register(TypeSleep, func() api.Task { return &Sleep{} })
	Register(TypeLua, func() api.Task { return &Lua{} })
}

func (o *Options) TaskTimeout() time.Duration    { return o.Timeout }
func (o *Options) RetryPolicy() *api.RetryConfig { return o.Retry }

func (o *Options) validate() error {
	if o.Timeout < 0 {
		return ErrNegativeTimeout
	}
	if o.Retry != nil {
		return o.Retry.Validate()
	}
	return nil
}

func (*Return) TaskType() string { return TypeReturn }

func (r *Return) Validate() error {
	if r.Format == "" {
		return ErrFormatEmpty
	}
	return r.validate()
}

func (r *Return) Run(
	_ context.Context, rc *runner.RunContext,
) (map[string]any, error) {
	value, err := rc.Render(r.Format)
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": value}, nil
}

func (*Log) TaskType() string { return TypeLog }

func (l *Log) Validate() error {
	if l.Message == "" {
		return ErrMessageEmpty
	}
	if _, ok := logLevels[strings.ToUpper(l.Level)]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, l.Level)
	}
	return l.validate()
}

func (l *Log) Run(
	ctx context.Context, rc *runner.RunContext,
) (map[string]any, error) {
	msg, err := rc.Render(l.Message)
	if err != nil {
		return nil, err
	}
	lvl, ok := logLevels[strings.ToUpper(l.Level)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLogLevel, l.Level)
	}
	rc.Logger().Log(ctx, lvl, msg)
	return nil, nil
}

func (*Fail) TaskType() string { return TypeFail }

func (f *Fail) Validate() error { return f.validate() }

func (f *Fail) Run(
	_ context.Context, rc *runner.RunContext,
) (map[string]any, error) {
	if f.ErrorMessage == "" {
		return nil, fmt.Errorf("%w: %s", ErrTaskFailed, defaultFailMessage)
	}
	msg, err := rc.Render(f.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskFailed, msg)
}

func (*Sleep) TaskType() string { return TypeSleep }

func (s *Sleep) Validate() error {
	if s.Duration < 0 {
		return ErrNegativeDuration
	}
	return s.validate()
}

func (s *Sleep) Run(
	ctx context.Context, _ *runner.RunContext,
) (map[string]any, error) {
	timer := time.NewTimer(s.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (*Lua) TaskType() string { return TypeLua }

func (l *Lua) Validate() error {
	if err := luaEnv().Validate(l.Script, luaInputsName); err != nil {
		return err
	}
	return l.validate()
}

func (l *Lua) Run(
	_ context.Context, rc *runner.RunContext,
) (map[string]any, error) {
	inputs, err := rc.RenderMap(l.Inputs)
	if err != nil {
		return nil, err
	}
	env := luaEnv()
	c, err := env.Compile(l.Script, luaInputsName)
	if err != nil {
		return nil, err
	}
	return env.Execute(c, map[string]any{luaInputsName: inputs})
}
