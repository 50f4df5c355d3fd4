package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kode4food/cascade/internal/parser"
	"github.com/kode4food/cascade/internal/standalone"
	"github.com/kode4food/cascade/pkg/api"
)

type runOptions struct {
	flowsPath string
	inputs    []string
	timeout   time.Duration
}

const defaultRunTimeout = 10 * time.Minute

var (
	ErrExecutionFailed = errors.New("execution failed")
	ErrInvalidInput    = errors.New("invalid input, expected key=value")
)

func (a *app) newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <flow.yaml>",
		Short: "Run a single execution of a flow in-process",
		Long: `Run a single execution of a flow in-process and print the final
execution as JSON. Flows found in --flows may be triggered by it, or used as
templates. The exit status is 1 when the execution fails or is killed.`,
		Example: `  cascade run flow.yaml
  cascade run --input name=ada --input count=3 flow.yaml
  cascade run --flows ./flows --timeout 30s flow.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.flowsPath, "flows", "",
		"directory of additional flow definitions",
	)
	cmd.Flags().StringArrayVarP(&opts.inputs, "input", "i", nil,
		"execution input as key=value (repeatable)",
	)
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaultRunTimeout,
		"maximum time to wait for the execution",
	)
	return cmd
}

func (a *app) run(ctx context.Context, path string, opts *runOptions) error {
	target, err := parser.ParseFile(path)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(opts.inputs)
	if err != nil {
		return err
	}

	flowsPath := opts.flowsPath
	if flowsPath == "" {
		flowsPath = a.cfg.FlowsPath
	}
	flows, err := loadFlows(flowsPath, target)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := standalone.New(ctx, a.cfg, flows...)
	if err != nil {
		return err
	}
	r.Start(ctx)
	defer r.Stop()

	f, err := r.Flows.FindByID(target.Namespace, target.ID, nil)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	e, err := r.Run(runCtx, f, inputs)
	if e != nil {
		if perr := a.printExecution(e); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if e.State.IsFailed() {
		return fmt.Errorf("%w: %s", ErrExecutionFailed, e.State.Current)
	}
	return nil
}

func (a *app) printExecution(e *api.Execution) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

// loadFlows parses the flows of dir, with target replacing any flow of dir
// that shares its namespace and id
func loadFlows(dir string, target *api.Flow) ([]*api.Flow, error) {
	if dir == "" {
		return []*api.Flow{target}, nil
	}
	flows, err := parser.ParseDir(dir)
	if err != nil {
		return nil, err
	}
	res := make([]*api.Flow, 0, len(flows)+1)
	for _, f := range flows {
		if f.UID() != target.UID() {
			res = append(res, f)
		}
	}
	return append(res, target), nil
}

// parseInputs decodes key=value pairs. Values are read as YAML scalars, so
// numbers and booleans keep their type
func parseInputs(pairs []string) (map[string]any, error) {
	res := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidInput, pair)
		}
		var value any
		err := yaml.Unmarshal([]byte(raw), &value)
		if err != nil || value == nil {
			value = raw
		}
		res[key] = value
	}
	return res, nil
}
