package tasks

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kode4food/cascade/internal/runner"
	"github.com/kode4food/cascade/pkg/api"
	"github.com/kode4food/cascade/pkg/util"
)

type (
	// Template runs the tasks of another flow definition, sequentially, as
	// if they were declared in place
	Template struct {
		Base       `yaml:",inline"`
		Namespace  string         `yaml:"namespace"`
		TemplateID string         `yaml:"templateId"`
		Revision   *int           `yaml:"revision,omitempty"`
		Args       map[string]any `yaml:"args,omitempty"`

		mu       sync.Mutex
		template *api.Flow
	}

	injector struct {
		provider api.FlowProvider
		stack    util.Set[string]
	}
)

const TypeTemplate = "template"

var (
	ErrTemplateNotFound   = errors.New("can't find flow template")
	ErrTemplateIDEmpty    = errors.New("template id empty")
	ErrTemplateNamespace  = errors.New("template namespace empty")
	ErrNoTemplateProvider = errors.New("no flow provider to resolve template")
)

var (
	_ runner.Flowable       = (*Template)(nil)
	_ runner.OutputProvider = (*Template)(nil)
)

func init() {
	Register(TypeTemplate, func() api.Task { return &Template{} })
}

// InjectTemplates resolves every template of the flow, recursively, so
// that the flow's task tree includes their children. Task ids must remain
// unique once the templates are in place
func InjectTemplates(f *api.Flow, provider api.FlowProvider) error {
	in := &injector{
		provider: provider,
		stack:    util.SetOf(f.UID()),
	}
	if err := in.walk(f.Tasks); err != nil {
		return err
	}
	if err := in.walk(f.Errors); err != nil {
		return err
	}
	for _, l := range f.Listeners {
		if err := in.walk(l.Tasks); err != nil {
			return err
		}
	}
	return f.ValidateTaskIDs()
}

func (*Template) TaskType() string { return TypeTemplate }

// AllChildTasks returns the tasks of the template revision most recently
// resolved
func (t *Template) AllChildTasks() []api.Task {
	tmpl := t.resolved()
	if tmpl == nil {
		return nil
	}
	return childTasks(tmpl.Tasks, tmpl.Errors)
}

func (t *Template) ErrorTasks() []api.Task {
	if tmpl := t.resolved(); tmpl != nil {
		return tmpl.Errors
	}
	return nil
}

func (t *Template) Validate() error {
	if t.Namespace == "" {
		return ErrTemplateNamespace
	}
	if t.TemplateID == "" {
		return ErrTemplateIDEmpty
	}
	return nil
}

func (t *Template) ChildTasks(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.ResolvedTask, error) {
	tmpl, err := t.load(rc.FlowProvider())
	if err != nil {
		return nil, err
	}
	return runner.ResolveTasks(tmpl.Tasks, parent), nil
}

func (t *Template) ResolveNexts(
	rc *runner.RunContext, parent *api.TaskRun,
) ([]*api.TaskRun, error) {
	tmpl, err := t.load(rc.FlowProvider())
	if err != nil {
		return nil, err
	}
	return runner.ResolveSequentialNexts(
		rc.Execution(),
		runner.ResolveTasks(tmpl.Tasks, parent),
		runner.ResolveTasks(tmpl.Errors, parent),
		parent,
	), nil
}

func (t *Template) ResolveState(
	rc *runner.RunContext, parent *api.TaskRun,
) (api.StateType, bool, error) {
	tmpl, err := t.load(rc.FlowProvider())
	if err != nil {
		return "", false, err
	}
	st, ok := runner.ResolveState(
		rc.Execution(),
		runner.ResolveTasks(tmpl.Tasks, parent),
		runner.ResolveTasks(tmpl.Errors, parent),
		parent, false,
	)
	return st, ok, nil
}

// Outputs publishes the rendered template arguments
func (t *Template) Outputs(
	rc *runner.RunContext, _ *api.TaskRun,
) (map[string]any, error) {
	args, err := rc.RenderMap(t.Args)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{"args": args}, nil
}

func (t *Template) resolved() *api.Flow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.template
}

// load asks the provider for the template on every resolution, so an
// unpinned template follows the latest revision
func (t *Template) load(provider api.FlowProvider) (*api.Flow, error) {
	if provider == nil {
		return nil, ErrNoTemplateProvider
	}
	f, err := provider.FindByID(t.Namespace, t.TemplateID, t.Revision)
	if err != nil || f == nil {
		return nil, fmt.Errorf("%w '%s.%s'",
			ErrTemplateNotFound, t.Namespace, t.TemplateID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.template = f
	return f, nil
}

func (in *injector) walk(ts []api.Task) error {
	for _, t := range ts {
		if tmpl, ok := t.(*Template); ok {
			if err := in.inject(tmpl); err != nil {
				return err
			}
			continue
		}
		if p, ok := t.(api.Parent); ok {
			if err := in.walk(p.AllChildTasks()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *injector) inject(t *Template) error {
	uid := t.Namespace + "." + t.TemplateID
	if in.stack.Contains(uid) {
		return fmt.Errorf("%w: %s", api.ErrTemplateRecursion, uid)
	}
	f, err := t.load(in.provider)
	if err != nil {
		return err
	}
	in.stack.Add(uid)
	defer in.stack.Remove(uid)
	return in.walk(slices.Concat(f.Tasks, f.Errors))
}
