package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/cascade/pkg/api"
)

const greetFlow = `
id: greet
namespace: io.test
inputs:
  - name: who
    default: world
tasks:
  - id: hello
    type: return
    format: "hello {{ inputs.who }}"
`

const templatedFlow = `
id: templated
namespace: io.test
tasks:
  - id: use
    type: template
    namespace: io.templates
    templateId: greeting
`

const templateFlow = `
id: greeting
namespace: io.templates
tasks:
  - id: greet
    type: return
    format: "hi"
`

const failFlow = `
id: broken
namespace: io.test
tasks:
  - id: boom
    type: fail
    errorMessage: nope
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out, io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunPrintsExecution(t *testing.T) {
	p := writeFile(t, t.TempDir(), "greet.yaml", greetFlow)

	out, err := execute(t, "run", "--input", "who=ada", p)
	require.NoError(t, err)

	var e api.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, api.StateSuccess, e.State.Current)
	assert.Equal(t, "ada", e.Inputs["who"])
	require.Len(t, e.TaskRunList, 1)
	assert.Equal(t, map[string]any{"value": "hello ada"},
		e.TaskRunList[0].Outputs,
	)
}

func TestRunFailedExecution(t *testing.T) {
	p := writeFile(t, t.TempDir(), "broken.yaml", failFlow)

	out, err := execute(t, "run", p)
	assert.ErrorIs(t, err, ErrExecutionFailed)

	var e api.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, api.StateFailed, e.State.Current)
}

func TestRunWithFlowsDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greeting.yaml", templateFlow)
	p := writeFile(t, dir, "templated.yaml", templatedFlow)

	out, err := execute(t, "run", "--flows", dir, p)
	require.NoError(t, err)

	var e api.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, api.StateSuccess, e.State.Current)
	assert.Len(t, e.TaskRunList, 2)
}

func TestRunBadInput(t *testing.T) {
	p := writeFile(t, t.TempDir(), "greet.yaml", greetFlow)

	_, err := execute(t, "run", "--input", "novalue", p)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunMissingFile(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", greetFlow)
	bad := writeFile(t, dir, "bad.yaml", "id: bad\nnamespace: io.test\n")

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "OK   "+good+" (io.test.greet)")

	out, err = execute(t, "validate", good, bad)
	assert.ErrorIs(t, err, ErrInvalidFlows)
	assert.Contains(t, out, "FAIL "+bad)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "chatty", "validate", "x.yaml")
	assert.Error(t, err)
}

func TestParseInputs(t *testing.T) {
	res, err := parseInputs([]string{
		"name=ada", "count=3", "enabled=true", "empty=", "eq=a=b",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":    "ada",
		"count":   3,
		"enabled": true,
		"empty":   "",
		"eq":      "a=b",
	}, res)

	_, err = parseInputs([]string{"=x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
