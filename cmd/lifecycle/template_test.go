package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/employee-lifecycle/internal/domain/graph"
)

const onboardingYAML = `
name: Engineering onboarding
type: ONBOARDING
steps:
  - key: laptop
    title: Provision laptop
    task_type: CHECKLIST
  - key: accounts
    title: Create accounts
    task_type: CHECKLIST
    depends_on:
      - key: laptop
  - key: welcome
    title: Welcome lunch
    task_type: APPROVAL
    depends_on:
      - key: laptop
        type: PARALLEL
`

const cyclicYAML = `
name: Broken
type: OFFBOARDING
steps:
  - key: a
    title: A
    task_type: CHECKLIST
    depends_on: [{key: b}]
  - key: b
    title: B
    task_type: CHECKLIST
    depends_on: [{key: a}]
`

func writeTemplate(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "template.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTemplateValidate(t *testing.T) {
	out, err := runCLI("template", "validate", writeTemplate(t, onboardingYAML))
	require.NoError(t, err)
	assert.Contains(t, out, `ONBOARDING "Engineering onboarding" is valid, 3 step(s)`)
	assert.Contains(t, out, "order: laptop -> ")
}

func TestTemplateValidate_Cycle(t *testing.T) {
	_, err := runCLI("template", "validate", writeTemplate(t, cyclicYAML))
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrCycle)
}

func TestTemplateValidate_BadInput(t *testing.T) {
	_, err := runCLI("template", "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read template file")

	_, err = runCLI("template", "validate", writeTemplate(t, "name: x\ntype: PROMOTION\nsteps: []\n"))
	assert.ErrorContains(t, err, "unknown workflow type")

	_, err = runCLI("template", "validate", writeTemplate(t, "type: ONBOARDING\n"))
	assert.ErrorContains(t, err, "name is required")

	_, err = runCLI("template", "validate")
	assert.Error(t, err)
}

func TestTemplateImport_MemoryDriver(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("database:\n  driver: memory\nlogger:\n  level: error\n  output_path: stderr\n"), 0o600))

	out, err := runCLI("--config", configPath, "template", "import", "--activate", writeTemplate(t, onboardingYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "imported ONBOARDING Engineering onboarding v1")
	assert.Contains(t, out, "active true")
}
