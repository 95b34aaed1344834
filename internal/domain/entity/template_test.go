package entity

import (
	"strings"
	"testing"
)

func TestParseDefinition_DefaultsDependencyType(t *testing.T) {
	raw := `{"steps":[{"key":"a","task_type":"CHECKLIST"},{"key":"b","task_type":"APPROVAL","depends_on":[{"key":"a"}]}]}`

	def, err := ParseDefinition(raw)
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v", err)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(def.Steps))
	}
	if got := def.Steps[1].DependsOn[0].Type; got != DependencySequential {
		t.Errorf("dependency type = %v, want %v", got, DependencySequential)
	}
	if got := def.Steps[0].Title; got != "a" {
		t.Errorf("default title = %q, want %q", got, "a")
	}
}

func TestParseDefinition_Empty(t *testing.T) {
	def, err := ParseDefinition("")
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v", err)
	}
	if len(def.Steps) != 0 {
		t.Errorf("len(Steps) = %d, want 0", len(def.Steps))
	}
}

func TestTemplateDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []StepDefinition
		wantErr string
	}{
		{
			name:    "no steps",
			steps:   nil,
			wantErr: "no steps",
		},
		{
			name:    "missing key",
			steps:   []StepDefinition{{TaskType: TaskTypeChecklist}},
			wantErr: "has no key",
		},
		{
			name: "duplicate key",
			steps: []StepDefinition{
				{Key: "a", TaskType: TaskTypeChecklist},
				{Key: "a", TaskType: TaskTypeChecklist},
			},
			wantErr: "duplicate",
		},
		{
			name:    "unknown task type",
			steps:   []StepDefinition{{Key: "a", TaskType: "DANCE"}},
			wantErr: "unknown task type",
		},
		{
			name: "unknown dependency",
			steps: []StepDefinition{
				{Key: "a", TaskType: TaskTypeChecklist, DependsOn: []StepDependency{{Key: "zzz", Type: DependencySequential}}},
			},
			wantErr: "unknown step",
		},
		{
			name: "valid",
			steps: []StepDefinition{
				{Key: "provision", TaskType: TaskTypeChecklist},
				{Key: "approve", TaskType: TaskTypeApproval, DependsOn: []StepDependency{{Key: "provision", Type: DependencySequential}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &TemplateDefinition{Steps: tt.steps}
			err := def.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseTemplateFile_YAML(t *testing.T) {
	data := []byte(`
name: Engineering onboarding
type: ONBOARDING
steps:
  - key: laptop
    title: Provision laptop
    task_type: CHECKLIST
  - key: signoff
    title: Manager sign-off
    task_type: APPROVAL
    depends_on:
      - key: laptop
      - key: badge
        type: PARALLEL
  - key: badge
    task_type: FORM_COMPLETION
`)

	tf, err := ParseTemplateFile(data)
	if err != nil {
		t.Fatalf("ParseTemplateFile() error = %v", err)
	}
	if tf.Type != WorkflowTypeOnboarding {
		t.Errorf("Type = %v, want %v", tf.Type, WorkflowTypeOnboarding)
	}
	if len(tf.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(tf.Steps))
	}
	deps := tf.Steps[1].DependsOn
	if deps[0].Type != DependencySequential || deps[1].Type != DependencyParallel {
		t.Errorf("dependency types = %v/%v", deps[0].Type, deps[1].Type)
	}

	def := TemplateDefinition{Steps: tf.Steps}
	if err := def.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	encoded, err := def.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(encoded, `"steps"`) {
		t.Errorf("Encode() = %s, want steps key", encoded)
	}
}
