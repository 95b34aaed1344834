package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkflowTemplate is a reusable, versioned task graph.
// Definition holds the serialized step list; it is immutable once the template is active.
type WorkflowTemplate struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        WorkflowType `json:"type"`
	Version     int          `json:"version"`
	Definition  string       `json:"definition"`
	Active      bool         `json:"active"`
	CreatedBy   string       `json:"created_by,omitempty"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TemplateDefinition is the parsed form of WorkflowTemplate.Definition
type TemplateDefinition struct {
	Steps []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition describes one task of a template
type StepDefinition struct {
	Key         string           `json:"key" yaml:"key"`
	Title       string           `json:"title" yaml:"title"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	TaskType    TaskType         `json:"task_type" yaml:"task_type"`
	DueInDays   int              `json:"due_in_days,omitempty" yaml:"due_in_days,omitempty"`
	AssignTo    string           `json:"assign_to,omitempty" yaml:"assign_to,omitempty"`
	DependsOn   []StepDependency `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// StepDependency points at a prerequisite step by key.
// An empty Type means SEQUENTIAL.
type StepDependency struct {
	Key  string         `json:"key" yaml:"key"`
	Type DependencyType `json:"type,omitempty" yaml:"type,omitempty"`
}

// TemplateFile is the on-disk form used by template import
type TemplateFile struct {
	Name  string           `yaml:"name" json:"name"`
	Type  WorkflowType     `yaml:"type" json:"type"`
	Steps []StepDefinition `yaml:"steps" json:"steps"`
}

// ParseDefinition decodes a JSON template definition
func ParseDefinition(raw string) (*TemplateDefinition, error) {
	if raw == "" {
		return &TemplateDefinition{}, nil
	}
	var def TemplateDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, fmt.Errorf("failed to decode template definition: %w", err)
	}
	def.Normalize()
	return &def, nil
}

// ParseTemplateFile decodes a YAML (or JSON, which is valid YAML) template file
func ParseTemplateFile(data []byte) (*TemplateFile, error) {
	var tf TemplateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to decode template file: %w", err)
	}
	def := TemplateDefinition{Steps: tf.Steps}
	def.Normalize()
	tf.Steps = def.Steps
	return &tf, nil
}

// Encode serializes the definition to its stored JSON form
func (d *TemplateDefinition) Encode() (string, error) {
	if d.Steps == nil {
		d.Steps = []StepDefinition{}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode template definition: %w", err)
	}
	return string(b), nil
}

// Validate checks step keys, task types and dependency references.
// Cycle detection is left to the dependency graph.
func (d *TemplateDefinition) Validate() error {
	if len(d.Steps) == 0 {
		return errors.New("template has no steps")
	}

	keys := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.Key == "" {
			return fmt.Errorf("step %d has no key", i)
		}
		if keys[s.Key] {
			return fmt.Errorf("duplicate step key %q", s.Key)
		}
		keys[s.Key] = true
		if !s.TaskType.IsValid() {
			return fmt.Errorf("step %q has unknown task type %q", s.Key, s.TaskType)
		}
		if s.DueInDays < 0 {
			return fmt.Errorf("step %q has negative due_in_days", s.Key)
		}
	}

	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if !keys[dep.Key] {
				return fmt.Errorf("step %q depends on unknown step %q", s.Key, dep.Key)
			}
			if !dep.Type.IsValid() {
				return fmt.Errorf("step %q has unknown dependency type %q", s.Key, dep.Type)
			}
		}
	}

	return nil
}

func (d *TemplateDefinition) Normalize() {
	for i := range d.Steps {
		if d.Steps[i].Title == "" {
			d.Steps[i].Title = d.Steps[i].Key
		}
		for j := range d.Steps[i].DependsOn {
			if d.Steps[i].DependsOn[j].Type == "" {
				d.Steps[i].DependsOn[j].Type = DependencySequential
			}
		}
	}
}
