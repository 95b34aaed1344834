package policy

import (
	"errors"
	"testing"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

func TestGate_Authorize(t *testing.T) {
	gate := NewGate()

	report := &entity.Employee{ID: "emp-1", ManagerID: "mgr-1"}
	other := &entity.Employee{ID: "emp-2", ManagerID: "mgr-9"}

	laptop := &entity.Task{ID: "t-1", TaskType: entity.TaskTypeChecklist, AssignedTo: "tech-1"}
	approval := &entity.Task{ID: "t-2", TaskType: entity.TaskTypeApproval, AssignedTo: "mgr-1"}
	payroll := &entity.Task{ID: "t-3", TaskType: entity.TaskTypeFormCompletion, AssignedTo: "fin-1"}

	hr := entity.Actor{ID: "hr-1", Role: entity.RoleHRAdmin}
	sys := entity.Actor{ID: "sys-1", Role: entity.RoleSystemAdmin}
	mgr := entity.Actor{ID: "mgr-1", Role: entity.RoleManager}
	tech := entity.Actor{ID: "tech-1", Role: entity.RoleTechSupport}
	fin := entity.Actor{ID: "fin-1", Role: entity.RoleFinance}

	tests := []struct {
		name   string
		actor  entity.Actor
		action Action
		target Target
		want   bool
	}{
		{"hr admin manages templates", hr, ActionManageTemplate, Target{}, true},
		{"hr admin completes any task", hr, ActionCompleteTask, Target{Task: laptop, Employee: other}, true},
		{"system admin cancels any instance", sys, ActionCancelInstance, Target{Employee: other}, true},

		{"manager starts instance of report", mgr, ActionStartInstance, Target{Employee: report}, true},
		{"manager cannot start instance of non-report", mgr, ActionStartInstance, Target{Employee: other}, false},
		{"manager assigns on report's instance", mgr, ActionAssignTask, Target{Employee: report, Task: laptop}, true},
		{"manager completes task assigned to them", mgr, ActionCompleteTask, Target{Employee: other, Task: approval}, true},
		{"manager cannot complete non-report unassigned task", mgr, ActionCompleteTask, Target{Employee: other, Task: laptop}, false},
		{"manager cannot manage templates", mgr, ActionManageTemplate, Target{}, false},
		{"manager without employee context is denied", mgr, ActionCancelInstance, Target{}, false},

		{"tech completes assigned checklist", tech, ActionCompleteTask, Target{Task: laptop}, true},
		{"tech cannot complete unassigned task", tech, ActionCompleteTask, Target{Task: payroll}, false},
		{"tech cannot assign", tech, ActionAssignTask, Target{Task: laptop}, false},
		{"tech cannot cancel instance", tech, ActionCancelInstance, Target{Employee: report}, false},
		{"tech views own tasks", tech, ActionViewTasks, Target{OwnerID: "tech-1"}, true},
		{"tech cannot view others tasks", tech, ActionViewTasks, Target{OwnerID: "fin-1"}, false},

		{"finance completes assigned form", fin, ActionCompleteTask, Target{Task: payroll}, true},
		{"finance cannot complete approval not assigned to them", fin, ActionCompleteTask, Target{Task: approval}, false},
		{"finance views own audit trail", fin, ActionViewAudit, Target{OwnerID: "fin-1"}, true},

		{"unknown role denied", entity.Actor{ID: "x", Role: "INTERN"}, ActionViewTasks, Target{OwnerID: "x"}, false},
		{"anonymous denied", entity.Actor{Role: entity.RoleHRAdmin}, ActionViewInstance, Target{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Authorize(tt.actor, tt.action, tt.target)
			if d.Allowed != tt.want {
				t.Errorf("Authorize() allowed = %v, want %v (reason %q)", d.Allowed, tt.want, d.Reason)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("deny decision should carry a reason")
			}
		})
	}
}

func TestGate_TaskCategory(t *testing.T) {
	fin := entity.Actor{ID: "fin-1", Role: entity.RoleFinance}
	checklist := &entity.Task{ID: "t-1", TaskType: entity.TaskTypeChecklist, AssignedTo: "fin-1"}

	if d := NewGate().Authorize(fin, ActionStartTask, Target{Task: checklist}); d.Allowed {
		t.Error("finance should not act on checklist tasks by default")
	}

	gate := NewGate(WithRoleTaskTypes(entity.RoleFinance, entity.TaskTypeChecklist))
	if d := gate.Authorize(fin, ActionStartTask, Target{Task: checklist}); !d.Allowed {
		t.Errorf("configured category should allow, reason %q", d.Reason)
	}
}

func TestDecision_Err(t *testing.T) {
	if err := Allow().Err(); err != nil {
		t.Errorf("Allow().Err() = %v, want nil", err)
	}

	err := Deny("role %s may not %s", entity.RoleFinance, ActionAssignTask).Err()
	if !errors.Is(err, domainwf.ErrUnauthorized) {
		t.Errorf("Deny().Err() = %v, want ErrUnauthorized", err)
	}
}
