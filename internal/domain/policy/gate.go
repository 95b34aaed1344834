// Package policy decides whether an actor may perform an action on a target.
package policy

import (
	"fmt"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// Action is an operation subject to authorization
type Action string

const (
	ActionInstantiate    Action = "INSTANTIATE"
	ActionStartInstance  Action = "START_INSTANCE"
	ActionCancelInstance Action = "CANCEL_INSTANCE"
	ActionViewInstance   Action = "VIEW_INSTANCE"
	ActionAssignTask     Action = "ASSIGN_TASK"
	ActionStartTask      Action = "START_TASK"
	ActionCompleteTask   Action = "COMPLETE_TASK"
	ActionViewTasks      Action = "VIEW_TASKS"
	ActionViewAudit      Action = "VIEW_AUDIT"
	ActionManageTemplate Action = "MANAGE_TEMPLATE"
	ActionManageEmployee Action = "MANAGE_EMPLOYEE"
)

// Target is what an action is performed on. Fields are optional; rules only
// look at what they need.
type Target struct {
	// Employee is the subject of the workflow instance
	Employee *entity.Employee
	Instance *entity.WorkflowInstance
	Task     *entity.Task
	// OwnerID identifies the actor whose own data is being read (task lists, audit trails)
	OwnerID string
}

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow returns an allowing decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with a reason
func Deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Err converts a deny into an error matching domainwf.ErrUnauthorized
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", domainwf.ErrUnauthorized, d.Reason)
}

// Gate evaluates the role rules
type Gate struct {
	taskCategories map[entity.Role]map[entity.TaskType]bool
}

// Option configures a Gate
type Option func(*Gate)

// WithRoleTaskTypes replaces the task-type category of a role
func WithRoleTaskTypes(role entity.Role, types ...entity.TaskType) Option {
	return func(g *Gate) {
		set := make(map[entity.TaskType]bool, len(types))
		for _, t := range types {
			set[t] = true
		}
		g.taskCategories[role] = set
	}
}

// DefaultTaskCategories is the category of task types each specialist role may act on
func DefaultTaskCategories() map[entity.Role][]entity.TaskType {
	return map[entity.Role][]entity.TaskType{
		entity.RoleTechSupport: {entity.TaskTypeChecklist, entity.TaskTypeFormCompletion},
		entity.RoleFinance:     {entity.TaskTypeFormCompletion, entity.TaskTypeApproval},
	}
}

// NewGate creates a gate with the default categories, overridden by opts
func NewGate(opts ...Option) *Gate {
	g := &Gate{taskCategories: make(map[entity.Role]map[entity.TaskType]bool)}
	for role, types := range DefaultTaskCategories() {
		WithRoleTaskTypes(role, types...)(g)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize maps (actor, action, target) to allow or deny
func (g *Gate) Authorize(actor entity.Actor, action Action, target Target) Decision {
	if actor.ID == "" {
		return Deny("anonymous actor")
	}

	switch actor.Role {
	case entity.RoleHRAdmin, entity.RoleSystemAdmin:
		return Allow()
	case entity.RoleManager:
		return g.authorizeManager(actor, action, target)
	case entity.RoleTechSupport, entity.RoleFinance:
		return g.authorizeSpecialist(actor, action, target)
	default:
		return Deny("unknown role %q", actor.Role)
	}
}

func (g *Gate) authorizeManager(actor entity.Actor, action Action, target Target) Decision {
	if readsOwnData(actor, action, target) {
		return Allow()
	}

	switch action {
	case ActionStartTask, ActionCompleteTask:
		if target.Task != nil && target.Task.AssignedTo == actor.ID {
			return Allow()
		}
		fallthrough
	case ActionInstantiate, ActionStartInstance, ActionCancelInstance, ActionViewInstance,
		ActionAssignTask, ActionViewAudit:
		if target.Employee == nil {
			return Deny("manager %s: target employee unknown", actor.ID)
		}
		if target.Employee.ManagerID != actor.ID {
			return Deny("manager %s does not manage employee %s", actor.ID, target.Employee.ID)
		}
		return Allow()
	default:
		return Deny("role %s may not %s", actor.Role, action)
	}
}

func (g *Gate) authorizeSpecialist(actor entity.Actor, action Action, target Target) Decision {
	if readsOwnData(actor, action, target) {
		return Allow()
	}

	switch action {
	case ActionStartTask, ActionCompleteTask, ActionViewInstance:
		if target.Task == nil {
			return Deny("role %s may only act on tasks", actor.Role)
		}
		if target.Task.AssignedTo != actor.ID {
			return Deny("task %s is not assigned to %s", target.Task.ID, actor.ID)
		}
		if !g.taskCategories[actor.Role][target.Task.TaskType] {
			return Deny("role %s may not act on %s tasks", actor.Role, target.Task.TaskType)
		}
		return Allow()
	default:
		return Deny("role %s may not %s", actor.Role, action)
	}
}

func readsOwnData(actor entity.Actor, action Action, target Target) bool {
	if action != ActionViewTasks && action != ActionViewAudit {
		return false
	}
	return target.OwnerID != "" && target.OwnerID == actor.ID
}
