package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/application/service"
	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/report"
	"github.com/garyjia/employee-lifecycle/pkg/utils"
)

var (
	hrAdmin = entity.Actor{ID: "hr-1", Role: entity.RoleHRAdmin}
	manager = entity.Actor{ID: "mgr-1", Role: entity.RoleManager}
	tech    = entity.Actor{ID: "tech-1", Role: entity.RoleTechSupport}
	finance = entity.Actor{ID: "fin-1", Role: entity.RoleFinance}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Cycle   []string        `json:"cycle"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	gate := policy.NewGate()
	audit := service.NewAuditRecorder(repos.Audit, nil)

	return NewServer(DefaultServerConfig(), Services{
		Engine:    workflow.NewEngine(repos, store, gate, audit),
		Templates: service.NewTemplateService(repos.Templates, store, gate, audit, nil),
		Employees: service.NewEmployeeService(repos.Employees, store, gate, audit, nil),
		Queries:   service.NewQueryService(repos, gate, audit),
		Reports:   report.NewWorkbookWriter(zap.NewNop()),
	}, utils.NewKVLogger(zap.NewNop()))
}

func do(t *testing.T, s *Server, method, path string, actor *entity.Actor, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(HeaderActorID, actor.ID)
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

var onboardingSteps = []map[string]interface{}{
	{"key": "provision", "title": "Provision laptop", "task_type": "CHECKLIST", "assign_to": "tech-1"},
	{"key": "approve", "title": "Manager approval", "task_type": "APPROVAL", "assign_to": "mgr-1",
		"depends_on": []map[string]string{{"key": "provision"}}},
	{"key": "payroll", "title": "Payroll setup", "task_type": "FORM_COMPLETION", "assign_to": "fin-1",
		"depends_on": []map[string]string{{"key": "approve"}}},
}

// seed creates an employee and an active onboarding template, then instantiates it
func seed(t *testing.T, s *Server) (string, map[string]string) {
	t.Helper()

	w := do(t, s, http.MethodPost, "/api/v1/employees", &hrAdmin, map[string]interface{}{
		"first_name": "Ada", "last_name": "Lovelace", "email": "Ada@Example.com",
		"job_role": "Engineer", "manager_id": manager.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var emp entity.Employee
	decode(t, w, &emp)
	assert.Equal(t, "ada@example.com", emp.Email)

	w = do(t, s, http.MethodPost, "/api/v1/templates", &hrAdmin, map[string]interface{}{
		"name": "standard-onboarding", "type": "ONBOARDING", "activate": true, "steps": onboardingSteps,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/api/v1/instances", &hrAdmin, map[string]interface{}{
		"workflow_type": "ONBOARDING", "employee_id": emp.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res InstanceResponse
	decode(t, w, &res)
	require.Len(t, res.Tasks, 3)

	ids := make(map[string]string, len(res.Tasks))
	for _, task := range res.Tasks {
		ids[task.StepKey] = task.ID
	}
	return res.Instance.ID, ids
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	decode(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
}

func TestRequireActor(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/tasks", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOnboardingFlow(t *testing.T) {
	s := newTestServer(t)
	instanceID, tasks := seed(t, s)

	t.Run("finance may not complete an approval assigned elsewhere", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/tasks/"+tasks["approve"]+"/complete", &finance, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "UNAUTHORIZED", decode(t, w, nil).Code)
	})

	t.Run("blocked task is not yet possible", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/tasks/"+tasks["payroll"]+"/complete", &finance, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "NOT_ELIGIBLE", decode(t, w, nil).Code)
	})

	t.Run("completing provision unlocks approval", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/tasks/"+tasks["provision"]+"/complete", &tech, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res TaskResponse
		decode(t, w, &res)
		assert.Equal(t, []string{tasks["approve"]}, res.Unlocked)
		assert.Equal(t, entity.InstanceStatusInProgress, res.Instance.Status)
	})

	t.Run("chain completes the instance", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/tasks/"+tasks["approve"]+"/complete", &manager, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = do(t, s, http.MethodPost, "/api/v1/tasks/"+tasks["payroll"]+"/complete", &finance, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res TaskResponse
		decode(t, w, &res)
		assert.True(t, res.InstanceCompleted)
		assert.Equal(t, entity.InstanceStatusCompleted, res.Instance.Status)
	})

	t.Run("completing again is a no-op", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/tasks/"+tasks["payroll"]+"/complete", &finance, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var res TaskResponse
		decode(t, w, &res)
		assert.True(t, res.NoOp)
		assert.False(t, res.InstanceCompleted)
	})

	t.Run("progress", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/instances/"+instanceID, &manager, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var p ProgressResponse
		decode(t, w, &p)
		assert.Equal(t, 3, p.Completed)
		assert.Equal(t, float64(100), p.Percent)
	})

	t.Run("instance audit trail", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/audit/entities/WORKFLOW_INSTANCE/"+instanceID, &manager, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var recs []*entity.AuditLog
		decode(t, w, &recs)
		require.NotEmpty(t, recs)
		assert.Equal(t, entity.AuditActionCreated, recs[0].Action)
	})

	t.Run("tech sees only their own task list", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/tasks", &tech, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var mine []*entity.Task
		decode(t, w, &mine)
		require.Len(t, mine, 1)
		assert.Equal(t, tasks["provision"], mine[0].ID)

		w = do(t, s, http.MethodGet, "/api/v1/tasks?assignee=fin-1", &tech, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("report", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/instances/"+instanceID+"/report", &hrAdmin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))

		f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		status, _ := f.GetCellValue(report.SheetSummary, "B4")
		assert.Equal(t, "COMPLETED", status)
	})
}

func TestCancelFreezesTasks(t *testing.T) {
	s := newTestServer(t)
	instanceID, tasks := seed(t, s)

	w := do(t, s, http.MethodPost, "/api/v1/instances/"+instanceID+"/cancel", &manager, map[string]string{"reason": "offer withdrawn"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/api/v1/tasks/"+tasks["provision"]+"/complete", &tech, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE", decode(t, w, nil).Code)

	w = do(t, s, http.MethodPost, "/api/v1/instances/"+instanceID+"/cancel", &manager, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	t.Run("cycle is unprocessable and names the path", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/templates", &hrAdmin, map[string]interface{}{
			"name": "loop", "type": "ONBOARDING",
			"steps": []map[string]interface{}{
				{"key": "a", "title": "A", "task_type": "CHECKLIST", "depends_on": []map[string]string{{"key": "b"}}},
				{"key": "b", "title": "B", "task_type": "CHECKLIST", "depends_on": []map[string]string{{"key": "a"}}},
			},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		env := decode(t, w, nil)
		assert.Equal(t, "CYCLE", env.Code)
		assert.NotEmpty(t, env.Cycle)
	})

	t.Run("manager may not manage templates", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/templates", &manager, map[string]interface{}{
			"name": "x", "type": "ONBOARDING", "steps": onboardingSteps,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/tasks/nope/complete", &hrAdmin, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/employees", bytes.NewBufferString("{"))
		req.Header.Set(HeaderActorID, hrAdmin.ID)
		req.Header.Set(HeaderActorRole, string(hrAdmin.Role))
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/audit/actors/hr-1?limit=-1", &hrAdmin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestOverdueTasks(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/employees", &hrAdmin, map[string]interface{}{
		"first_name": "Alan", "last_name": "Turing", "email": "alan@example.com",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var emp entity.Employee
	decode(t, w, &emp)

	w = do(t, s, http.MethodPost, "/api/v1/templates", &hrAdmin, map[string]interface{}{
		"name": "quick-exit", "type": "OFFBOARDING", "activate": true,
		"steps": []map[string]interface{}{
			{"key": "revoke", "title": "Revoke access", "task_type": "CHECKLIST", "assign_to": "tech-1", "due_in_days": 1},
			{"key": "exit", "title": "Exit interview", "task_type": "FORM_COMPLETION", "assign_to": "hr-1"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/api/v1/instances", &hrAdmin, map[string]interface{}{
		"workflow_type": "OFFBOARDING", "employee_id": emp.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	t.Run("nothing is overdue yet", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/tasks?overdue=true", &hrAdmin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var tasks []entity.Task
		decode(t, w, &tasks)
		assert.Empty(t, tasks)
	})

	t.Run("tasks with a due date show up later", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/tasks?overdue=true&before=2999-01-01T00:00:00Z&limit=5", &hrAdmin, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var tasks []entity.Task
		decode(t, w, &tasks)
		require.Len(t, tasks, 1)
		assert.Equal(t, "revoke", tasks[0].StepKey)
	})

	t.Run("specialists may not list overdue tasks", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/tasks?overdue=true", &tech, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("bad query", func(t *testing.T) {
		w := do(t, s, http.MethodGet, "/api/v1/tasks?overdue=true&limit=-2", &hrAdmin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, s, http.MethodGet, "/api/v1/tasks?overdue=true&before=yesterday", &hrAdmin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
