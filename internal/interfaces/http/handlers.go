package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/employee-lifecycle/internal/application/service"
	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services  Services
	collector *report.Collector
	logger    Logger
	now       func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	if services.Reports == nil {
		services.Reports = report.NewWorkbookWriter(nil)
	}
	return &Handlers{
		services:  services,
		collector: report.NewCollector(services.Engine, services.Queries, services.Employees),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// CreateTemplateRequest is the body of POST /templates
type CreateTemplateRequest struct {
	Name     string                  `json:"name"`
	Type     entity.WorkflowType     `json:"type"`
	Steps    []entity.StepDefinition `json:"steps"`
	Activate bool                    `json:"activate"`
}

// CreateEmployeeRequest is the body of POST /employees
type CreateEmployeeRequest struct {
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	JobRole    string     `json:"job_role"`
	Department string     `json:"department"`
	StartDate  *time.Time `json:"start_date"`
	ManagerID  string     `json:"manager_id"`
}

// UpdateStatusRequest is the body of PUT /employees/:id/status
type UpdateStatusRequest struct {
	Status entity.EmployeeStatus `json:"status"`
}

// InstantiateRequest is the body of POST /instances.
// Either TemplateID or WorkflowType names the template.
type InstantiateRequest struct {
	TemplateID   string              `json:"template_id"`
	WorkflowType entity.WorkflowType `json:"workflow_type"`
	EmployeeID   string              `json:"employee_id"`
	Assignees    map[string]string   `json:"assignees"`
}

// CancelRequest is the optional body of POST /instances/:id/cancel
type CancelRequest struct {
	Reason string `json:"reason"`
}

// AssignRequest is the body of POST /tasks/:id/assign
type AssignRequest struct {
	Assignee string `json:"assignee"`
}

// InstanceResponse is returned by instance operations
type InstanceResponse struct {
	Instance *entity.WorkflowInstance `json:"instance"`
	Tasks    []*entity.Task           `json:"tasks,omitempty"`
	Audit    []*entity.AuditLog       `json:"audit,omitempty"`
}

// TaskResponse is returned by task operations
type TaskResponse struct {
	Task              *entity.Task             `json:"task"`
	Instance          *entity.WorkflowInstance `json:"instance"`
	Unlocked          []string                 `json:"unlocked,omitempty"`
	InstanceCompleted bool                     `json:"instance_completed"`
	NoOp              bool                     `json:"no_op"`
	Audit             []*entity.AuditLog       `json:"audit,omitempty"`
}

// ProgressResponse is returned by GET /instances/:id
type ProgressResponse struct {
	Instance     *entity.WorkflowInstance `json:"instance"`
	Tasks        []*entity.Task           `json:"tasks"`
	Dependencies []*entity.TaskDependency `json:"dependencies"`
	Eligible     []string                 `json:"eligible"`
	Completed    int                      `json:"completed"`
	Total        int                      `json:"total"`
	Percent      float64                  `json:"percent"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: h.now().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if !h.bind(c, &req) {
		return
	}

	tpl, err := h.services.Templates.Create(c.Request.Context(), service.CreateTemplateInput{
		Name:       req.Name,
		Type:       req.Type,
		Definition: entity.TemplateDefinition{Steps: req.Steps},
		Activate:   req.Activate,
		Actor:      actorFrom(c),
		At:         h.now(),
	})
	if err != nil {
		h.fail(c, "Failed to create template", err)
		return
	}
	h.ok(c, http.StatusCreated, tpl)
}

// ListTemplates handles GET /api/v1/templates?type=
func (h *Handlers) ListTemplates(c *gin.Context) {
	typ := entity.WorkflowType(c.Query("type"))
	if !typ.IsValid() {
		h.fail(c, "Invalid template type", fmt.Errorf("%w: unknown workflow type %q", domainwf.ErrInvalidInput, typ))
		return
	}

	tpls, err := h.services.Templates.ListActive(c.Request.Context(), typ)
	if err != nil {
		h.fail(c, "Failed to list templates", err)
		return
	}
	h.ok(c, http.StatusOK, tpls)
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	tpl, err := h.services.Templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get template", err)
		return
	}
	h.ok(c, http.StatusOK, tpl)
}

// ActivateTemplate handles POST /api/v1/templates/:id/activate
func (h *Handlers) ActivateTemplate(c *gin.Context) {
	tpl, err := h.services.Templates.Activate(c.Request.Context(), actorFrom(c), c.Param("id"), h.now())
	if err != nil {
		h.fail(c, "Failed to activate template", err)
		return
	}
	h.ok(c, http.StatusOK, tpl)
}

// CreateEmployee handles POST /api/v1/employees
func (h *Handlers) CreateEmployee(c *gin.Context) {
	var req CreateEmployeeRequest
	if !h.bind(c, &req) {
		return
	}

	emp, err := h.services.Employees.Create(c.Request.Context(), service.CreateEmployeeInput{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		JobRole:    req.JobRole,
		Department: req.Department,
		StartDate:  req.StartDate,
		ManagerID:  req.ManagerID,
		Actor:      actorFrom(c),
		At:         h.now(),
	})
	if err != nil {
		h.fail(c, "Failed to create employee", err)
		return
	}
	h.ok(c, http.StatusCreated, emp)
}

// ListEmployees handles GET /api/v1/employees?status= or ?email=
func (h *Handlers) ListEmployees(c *gin.Context) {
	ctx := c.Request.Context()

	if email := c.Query("email"); email != "" {
		emp, err := h.services.Employees.FindByEmail(ctx, email)
		if err != nil {
			h.fail(c, "Failed to find employee", err)
			return
		}
		out := []*entity.Employee{}
		if emp != nil {
			out = append(out, emp)
		}
		h.ok(c, http.StatusOK, out)
		return
	}

	status := entity.EmployeeStatus(c.DefaultQuery("status", string(entity.EmployeeStatusActive)))
	if !status.IsValid() {
		h.fail(c, "Invalid employee status", fmt.Errorf("%w: unknown employee status %q", domainwf.ErrInvalidInput, status))
		return
	}
	emps, err := h.services.Employees.ListByStatus(ctx, status)
	if err != nil {
		h.fail(c, "Failed to list employees", err)
		return
	}
	h.ok(c, http.StatusOK, emps)
}

// GetEmployee handles GET /api/v1/employees/:id
func (h *Handlers) GetEmployee(c *gin.Context) {
	emp, err := h.services.Employees.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get employee", err)
		return
	}
	h.ok(c, http.StatusOK, emp)
}

// UpdateEmployeeStatus handles PUT /api/v1/employees/:id/status
func (h *Handlers) UpdateEmployeeStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if !h.bind(c, &req) {
		return
	}

	emp, err := h.services.Employees.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status, h.now())
	if err != nil {
		h.fail(c, "Failed to update employee status", err)
		return
	}
	h.ok(c, http.StatusOK, emp)
}

// ListEmployeeInstances handles GET /api/v1/employees/:id/instances
func (h *Handlers) ListEmployeeInstances(c *gin.Context) {
	insts, err := h.services.Queries.InstancesForEmployee(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to list employee instances", err)
		return
	}
	h.ok(c, http.StatusOK, insts)
}

// Instantiate handles POST /api/v1/instances
func (h *Handlers) Instantiate(c *gin.Context) {
	var req InstantiateRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.services.Engine.Instantiate(c.Request.Context(), workflow.InstantiateCommand{
		TemplateID:   req.TemplateID,
		WorkflowType: req.WorkflowType,
		EmployeeID:   req.EmployeeID,
		Assignees:    req.Assignees,
		Actor:        actorFrom(c),
		At:           h.now(),
	})
	if err != nil {
		h.fail(c, "Failed to instantiate workflow", err)
		return
	}
	h.ok(c, http.StatusCreated, toInstanceResponse(res))
}

// ListInstances handles GET /api/v1/instances?status=
func (h *Handlers) ListInstances(c *gin.Context) {
	status := entity.InstanceStatus(c.DefaultQuery("status", string(entity.InstanceStatusInProgress)))
	insts, err := h.services.Queries.InstancesByStatus(c.Request.Context(), actorFrom(c), status)
	if err != nil {
		h.fail(c, "Failed to list instances", err)
		return
	}
	h.ok(c, http.StatusOK, insts)
}

// GetProgress handles GET /api/v1/instances/:id
func (h *Handlers) GetProgress(c *gin.Context) {
	p, err := h.services.Engine.GetInstanceProgress(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get instance progress", err)
		return
	}
	h.ok(c, http.StatusOK, ProgressResponse{
		Instance:     p.Instance,
		Tasks:        p.Tasks,
		Dependencies: p.Dependencies,
		Eligible:     p.Eligible,
		Completed:    p.Completed,
		Total:        p.Total,
		Percent:      p.Percent(),
	})
}

// StartInstance handles POST /api/v1/instances/:id/start
func (h *Handlers) StartInstance(c *gin.Context) {
	res, err := h.services.Engine.StartInstance(c.Request.Context(), workflow.InstanceCommand{
		InstanceID: c.Param("id"),
		Actor:      actorFrom(c),
		At:         h.now(),
	})
	if err != nil {
		h.fail(c, "Failed to start instance", err)
		return
	}
	h.ok(c, http.StatusOK, toInstanceResponse(res))
}

// CancelInstance handles POST /api/v1/instances/:id/cancel
func (h *Handlers) CancelInstance(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	res, err := h.services.Engine.CancelInstance(c.Request.Context(), workflow.InstanceCommand{
		InstanceID: c.Param("id"),
		Reason:     req.Reason,
		Actor:      actorFrom(c),
		At:         h.now(),
	})
	if err != nil {
		h.fail(c, "Failed to cancel instance", err)
		return
	}
	h.ok(c, http.StatusOK, toInstanceResponse(res))
}

// ListInstanceTasks handles GET /api/v1/instances/:id/tasks
func (h *Handlers) ListInstanceTasks(c *gin.Context) {
	tasks, err := h.services.Queries.TasksForInstance(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to list instance tasks", err)
		return
	}
	h.ok(c, http.StatusOK, tasks)
}

// InstanceReport handles GET /api/v1/instances/:id/report and returns an xlsx workbook
func (h *Handlers) InstanceReport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	r, err := h.collector.Collect(ctx, actorFrom(c), id)
	if err != nil {
		h.fail(c, "Failed to collect instance report", err)
		return
	}

	var buf bytes.Buffer
	if err := h.services.Reports.Write(ctx, &buf, r); err != nil {
		h.fail(c, "Failed to render instance report", err)
		return
	}
	h.attachment(c, fmt.Sprintf("instance-%s.xlsx", id), buf.Bytes())
}

// ListTasks handles GET /api/v1/tasks?assignee=&status= ; assignee defaults to the caller.
// With overdue=true it lists overdue tasks instead (admins only).
func (h *Handlers) ListTasks(c *gin.Context) {
	actor := actorFrom(c)
	if c.Query("overdue") == "true" {
		h.listOverdueTasks(c, actor)
		return
	}
	assignee := c.DefaultQuery("assignee", actor.ID)
	status := entity.TaskStatus(c.Query("status"))

	tasks, err := h.services.Queries.TasksForAssignee(c.Request.Context(), actor, assignee, status)
	if err != nil {
		h.fail(c, "Failed to list tasks", err)
		return
	}
	h.ok(c, http.StatusOK, tasks)
}

func (h *Handlers) listOverdueTasks(c *gin.Context, actor entity.Actor) {
	before := h.now()
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.fail(c, "Invalid before", fmt.Errorf("%w: before must be RFC3339", domainwf.ErrInvalidInput))
			return
		}
		before = t
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(c, "Invalid limit", fmt.Errorf("%w: limit must be a non-negative integer", domainwf.ErrInvalidInput))
			return
		}
		limit = n
	}

	tasks, err := h.services.Queries.OverdueTasks(c.Request.Context(), actor, before, limit)
	if err != nil {
		h.fail(c, "Failed to list overdue tasks", err)
		return
	}
	h.ok(c, http.StatusOK, tasks)
}

// AssignTask handles POST /api/v1/tasks/:id/assign
func (h *Handlers) AssignTask(c *gin.Context) {
	var req AssignRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.services.Engine.AssignTask(c.Request.Context(), workflow.AssignCommand{
		TaskID:   c.Param("id"),
		Assignee: req.Assignee,
		Actor:    actorFrom(c),
		At:       h.now(),
	})
	if err != nil {
		h.fail(c, "Failed to assign task", err)
		return
	}
	h.ok(c, http.StatusOK, toTaskResponse(res))
}

// StartTask handles POST /api/v1/tasks/:id/start
func (h *Handlers) StartTask(c *gin.Context) {
	res, err := h.services.Engine.StartTask(c.Request.Context(), h.taskCommand(c))
	if err != nil {
		h.fail(c, "Failed to start task", err)
		return
	}
	h.ok(c, http.StatusOK, toTaskResponse(res))
}

// CompleteTask handles POST /api/v1/tasks/:id/complete
func (h *Handlers) CompleteTask(c *gin.Context) {
	res, err := h.services.Engine.CompleteTask(c.Request.Context(), h.taskCommand(c))
	if err != nil {
		h.fail(c, "Failed to complete task", err)
		return
	}
	h.ok(c, http.StatusOK, toTaskResponse(res))
}

// ListPrerequisites handles GET /api/v1/tasks/:id/prerequisites
func (h *Handlers) ListPrerequisites(c *gin.Context) {
	deps, err := h.services.Queries.Prerequisites(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to list prerequisites", err)
		return
	}
	h.ok(c, http.StatusOK, deps)
}

// ListDependents handles GET /api/v1/tasks/:id/dependents
func (h *Handlers) ListDependents(c *gin.Context) {
	deps, err := h.services.Queries.Dependents(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to list dependents", err)
		return
	}
	h.ok(c, http.StatusOK, deps)
}

// EntityAudit handles GET /api/v1/audit/entities/:type/:id
func (h *Handlers) EntityAudit(c *gin.Context) {
	typ := entity.EntityType(c.Param("type"))
	recs, err := h.services.Queries.AuditForEntity(c.Request.Context(), actorFrom(c), typ, c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to read entity audit", err)
		return
	}
	h.ok(c, http.StatusOK, recs)
}

// ActorAudit handles GET /api/v1/audit/actors/:id?limit=
func (h *Handlers) ActorAudit(c *gin.Context) {
	recs, ok := h.actorTrail(c)
	if !ok {
		return
	}
	h.ok(c, http.StatusOK, recs)
}

// ActorAuditReport handles GET /api/v1/audit/actors/:id/report and returns an xlsx workbook
func (h *Handlers) ActorAuditReport(c *gin.Context) {
	recs, ok := h.actorTrail(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.services.Reports.WriteAuditTrail(c.Request.Context(), &buf, recs); err != nil {
		h.fail(c, "Failed to render audit report", err)
		return
	}
	h.attachment(c, fmt.Sprintf("audit-%s.xlsx", c.Param("id")), buf.Bytes())
}

func (h *Handlers) actorTrail(c *gin.Context) ([]*entity.AuditLog, bool) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, "Invalid limit", fmt.Errorf("%w: limit must be a positive integer", domainwf.ErrInvalidInput))
			return nil, false
		}
		limit = n
	}

	recs, err := h.services.Queries.AuditForActor(c.Request.Context(), actorFrom(c), c.Param("id"), limit)
	if err != nil {
		h.fail(c, "Failed to read actor audit", err)
		return nil, false
	}
	return recs, true
}

func (h *Handlers) taskCommand(c *gin.Context) workflow.TaskCommand {
	return workflow.TaskCommand{
		TaskID: c.Param("id"),
		Actor:  actorFrom(c),
		At:     h.now(),
	}
}

func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		h.fail(c, "Invalid request body", fmt.Errorf("%w: %v", domainwf.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *Handlers) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, body)
}

func (h *Handlers) attachment(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func toInstanceResponse(res *workflow.InstanceResult) InstanceResponse {
	return InstanceResponse{Instance: res.Instance, Tasks: res.Tasks, Audit: res.Audit}
}

func toTaskResponse(res *workflow.TaskResult) TaskResponse {
	return TaskResponse{
		Task:              res.Task,
		Instance:          res.Instance,
		Unlocked:          res.Unlocked,
		InstanceCompleted: res.InstanceCompleted,
		NoOp:              res.NoOp,
		Audit:             res.Audit,
	}
}
