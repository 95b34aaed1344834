// Package report renders workflow progress and audit trails as Excel workbooks.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet names
const (
	SheetSummary = "Summary"
	SheetTasks   = "Tasks"
	SheetAudit   = "Audit"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	taskHeader  = []interface{}{"Step", "Title", "Type", "Status", "Assigned To", "Eligible", "Blocked By", "Due", "Completed By", "Completed At"}
	auditHeader = []interface{}{"Seq", "Timestamp", "Entity", "Entity ID", "Action", "Actor", "Role", "Details"}
)

// InstanceReport is everything rendered for one instance
type InstanceReport struct {
	Progress    *workflow.Progress
	Employee    *entity.Employee
	Audit       []*entity.AuditLog
	GeneratedAt time.Time
}

// WorkbookWriter writes InstanceReports as .xlsx
type WorkbookWriter struct {
	logger *zap.Logger
}

// NewWorkbookWriter creates a WorkbookWriter
func NewWorkbookWriter(logger *zap.Logger) *WorkbookWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkbookWriter{logger: logger}
}

// Write renders r into out
func (w *WorkbookWriter) Write(ctx context.Context, out io.Writer, r *InstanceReport) error {
	if r == nil || r.Progress == nil || r.Progress.Instance == nil {
		return fmt.Errorf("report has no instance")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	file := excelize.NewFile()
	defer file.Close()

	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := file.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := w.fillSummary(file, r, bold); err != nil {
		return fmt.Errorf("failed to fill summary: %w", err)
	}
	if err := w.fillTasks(file, r.Progress, bold); err != nil {
		return fmt.Errorf("failed to fill tasks: %w", err)
	}
	if err := w.fillAudit(file, r.Audit, bold); err != nil {
		return fmt.Errorf("failed to fill audit: %w", err)
	}

	if err := file.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	w.logger.Info("Instance report written",
		zap.String("instance_id", r.Progress.Instance.ID),
		zap.Int("task_count", len(r.Progress.Tasks)),
		zap.Int("audit_count", len(r.Audit)))

	return nil
}

// WriteAuditTrail renders a bare audit trail, e.g. everything one actor did
func (w *WorkbookWriter) WriteAuditTrail(ctx context.Context, out io.Writer, records []*entity.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := excelize.NewFile()
	defer file.Close()

	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := file.SetSheetName("Sheet1", SheetAudit); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := w.fillAudit(file, records, bold); err != nil {
		return fmt.Errorf("failed to fill audit: %w", err)
	}
	if err := file.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	w.logger.Info("Audit trail written", zap.Int("audit_count", len(records)))
	return nil
}

func (w *WorkbookWriter) fillSummary(file *excelize.File, r *InstanceReport, bold int) error {
	inst := r.Progress.Instance
	rows := [][]interface{}{
		{"Instance", inst.ID},
		{"Workflow Type", string(inst.WorkflowType)},
		{"Template", fmt.Sprintf("%s v%d", inst.TemplateID, inst.TemplateVersion)},
		{"Status", string(inst.Status)},
		{"Employee", inst.EmployeeID},
		{"Initiated By", inst.InitiatedBy},
		{"Started", formatTime(inst.StartedAt)},
		{"Completed", formatTime(inst.CompletedAt)},
		{"Cancelled", formatTime(inst.CancelledAt)},
		{"Tasks Completed", fmt.Sprintf("%d / %d", r.Progress.Completed, r.Progress.Total)},
		{"Progress", fmt.Sprintf("%.1f%%", r.Progress.Percent())},
	}
	if r.Employee != nil {
		rows = append(rows,
			[]interface{}{"Employee Name", r.Employee.FullName()},
			[]interface{}{"Job Role", r.Employee.JobRole},
			[]interface{}{"Department", r.Employee.Department},
		)
	}
	if !r.GeneratedAt.IsZero() {
		rows = append(rows, []interface{}{"Generated", r.GeneratedAt.UTC().Format(timeLayout)})
	}

	for i, row := range rows {
		if err := setRow(file, SheetSummary, i+1, row); err != nil {
			return err
		}
	}
	if err := file.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return err
	}
	return file.SetColWidth(SheetSummary, "A", "B", 24)
}

func (w *WorkbookWriter) fillTasks(file *excelize.File, p *workflow.Progress, bold int) error {
	if _, err := file.NewSheet(SheetTasks); err != nil {
		return err
	}
	if err := writeHeader(file, SheetTasks, taskHeader, bold); err != nil {
		return err
	}

	eligible := make(map[string]bool, len(p.Eligible))
	for _, id := range p.Eligible {
		eligible[id] = true
	}
	byID := make(map[string]*entity.Task, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}
	blockedBy := make(map[string][]string)
	for _, d := range p.Dependencies {
		if !d.Blocking() {
			continue
		}
		if pre := byID[d.PrerequisiteTaskID]; pre != nil && !pre.IsCompleted() {
			blockedBy[d.TaskID] = append(blockedBy[d.TaskID], pre.StepKey)
		}
	}

	for i, t := range p.Tasks {
		row := []interface{}{
			t.StepKey,
			t.Title,
			string(t.TaskType),
			string(t.Status),
			t.AssignedTo,
			yesNo(eligible[t.ID]),
			strings.Join(blockedBy[t.ID], ", "),
			formatTime(t.DueDate),
			t.CompletedBy,
			formatTime(t.CompletedAt),
		}
		if err := setRow(file, SheetTasks, i+2, row); err != nil {
			return err
		}
	}
	return file.SetColWidth(SheetTasks, "A", "J", 18)
}

func (w *WorkbookWriter) fillAudit(file *excelize.File, records []*entity.AuditLog, bold int) error {
	// NewSheet returns the existing index when the sheet is already there
	if _, err := file.NewSheet(SheetAudit); err != nil {
		return err
	}
	if err := writeHeader(file, SheetAudit, auditHeader, bold); err != nil {
		return err
	}

	for i, rec := range records {
		details := ""
		if len(rec.ChangeDetails) > 0 {
			raw, err := json.Marshal(rec.ChangeDetails)
			if err != nil {
				w.logger.Warn("Failed to encode audit details",
					zap.String("audit_id", rec.ID),
					zap.Error(err))
			} else {
				details = string(raw)
			}
		}
		row := []interface{}{
			rec.Sequence,
			rec.Timestamp.UTC().Format(timeLayout),
			string(rec.EntityType),
			rec.EntityID,
			string(rec.Action),
			rec.ActorID,
			string(rec.ActorRole),
			details,
		}
		if err := setRow(file, SheetAudit, i+2, row); err != nil {
			return err
		}
	}
	if err := file.SetColWidth(SheetAudit, "A", "G", 16); err != nil {
		return err
	}
	return file.SetColWidth(SheetAudit, "H", "H", 60)
}

func writeHeader(file *excelize.File, sheet string, header []interface{}, bold int) error {
	if err := setRow(file, sheet, 1, header); err != nil {
		return err
	}
	return file.SetRowStyle(sheet, 1, 1, bold)
}

func setRow(file *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to set row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
