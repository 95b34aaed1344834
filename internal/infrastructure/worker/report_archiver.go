package worker

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/event"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/report"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/storage"
)

// ReportArchiver writes a final workbook for every instance that completes
// or is cancelled
type ReportArchiver struct {
	collector *report.Collector
	writer    *report.WorkbookWriter
	files     port.FileStorage
	logger    *zap.Logger
}

// NewReportArchiver creates a new report archiver
func NewReportArchiver(collector *report.Collector, writer *report.WorkbookWriter, files port.FileStorage, logger *zap.Logger) *ReportArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportArchiver{
		collector: collector,
		writer:    writer,
		files:     files,
		logger:    logger,
	}
}

// Subscribe registers the archiver for terminal instance events
func (a *ReportArchiver) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeInstanceCompleted, "report_archiver", a.Handle)
	d.SubscribeNamed(event.TypeInstanceCancelled, "report_archiver", a.Handle)
}

// ArchivePath returns where the workbook of an instance in a terminal status is kept
func ArchivePath(instanceID string, status entity.InstanceStatus) string {
	return path.Join(storage.SanitizeName(instanceID), "report-"+strings.ToLower(string(status))+".xlsx")
}

// Handle renders and stores the workbook for the event's instance
func (a *ReportArchiver) Handle(ctx context.Context, evt *event.Event) error {
	r, err := a.collector.Collect(ctx, entity.SystemActor, evt.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to collect report for %s: %w", evt.InstanceID, err)
	}
	if !r.Progress.Instance.Status.IsTerminal() {
		return fmt.Errorf("instance %s is %s, not terminal", evt.InstanceID, r.Progress.Instance.Status)
	}

	var buf bytes.Buffer
	if err := a.writer.Write(ctx, &buf, r); err != nil {
		return fmt.Errorf("failed to render report for %s: %w", evt.InstanceID, err)
	}

	dest := ArchivePath(evt.InstanceID, r.Progress.Instance.Status)
	if err := a.files.Save(ctx, dest, buf.Bytes()); err != nil {
		return err
	}

	a.logger.Info("Instance report archived",
		zap.String("instance_id", evt.InstanceID),
		zap.String("status", string(r.Progress.Instance.Status)),
		zap.String("path", dest),
		zap.Int("size", buf.Len()))
	return nil
}
