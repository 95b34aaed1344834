// Package repository holds the sqlite implementations of the port repositories.
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// NewRepositories builds every sqlite repository over one DB
func NewRepositories(db *sqlite.DB, logger *zap.Logger) port.Repositories {
	return port.Repositories{
		Templates:    NewTemplateRepository(db, logger),
		Employees:    NewEmployeeRepository(db, logger),
		Instances:    NewInstanceRepository(db, logger),
		Tasks:        NewTaskRepository(db, logger),
		Dependencies: NewDependencyRepository(db, logger),
		Audit:        NewAuditRepository(db, logger),
	}
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return string(data), nil
}
