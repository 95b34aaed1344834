package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ada.lovelace@example.com"))
	assert.NoError(t, ValidateEmail("a+tag@sub.example.org"))
	assert.Error(t, ValidateEmail("ada@"))
	assert.Error(t, ValidateEmail("no-at-sign.example.com"))
	assert.Error(t, ValidateEmail(""))
}

func TestValidateStepKey(t *testing.T) {
	assert.NoError(t, ValidateStepKey("laptop_setup"))
	assert.NoError(t, ValidateStepKey("hr-forms-2"))
	assert.Error(t, ValidateStepKey("Laptop"))
	assert.Error(t, ValidateStepKey("has space"))
	assert.Error(t, ValidateStepKey(""))
}

func TestValidateActorID(t *testing.T) {
	assert.NoError(t, ValidateActorID("hr-1"))
	assert.Error(t, ValidateActorID(""))
	assert.Error(t, ValidateActorID(" hr-1"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Engineering", SanitizeString("Engi\x00neer\x1fing"))
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lifecycle.log")
	logger, err := NewLogger(LoggerConfig{Level: "info", OutputPath: path, Format: "json"})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())
	assert.FileExists(t, path)
}

func TestKVLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	kv := NewKVLogger(zap.New(core))

	kv.Info("Task completed", "task_id", "t-1")
	kv.Error("Failed to complete task", "task_id", "t-2")

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "Task completed", entries[0].Message)
	assert.Equal(t, "t-1", entries[0].ContextMap()["task_id"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)

	NewKVLogger(nil).Info("discarded")
}
