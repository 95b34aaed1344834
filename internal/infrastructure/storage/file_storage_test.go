package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_Save(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())
	ctx := context.Background()

	t.Run("saves file and creates parent directories", func(t *testing.T) {
		err := fs.Save(ctx, filepath.Join("inst-1", "report.xlsx"), []byte("workbook"))
		require.NoError(t, err)

		fullPath := filepath.Join(tempDir, "inst-1", "report.xlsx")
		assert.FileExists(t, fullPath)
		assert.NoFileExists(t, fullPath+".tmp")

		content, err := os.ReadFile(fullPath)
		require.NoError(t, err)
		assert.Equal(t, []byte("workbook"), content)
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "overwrite.xlsx", []byte("original")))
		require.NoError(t, fs.Save(ctx, "overwrite.xlsx", []byte("updated")))

		content, err := fs.Read(ctx, "overwrite.xlsx")
		require.NoError(t, err)
		assert.Equal(t, []byte("updated"), content)
	})

	t.Run("rejects paths outside the base directory", func(t *testing.T) {
		err := fs.Save(ctx, filepath.Join("..", "escape.xlsx"), []byte("x"))
		assert.ErrorContains(t, err, "escapes base directory")

		err = fs.Save(ctx, "", []byte("x"))
		assert.Error(t, err, "the base directory itself is not a file")
	})
}

func TestLocalFileStorage_ExistsAndDelete(t *testing.T) {
	fs := NewLocalFileStorage(t.TempDir(), nil)
	ctx := context.Background()

	assert.False(t, fs.Exists(ctx, "missing.xlsx"))
	_, err := fs.Read(ctx, "missing.xlsx")
	assert.Error(t, err)

	require.NoError(t, fs.Save(ctx, "present.xlsx", []byte("x")))
	assert.True(t, fs.Exists(ctx, "present.xlsx"))

	require.NoError(t, fs.Delete(ctx, "present.xlsx"))
	assert.False(t, fs.Exists(ctx, "present.xlsx"))
	assert.NoError(t, fs.Delete(ctx, "present.xlsx"), "deleting twice is fine")

	assert.False(t, fs.Exists(ctx, filepath.Join("..", "..", "etc", "passwd")))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"3f2a-inst_1", "3f2a-inst_1"},
		{"../../etc/passwd", "etcpasswd"},
		{`a\b`, "ab"},
		{"report v2.xlsx", "reportv2.xlsx"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}
