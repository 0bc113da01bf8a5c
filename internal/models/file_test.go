package models_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvasile/fileward/internal/models"
)

func TestStatRecordReadsDistinctTimes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	modified := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	accessed := modified.Add(6 * time.Hour)
	require.NoError(t, os.Chtimes(path, accessed, modified))

	rec, err := models.StatRecord(path)
	require.NoError(t, err)

	assert.Equal(t, path, rec.Path)
	assert.Equal(t, int64(len("content")), rec.Size)
	assert.WithinDuration(t, modified, rec.ModifiedTime, time.Second)
	assert.WithinDuration(t, accessed, rec.AccessedTime, time.Second)
	assert.False(t, rec.AccessedTime.Equal(rec.ModifiedTime))
}
