package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter_Dir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	w := FileWriter{Dir: dir}

	got, err := w.Write(context.Background(), FileName("mon_1"), []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "monitoring_mon_1.json"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestFileWriter_ExactPath(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.json")
	got, err := FileWriter{Path: target}.Write(context.Background(), "ignored.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestFileWriter_NameCannotEscape(t *testing.T) {
	dir := t.TempDir()
	got, err := FileWriter{Dir: dir}.Write(context.Background(), "../../etc/x.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.json"), got)
}

func TestFileWriter_RequiresTarget(t *testing.T) {
	_, err := FileWriter{}.Write(context.Background(), "x.json", nil)
	assert.Error(t, err)
}

func TestGCSObjectName(t *testing.T) {
	w := &GCSWriter{bucket: "b", prefix: "pipewatch/runs"}
	assert.Equal(t, "pipewatch/runs/monitoring_mon_1.json", w.ObjectName(FileName("mon_1")))

	w.prefix = ""
	assert.Equal(t, "monitoring_mon_1.json", w.ObjectName(FileName("mon_1")))
}
