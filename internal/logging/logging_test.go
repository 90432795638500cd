package logging

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestInitWithPathCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "daemon.log")

	logger, err := Init(Options{Path: logPath, Level: "debug"})
	assert.NilError(t, err)
	logger.Info("hello")

	_, statErr := os.Stat(logPath)
	assert.NilError(t, statErr)
}

func TestContainerLogPaths(t *testing.T) {
	containerLog, bootLog := ContainerLogPaths("/var/run/corectl/c1")
	assert.Equal(t, containerLog, "/var/run/corectl/c1/container.log")
	assert.Equal(t, bootLog, "/var/run/corectl/c1/bootlog")
}

func TestOpenContainerLogAppends(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenContainerLog(dir)
	assert.NilError(t, err)
	_, err = f.WriteString("line one\n")
	assert.NilError(t, err)
	assert.NilError(t, f.Close())

	f2, err := OpenContainerLog(dir)
	assert.NilError(t, err)
	_, err = f2.WriteString("line two\n")
	assert.NilError(t, err)
	assert.NilError(t, f2.Close())

	data, err := os.ReadFile(filepath.Join(dir, "container.log"))
	assert.NilError(t, err)
	assert.Equal(t, string(data), "line one\nline two\n")
}
