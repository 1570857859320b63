package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveKubeconfigPath(t *testing.T) {
	path, err := ResolveKubeconfigPath("/tmp/explicit")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/explicit", path)

	t.Setenv("KUBECONFIG", "/tmp/from-env")
	path, err = ResolveKubeconfigPath("")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/from-env", path)

	home := t.TempDir()
	t.Setenv("KUBECONFIG", "")
	t.Setenv("HOME", home)
	path, err = ResolveKubeconfigPath("")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".kube", "config"), path)
}

func TestTempDir(t *testing.T) {
	dir, err := CreateTempDir()
	assert.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Contains(t, filepath.Base(dir), TempDirPrefix)

	assert.NoError(t, DeleteTempDir(dir))
	assert.NoDirExists(t, dir)
}
