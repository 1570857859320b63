package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertFileContent checks if a file exists and has the expected content
func AssertFileContent(t *testing.T, dir, relativeFilePath, expectedContent string) {
	t.Helper()

	fullPath := filepath.Join(dir, relativeFilePath)
	actualContent, err := os.ReadFile(fullPath)
	assert.NoError(t, err, "Should be able to read file %s", relativeFilePath)
	if err == nil {
		assert.Equal(t, expectedContent, string(actualContent), "Content of file %s should match", relativeFilePath)
	}
}

// WriteToFile writes content to a file at the specified path, creating missing parent directories
func WriteToFile(t *testing.T, filePath, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write to file %s: %v", filePath, err)
	}
}
