package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStoryCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plans", "future", "gallery", "backlog", "GAL-001", "story.yaml")

	doc, err := FromStoryArtifact(testStory("GAL-001"))
	require.NoError(t, err)

	require.NoError(t, NewWriter(testLogger()).WriteStory(path, doc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "GAL-001")
}

func TestWriteStoryLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "story.yaml")

	doc, err := FromStoryArtifact(testStory("GAL-001"))
	require.NoError(t, err)

	require.NoError(t, NewWriter(testLogger()).WriteStory(path, doc))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "story.yaml", entries[0].Name())
}

func TestWriteStoryIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.yaml")
	writer := NewWriter(testLogger())

	doc, err := FromStoryArtifact(testStory("GAL-001"))
	require.NoError(t, err)

	written, err := writer.WriteStoryIfChanged(path, doc)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = writer.WriteStoryIfChanged(path, doc)
	require.NoError(t, err)
	assert.False(t, written)

	doc.Title = "Changed"

	written, err = writer.WriteStoryIfChanged(path, doc)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestWriteStoryOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.yaml")
	writer := NewWriter(testLogger())

	doc, err := FromStoryArtifact(testStory("GAL-001"))
	require.NoError(t, err)

	require.NoError(t, writer.WriteStory(path, doc))

	doc.Title = "Second version"
	require.NoError(t, writer.WriteStory(path, doc))

	result, err := NewReader(testLogger()).ReadStory(path)
	require.NoError(t, err)
	assert.Equal(t, "Second version", result.Document.Title)
}
