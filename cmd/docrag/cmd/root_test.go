package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRoot_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "docrag")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "ingest")
	assert.Contains(t, out, "search")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docrag "+version.Version)
}

func TestIngest_RequiresInput(t *testing.T) {
	_, err := execute(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one path")
}

func TestIngest_WatchRequiresSingleDir(t *testing.T) {
	_, err := execute(t, "ingest", "--watch", "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one directory")
}

func TestSearch_RequiresQuery(t *testing.T) {
	_, err := execute(t, "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("short", 10))
	assert.Equal(t, "a b c", snippet("a\n b\t\tc", 10))
	assert.Equal(t, "abcde...", snippet("abcdefghij", 5))
}
