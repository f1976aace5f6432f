package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreate_InMemory(t *testing.T) {
	out, err := run(t, "create", "route7.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "created ")
	assert.Contains(t, out, "version 1")
}

func TestList_Empty(t *testing.T) {
	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestGet_UnknownDraft(t *testing.T) {
	_, err := run(t, "get", "no-such-draft")
	assert.Error(t, err)
}

func TestStatus_ReportsOnline(t *testing.T) {
	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "remote store: online")
	assert.Contains(t, out, "queued operations: 0")
}
