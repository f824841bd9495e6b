package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "list", "--ns", "user-1", "--type", "task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestReceiveThenList(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "receive",
		"--db", dir, "--format", "json",
		"--ns", "user-1", "--text", "remind me to water the plants")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.NotEmpty(t, data["message_id"])
	assert.Equal(t, "user-1", data["namespace"])

	out, err = execute(t, "list",
		"--db", dir, "--ns", "user-1", "--type", "message")
	require.NoError(t, err)
	assert.Contains(t, out, "remind me to water the plants")
	assert.Contains(t, out, "[received]")
}

func TestListRejectsUnknownType(t *testing.T) {
	_, err := execute(t, "list", "--db", t.TempDir(), "--ns", "user-1", "--type", "note")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestListEmptyNamespace(t *testing.T) {
	out, err := execute(t, "list", "--db", t.TempDir(), "--ns", "nobody", "--type", "task")
	require.NoError(t, err)
	assert.Contains(t, out, "No entities found.")
}

func TestDLQEmpty(t *testing.T) {
	out, err := execute(t, "dlq", "--db", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "Dead-letter queue is empty.")
}

func TestReplayRejectsBadRange(t *testing.T) {
	_, err := execute(t, "replay",
		"--db", t.TempDir(), "--ns", "user-1", "--target-db", t.TempDir()+"/target.db",
		"--from", "2026-02-01T00:00:00Z", "--to", "2026-01-01T00:00:00Z")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
