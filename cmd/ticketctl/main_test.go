package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GATEWAY_GENERAL_URL", "")
	t.Setenv("GATEWAY_SPECIALIST_URL", "")
	t.Setenv("AUTH_CLIENTS", "")

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand_PrintsFinalPayload(t *testing.T) {
	out, err := runCLI(t, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "T12345")
	assert.Contains(t, out, "escalated (score 82)")
	assert.Contains(t, out, "Closed")
	assert.Contains(t, out, "COMPLETE")
	assert.Contains(t, out, "priority_score")
}

func TestRunCommand_JSON(t *testing.T) {
	out, err := runCLI(t, "run", "--json", "--decision-score", "95", "--reply", "Order 98765")
	require.NoError(t, err)

	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, map[string]any{"auto_resolved": true, "score": float64(95)}, state["decision"])
	assert.Equal(t, "Order 98765", state["user_answer"])
	assert.Equal(t, true, state["notifications_sent"])
}

func TestRunCommand_RejectsMissingIdentity(t *testing.T) {
	_, err := runCLI(t, "run", "--email", "")
	assert.ErrorContains(t, err, "email is required")
}

func TestGraphCommand(t *testing.T) {
	out, err := runCLI(t, "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "INTAKE")
	assert.Contains(t, out, "UNDERSTAND")
	assert.Contains(t, out, "yes")

	out, err = runCLI(t, "graph", "--json")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 11)
	assert.Equal(t, "WAIT", rows[4]["stage"])
	assert.Equal(t, true, rows[4]["suspends"])
	assert.Nil(t, rows[10]["next"])
}
