package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerwatch.mini/lwm/internal/devnode"
)

func startDevnode(t *testing.T) string {
	t.Helper()
	store, err := devnode.OpenStore(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	n, err := devnode.New(context.Background(), store, devnode.Options{Difficulty: 1})
	require.NoError(t, err)
	srv := httptest.NewServer(devnode.Handler(n))
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCLI(t *testing.T, nodes []string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LWM_CONFIG", "")
	t.Setenv("LWM_NODES", "")
	var out bytes.Buffer
	full := append([]string{"-nodes", strings.Join(nodes, ",")}, args...)
	err := run(context.Background(), full, &out)
	return out.String(), err
}

func TestCommandsAgainstDevnodes(t *testing.T) {
	nodes := []string{startDevnode(t), startDevnode(t)}

	out, err := runCLI(t, nodes, "orgs")
	require.NoError(t, err)
	assert.Contains(t, out, "WWF")
	assert.Contains(t, out, "Rotes Kreuz")

	out, err = runCLI(t, nodes, "sync")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "✅"), out)

	out, err = runCLI(t, nodes, "mine")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to mine")

	out, err = runCLI(t, nodes, "donate", "UNICEF", "25", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Transaction added")

	out, err = runCLI(t, nodes, "mine")
	require.NoError(t, err)
	assert.Contains(t, out, "block 1 with 1 transaction(s)")

	out, err = runCLI(t, nodes, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "25.00")
	assert.Contains(t, out, "chain valid:   true")

	out, err = runCLI(t, nodes, "recent")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")

	out, err = runCLI(t, nodes, "chain")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "1 "), "newest block first: %q", lines[1])

	out, err = runCLI(t, nodes, "health")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "online"), out)

	_, err = runCLI(t, nodes, "consensus")
	require.NoError(t, err)
}

func TestDonateValidatesArguments(t *testing.T) {
	nodes := []string{startDevnode(t)}

	_, err := runCLI(t, nodes, "donate", "WWF")
	assert.Error(t, err)

	_, err = runCLI(t, nodes, "donate", "WWF", "-5")
	assert.ErrorContains(t, err, "positive")
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCLI(t, []string{"http://127.0.0.1:1"}, "frobnicate")
	assert.ErrorContains(t, err, "unknown command")
}

func TestHealthFailsWhenAllNodesDown(t *testing.T) {
	out, err := runCLI(t, []string{"http://127.0.0.1:1"}, "-timeout", "200ms", "health")
	assert.Error(t, err)
	assert.Contains(t, out, "offline")
}
