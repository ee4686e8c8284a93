package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const annotated = `package api

// @Title: Get Status Log
// @Route: GET /api/log?limit=...&since=...
// @Description: Status feed entries, oldest first.
// @Response: {"messages": [...]}
func HandleLog() {}

// @Title: Mine Block
// @Route: POST /api/admin/mine
// @Response: {"message": "...", "block": {...}}
func HandleMine() {}

// @Title: Incomplete
// @Response: ignored without a route
func HandleBroken() {}
`

func TestParseEndpoints(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handlers.go"), []byte(annotated), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handlers_test.go"), []byte(annotated), 0o644))

	endpoints, err := parseEndpoints(dir)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)

	assert.Equal(t, "POST", endpoints[0].Method())
	assert.Equal(t, "/api/admin/mine", endpoints[0].Path())
	assert.Empty(t, endpoints[0].Description)

	assert.Equal(t, "/api/log", endpoints[1].Path())
	assert.Equal(t, "limit=...&since=...", endpoints[1].Query())
}

func TestWriteAsciiDoc(t *testing.T) {
	var b strings.Builder
	err := writeAsciiDoc(&b, []Endpoint{{
		Title:       "Get Health",
		Route:       "GET /api/health",
		Description: "Liveness of the dashboard process.",
		Response:    `{"status": "ok"}`,
	}})
	require.NoError(t, err)

	doc := b.String()
	assert.True(t, strings.HasPrefix(doc, "= API Reference\n"))
	assert.Contains(t, doc, "|GET |`/api/health` |Get Health")
	assert.Contains(t, doc, "== Get Health")
	assert.Contains(t, doc, "Response:: `{\"status\": \"ok\"}`")
}

func TestParseRealHandlers(t *testing.T) {
	endpoints, err := parseEndpoints(filepath.Join("..", "..", "internal", "api"))
	require.NoError(t, err)

	routes := make(map[string]bool)
	for _, ep := range endpoints {
		routes[ep.Method()+" "+ep.Path()] = true
	}
	for _, want := range []string{"GET /api/health", "POST /api/donations", "POST /api/admin/consensus", "GET /api/log"} {
		assert.True(t, routes[want], "missing %s", want)
	}
}
