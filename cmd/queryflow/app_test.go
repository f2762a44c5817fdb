package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/deepnoodle-ai/queryflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return &app{cfg: cfg, secrets: &config.Secrets{}, logger: queryflow.NewDiscardLogger()}
}

func TestBuildCheckpointer(t *testing.T) {
	ctx := context.Background()

	cp, err := testApp(t, nil).buildCheckpointer(ctx)
	require.NoError(t, err)
	assert.IsType(t, &queryflow.MemoryCheckpointer{}, cp)

	dir := t.TempDir()
	cp, err = testApp(t, func(c *config.Config) {
		c.Checkpoints.Backend = "file"
		c.Checkpoints.Dir = dir
	}).buildCheckpointer(ctx)
	require.NoError(t, err)
	assert.IsType(t, &queryflow.FileCheckpointer{}, cp)

	_, err = testApp(t, func(c *config.Config) { c.Checkpoints.Backend = "postgres" }).buildCheckpointer(ctx)
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestBuildReasoner(t *testing.T) {
	_, err := testApp(t, nil).buildReasoner()
	require.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	script := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(script, []byte("answer:\n  - ok\n"), 0o644))
	r, err := testApp(t, func(c *config.Config) {
		c.Reasoning.Provider = "scripted"
		c.Reasoning.Script = script
	}).buildReasoner()
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestScriptedEngineAsk(t *testing.T) {
	script := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(script, []byte(`detect:
  - '{"decision": "planner_ready", "tables": ["album"], "intent_summary": "Count albums"}'
plan:
  - '{"tables": ["album"], "aggregations": ["COUNT(*)"]}'
sql:
  - SELECT COUNT(*) FROM album
answer:
  - There are albums.
`), 0o644))
	a := testApp(t, func(c *config.Config) {
		c.Reasoning.Provider = "scripted"
		c.Reasoning.Script = script
	})
	require.NoError(t, a.buildEngine(context.Background()))
	defer a.Close()

	result, err := a.engine.Run(context.Background(), "", "How many albums are there?")
	require.NoError(t, err)
	assert.Equal(t, queryflow.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "There are albums.", result.State.Answer)
	assert.Equal(t, "SELECT COUNT(*) FROM album LIMIT 10", result.State.SafeSQL)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
