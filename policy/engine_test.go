package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)
	return engine
}

func TestDefaultPolicy(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("Allow Ordinary Prompt", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, Input{Action: "start", Prompt: "build a todo app", Limits: Limits{MaxPromptLength: 100}})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Empty(t, d.Reasons)
	})

	t.Run("Deny Blank Prompt", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, Input{Action: "start", Prompt: "   "})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, []string{"prompt is empty"}, d.Reasons)
	})

	t.Run("Deny Long Prompt", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, Input{Action: "restart", Prompt: strings.Repeat("a", 11), Limits: Limits{MaxPromptLength: 10}})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, []string{"prompt exceeds 10 characters"}, d.Reasons)
	})

	t.Run("Zero Limit Disables Length Check", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, Input{Action: "start", Prompt: strings.Repeat("a", 5000)})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("Deny Reserved Marker", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, Input{Action: "start", Prompt: "done <INFO> finished", Limits: Limits{MaxPromptLength: 100}})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Len(t, d.Reasons, 1)
	})
}

func TestNewEngineInvalidModule(t *testing.T) {
	_, err := NewEngine(context.Background(), "package run_policy\n deny contains {")
	assert.Error(t, err)
}

func TestNewEngineFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.rego")
	content := `
package run_policy

import rego.v1

deny contains "org is suspended" if {
	input.org == "suspended"
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	engine, err := NewEngineFromFile(context.Background(), path)
	require.NoError(t, err)

	d, err := engine.Evaluate(context.Background(), Input{Prompt: "x", Org: "suspended"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = engine.Evaluate(context.Background(), Input{Prompt: "x", Org: "acme"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestNewEngineFromFileMissing(t *testing.T) {
	_, err := NewEngineFromFile(context.Background(), filepath.Join(t.TempDir(), "nope.rego"))
	assert.Error(t, err)
}

func TestNewEngineFromFileDefault(t *testing.T) {
	engine, err := NewEngineFromFile(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, engine)
}
