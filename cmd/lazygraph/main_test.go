package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun(t *testing.T) {
	t.Run("missing command", func(t *testing.T) {
		assert.Error(t, run(nil))
	})

	t.Run("unknown command", func(t *testing.T) {
		err := run([]string{"bogus"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bogus")
	})

	t.Run("help", func(t *testing.T) {
		assert.NoError(t, run([]string{"help"}))
		assert.NoError(t, run([]string{"help", "serve"}))
		assert.Error(t, run([]string{"help", "bogus"}))
	})
}

func TestCompile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid schema", func(t *testing.T) {
		schema := writeFile(t, dir, "ok.json", `{
			"type": "object",
			"properties": {
				"a": {"type": "number"},
				"twice": {"type": "number", "rule": "${a} * 2.0"}
			}
		}`)
		assert.NoError(t, run([]string{"compile", "-schema", schema}))
	})

	t.Run("unbindable rule fails", func(t *testing.T) {
		schema := writeFile(t, dir, "bad.json", `{
			"type": "object",
			"properties": {
				"a": {"type": "number", "rule": "${nope}"}
			}
		}`)
		err := run([]string{"compile", "-schema", schema})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("yaml schema", func(t *testing.T) {
		schema := writeFile(t, dir, "ok.yaml", "type: object\nproperties:\n  a:\n    type: number\n")
		assert.NoError(t, run([]string{"compile", "-schema", schema}))
	})

	t.Run("missing flag", func(t *testing.T) {
		assert.Error(t, run([]string{"compile"}))
	})
}

func TestQueryCommand(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.json", `{
		"type": "object",
		"properties": {
			"a": {"type": "number"},
			"twice": {"type": "number", "rule": "${a} * 2.0"}
		}
	}`)
	input := writeFile(t, dir, "input.json", `{"a": 3}`)

	assert.NoError(t, run([]string{"query", "-schema", schema, "-input", input, "-path", "twice"}))
	assert.NoError(t, run([]string{"query", "-schema", schema, "-input", input, "-strip"}))
}
