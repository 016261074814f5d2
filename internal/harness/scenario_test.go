package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One save"
entity:
  character:
    fields:
      name: Id
steps:
  - save: {name: gandalf}
`

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "library.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "library", scenario.Name)
	assert.Equal(t, "Incremental keys, author queries and clearing", scenario.Description)
	assert.Len(t, scenario.Steps, 7)
	assert.Len(t, scenario.Assertions, 4)
	assert.Equal(t, OpSaveAll, scenario.Steps[0].Op())
	assert.Equal(t, OpSearch, scenario.Steps[2].Op())
	assert.Equal(t, OpClear, scenario.Steps[5].Op())

	decl := scenario.Declaration()
	require.NotNil(t, decl)
	assert.Equal(t, "book", decl.Name)
	assert.Equal(t, "books", decl.TableName())
	assert.Len(t, decl.Fields, 3)
	assert.Equal(t, "library.yaml", decl.Source)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Defaults(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario), "minimal.yaml")
	require.NoError(t, err)
	assert.Equal(t, "writer", scenario.writerToken())
	assert.Equal(t, "character", scenario.Declaration().TableName())
	assert.Empty(t, scenario.Assertions)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario+"assertion: []\n"), "typo.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	entity := "entity:\n  c:\n    fields:\n      name: Id\n"
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing name", "description: d\n" + entity + "steps: [{count: true}]\n", "name is required"},
		{"missing description", "name: n\n" + entity + "steps: [{count: true}]\n", "description is required"},
		{"missing entity", "name: n\ndescription: d\nsteps: [{count: true}]\n", "entity is required"},
		{"missing steps", "name: n\ndescription: d\n" + entity, "steps list is required"},
		{"no operation", "name: n\ndescription: d\n" + entity + "steps: [{expect: {count: 1}}]\n", "an operation is required"},
		{"two operations", "name: n\ndescription: d\n" + entity + "steps: [{count: true, clear: true}]\n", "only one operation allowed"},
		{
			"two entities",
			"name: n\ndescription: d\nentity:\n  a:\n    fields: {id: Id}\n  b:\n    fields: {id: Id}\nsteps: [{count: true}]\n",
			"exactly one entity",
		},
		{
			"entity without key",
			"name: n\ndescription: d\nentity:\n  a:\n    fields: {tag: Indexed}\nsteps: [{count: true}]\n",
			"IncrementalId",
		},
		{
			"unknown clause op",
			"name: n\ndescription: d\n" + entity + "steps: [{search: {where: [{op: like, field: name, value: x}]}}]\n",
			`unknown op "like"`,
		},
		{
			"clause without field",
			"name: n\ndescription: d\n" + entity + "steps: [{search: {where: [{op: andEqual, value: x}]}}]\n",
			"field is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content), "bad.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_InvalidAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		want      string
	}{
		{"missing type", "{count: 1}", "type is required"},
		{"unknown type", "{type: trace_contains}", "unknown assertion type"},
		{"final_state without key", "{type: final_state, expect: {a: 1}}", "key is required"},
		{"final_state without expect", "{type: final_state, key: gandalf}", "expect or absent is required"},
		{"event_count unknown event", "{type: event_count, event: upsert, count: 1}", `unknown event "upsert"`},
		{"event_order empty", "{type: event_order}", "events list is required"},
		{"event_order unknown event", "{type: event_order, events: [create, moved]}", `unknown event "moved"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := minimalScenario + "assertions:\n  - " + tt.assertion + "\n"
			_, err := ParseScenario([]byte(content), "bad.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStepOps(t *testing.T) {
	assert.Equal(t, []string{OpFind}, Step{Find: 0}.Ops())
	assert.Equal(t, OpDelete, Step{Delete: "gandalf"}.Op())
	assert.Equal(t, "", Step{}.Op())
	assert.Equal(t, "", Step{Count: true, FindAll: true}.Op())
}

func TestLoadScenario_AllTestdataParse(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		t.Run(e.Name(), func(t *testing.T) {
			_, err := LoadScenario(filepath.Join("testdata", "scenarios", e.Name()))
			assert.NoError(t, err)
		})
	}
}
