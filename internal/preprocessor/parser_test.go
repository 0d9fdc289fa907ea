package preprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules_ValidJSONList(t *testing.T) {
	validRulesJSON := `[
        {
            "id": "adult",
            "priority": 10,
            "condition": "age >= 18",
            "actions": {"adult": true}
        },
        {
            "id": "senior",
            "condition": {"all": ["adult == true", {"fact": "age", "operator": "greaterThan", "value": 64}]},
            "actions": {"discount": 0.2},
            "triggers": [],
            "tags": ["pricing"]
        }
    ]`
	file, err := ParseRules([]byte(validRulesJSON))
	require.NoError(t, err, "Unexpected error")
	require.Len(t, file.Rules, 2, "Expected two rules")
	assert.Equal(t, "adult", file.Rules[0].ID)
	assert.Equal(t, 10, file.Rules[0].Priority)
	assert.Equal(t, []string{"pricing"}, file.Rules[1].Tags)
	assert.NoError(t, ValidateRules(file.Rules))
}

func TestParseRules_JSONDocument(t *testing.T) {
	doc := `{"name": "pricing", "rules": [{"id": "a", "condition": "true", "actions": {"x": 1}}]}`
	file, err := ParseRules([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "pricing", file.Name)
	assert.Len(t, file.Rules, 1)
}

func TestParseRules_YAML(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want int
	}{
		{
			name: "document with name",
			doc: `
name: pricing
rules:
  - id: a
    condition: x > 5
    actions:
      y: 1
  - id: b
    condition:
      any:
        - y == 1
        - z == 2
    actions:
      w: "{{ y + 1 }}"
`,
			want: 2,
		},
		{
			name: "bare list",
			doc: `
- id: a
  condition: "true"
  actions: {x: 1}
`,
			want: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			file, err := ParseRules([]byte(tc.doc))
			require.NoError(t, err)
			assert.Len(t, file.Rules, tc.want)
			assert.NoError(t, ValidateRules(file.Rules))
		})
	}
}

func TestParseRules_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"empty", "   "},
		{"broken json", `[{"id": "a",}]`},
		{"condition of wrong type", `[{"id": "a", "condition": 5, "actions": {"x": 1}}]`},
		{"broken yaml", "rules: [a: b: c"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tc.doc))
			assert.Error(t, err, "Expected an error, got nil")
		})
	}
}

func TestValidateRules_ReportsAll(t *testing.T) {
	file, err := ParseRules([]byte(`[
        {"id": "no-actions", "condition": "x > 1", "actions": {}},
        {"id": "no-condition", "actions": {"y": 1}},
        {"id": "ok", "condition": "true", "actions": {"z": 1}}
    ]`))
	require.NoError(t, err)

	err = ValidateRules(file.Rules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-actions")
	assert.Contains(t, err.Error(), "no-condition")
	assert.NotContains(t, err.Error(), "'ok'")
}
