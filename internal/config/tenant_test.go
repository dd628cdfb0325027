package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMerge_NestedOverrideKeepsOmittedFields(t *testing.T) {
	global := map[string]any{
		"kb": map[string]any{
			"timeoutMs":   float64(5000),
			"maxArticles": float64(3),
		},
		"llm": map[string]any{
			"model": "claude-3-5-haiku-latest",
		},
	}
	tenant := map[string]any{
		"kb": map[string]any{
			"maxArticles": float64(5),
		},
	}

	merged := DeepMerge(global, tenant)

	kb, ok := merged["kb"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, float64(5000), kb["timeoutMs"], "omitted field keeps the base value")
	assert.Equal(t, float64(5), kb["maxArticles"], "present field takes the override value")

	llm, ok := merged["llm"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "claude-3-5-haiku-latest", llm["model"], "untouched scope survives the merge")
}

func TestDeepMerge_DoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"a": map[string]any{"x": 1}}
	override := map[string]any{"a": map[string]any{"y": 2}}

	merged := DeepMerge(base, override)
	merged["a"].(map[string]any)["z"] = 3

	_, present := base["a"].(map[string]any)["z"]
	assert.False(t, present, "mutating the merge result must not leak back into base")
}

func TestDeepMerge_ScalarOverrideReplacesWholesale(t *testing.T) {
	base := map[string]any{"feature": map[string]any{"enabled": true}}
	override := map[string]any{"feature": false}

	merged := DeepMerge(base, override)
	assert.Equal(t, false, merged["feature"])
}
