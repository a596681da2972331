package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergedHeadersRunLevelWins(t *testing.T) {
	spec := ModelSpec{
		ModelID: "gpt-4o",
		Headers: map[string]string{
			"X-Trace":   "model",
			"X-Feature": "beta",
		},
	}

	merged := spec.MergedHeaders(map[string]string{
		"X-Trace": "run",
		"X-Run":   "r-1",
	})

	assert.Equal(t, "run", merged["X-Trace"])
	assert.Equal(t, "beta", merged["X-Feature"])
	assert.Equal(t, "r-1", merged["X-Run"])
}

func TestMergedHeadersEmpty(t *testing.T) {
	assert.Nil(t, ModelSpec{}.MergedHeaders(nil))
}

func TestMergedOptionsRunLevelWins(t *testing.T) {
	spec := ModelSpec{
		ProviderOptions: map[string]any{
			"reasoning_effort": "low",
			"seed":             42,
		},
	}

	merged := spec.MergedOptions(map[string]any{"reasoning_effort": "high"})

	assert.Equal(t, "high", merged["reasoning_effort"])
	assert.Equal(t, 42, merged["seed"])
}
