package llmprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFirstJSONObject_PlainObject(t *testing.T) {
	out, err := ExtractFirstJSONObject(`{"intent":"credit_card_block","confidence":0.91}`)
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"credit_card_block","confidence":0.91}`, out)
}

func TestExtractFirstJSONObject_ToleratesSurroundingProse(t *testing.T) {
	out, err := ExtractFirstJSONObject("Sure, here is the classification:\n{\"intent\":\"billing\",\"confidence\":0.5}\nLet me know if that helps.")
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"billing","confidence":0.5}`, out)
}

func TestExtractFirstJSONObject_HandlesNestedBraces(t *testing.T) {
	out, err := ExtractFirstJSONObject(`prefix {"issue":"x","dispositions":[{"code":"a"}]} suffix`)
	require.NoError(t, err)
	assert.Equal(t, `{"issue":"x","dispositions":[{"code":"a"}]}`, out)
}

func TestExtractFirstJSONObject_NoObjectFound(t *testing.T) {
	_, err := ExtractFirstJSONObject("no json here")
	assert.Error(t, err)
}

func TestExtractFirstJSONObject_BracesInsideString(t *testing.T) {
	out, err := ExtractFirstJSONObject(`{"text":"a { b } c"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"a { b } c"}`, out)
}
