package ai

import (
	"testing"

	jetapi "go.jetify.com/ai/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{Provider: ProviderOpenAI})
	assert.Error(t, err)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "oracle", APIKey: "k"})
	assert.Error(t, err)
}

func TestNewProviders(t *testing.T) {
	c, err := New(Config{Provider: "Anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, c.Name())

	c, err = New(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, c.Name())
	assert.Equal(t, defaultMaxTokens, c.maxTokens)
}

func TestBuildMessagesSkipsEmptySystem(t *testing.T) {
	assert.Len(t, buildMessages("", "hello"), 1)
	assert.Len(t, buildMessages("be kind", "hello"), 2)
}

func TestExtractText(t *testing.T) {
	_, err := extractText(nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = extractText(&jetapi.Response{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNormalizeOpenAIBaseURL(t *testing.T) {
	assert.Equal(t, "", normalizeOpenAIBaseURL(""))
	assert.Equal(t, "https://proxy.example.com/v1", normalizeOpenAIBaseURL("https://proxy.example.com"))
	assert.Equal(t, "https://proxy.example.com/v1", normalizeOpenAIBaseURL("https://proxy.example.com/v1/"))
}
