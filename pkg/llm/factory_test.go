package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientFactory_CreateChatClient(t *testing.T) {
	factory := NewClientFactory(Config{
		Endpoint:  "http://localhost:8080/v1",
		Model:     "test-model",
		APIKey:    "test-key",
		MaxTokens: 1024,
	}, CriticConfig{}, zap.NewNop())

	client, err := factory.CreateChatClient()

	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "test-model", client.GetModel())
	assert.Equal(t, "http://localhost:8080/v1", client.GetEndpoint())
}

func TestClientFactory_CreateChatClient_MissingEndpoint(t *testing.T) {
	factory := NewClientFactory(Config{Model: "test-model"}, CriticConfig{}, zap.NewNop())

	_, err := factory.CreateChatClient()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestClientFactory_CreateEmbeddingClient_SharesEndpoint(t *testing.T) {
	factory := NewClientFactory(Config{
		Endpoint:       "http://localhost:8080/v1",
		Model:          "chat-model",
		EmbeddingModel: "embed-model",
	}, CriticConfig{}, zap.NewNop())

	client, err := factory.CreateEmbeddingClient()

	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "http://localhost:8080/v1", client.GetEndpoint())
}

func TestClientFactory_CreateCriticClients(t *testing.T) {
	factory := NewClientFactory(Config{}, CriticConfig{
		APIKey: "anthropic-key",
		Models: []string{"claude-sonnet-4-20250514", "claude-opus-4-1-20250805"},
	}, zap.NewNop())

	critics, err := factory.CreateCriticClients()

	require.NoError(t, err)
	require.Len(t, critics, 2)
	require.Contains(t, critics, "claude-sonnet-4-20250514")
	assert.Equal(t, "claude-sonnet-4-20250514", critics["claude-sonnet-4-20250514"].GetModel())
}

func TestClientFactory_CreateCriticClients_Empty(t *testing.T) {
	factory := NewClientFactory(Config{}, CriticConfig{APIKey: "key"}, zap.NewNop())

	critics, err := factory.CreateCriticClients()

	require.NoError(t, err)
	assert.Empty(t, critics)
}

func TestClientFactory_CreateCriticClients_MissingKey(t *testing.T) {
	factory := NewClientFactory(Config{}, CriticConfig{
		Models: []string{"claude-sonnet-4-20250514"},
	}, zap.NewNop())

	_, err := factory.CreateCriticClients()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}
