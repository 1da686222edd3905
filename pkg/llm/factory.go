package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// CriticConfig holds configuration for the Anthropic critic panel.
type CriticConfig struct {
	APIKey    string   // Anthropic API key
	Models    []string // One critic client is created per model
	MaxTokens int      // Completion cap per critic call
}

// LLMClientFactory is the interface for creating LLM clients.
// Use this interface for dependency injection and testing.
type LLMClientFactory interface {
	CreateChatClient() (LLMClient, error)
	CreateEmbeddingClient() (LLMClient, error)
	CreateCriticClients() (map[string]Generator, error)
}

// ClientFactory creates the engine's LLM clients from static configuration.
// Chat and embedding calls share one OpenAI-compatible endpoint; critics are
// separate Anthropic models keyed by model name.
type ClientFactory struct {
	chatConfig   Config
	criticConfig CriticConfig
	logger       *zap.Logger
}

// NewClientFactory creates a new factory.
func NewClientFactory(chatConfig Config, criticConfig CriticConfig, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		chatConfig:   chatConfig,
		criticConfig: criticConfig,
		logger:       logger,
	}
}

// CreateChatClient creates the generation client used by the build pipeline
// and optimizer detection.
func (f *ClientFactory) CreateChatClient() (LLMClient, error) {
	client, err := NewClient(&f.chatConfig, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}
	return client, nil
}

// CreateEmbeddingClient creates a client for embedding calls. It shares the
// chat endpoint; the embedding model is picked per call or falls back to the
// configured default.
func (f *ClientFactory) CreateEmbeddingClient() (LLMClient, error) {
	client, err := NewClient(&f.chatConfig, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}

// CreateCriticClients creates one Anthropic client per configured critic
// model, keyed by model name. An empty model list yields an empty panel.
func (f *ClientFactory) CreateCriticClients() (map[string]Generator, error) {
	critics := make(map[string]Generator, len(f.criticConfig.Models))
	for _, model := range f.criticConfig.Models {
		client, err := NewAnthropicClient(f.criticConfig.APIKey, model, f.criticConfig.MaxTokens, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create critic client %s: %w", model, err)
		}
		critics[model] = client
	}
	return critics, nil
}

// Ensure ClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*ClientFactory)(nil)
