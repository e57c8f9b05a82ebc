package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// Azure selects Azure OpenAI; BaseURL is then the resource endpoint and
	// Model the deployment name.
	Azure      bool
	BaseURL    string // empty means api.openai.com
	APIKey     config.Secret
	APIVersion string // Azure only
	Model      string
	// Dimension requests shortened vectors from text-embedding-3 models.
	Dimension int
}

// OpenAIProvider embeds text with the OpenAI embeddings API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	request   int // value sent in EmbeddingRequest.Dimensions, 0 to omit
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider for OpenAI or Azure OpenAI.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}

	var clientCfg openai.ClientConfig
	if cfg.Azure {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: azure endpoint required", ErrInvalidConfig)
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey.Value(), cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey.Value())
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}

	native := DetectDimension(cfg.Model)
	p := &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: native,
	}
	if cfg.Dimension > 0 && cfg.Dimension != native {
		p.dimension = cfg.Dimension
		p.request = cfg.Dimension
	}
	return p, nil
}

// Embed embeds a document.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, &EmbeddingError{Op: "embed", Err: ErrEmptyInput}
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.request,
	})
	if err != nil {
		return nil, &EmbeddingError{Op: "embed", StatusCode: openAIStatus(err), Err: fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)}
	}
	if len(resp.Data) != 1 {
		return nil, &EmbeddingError{Op: "embed", Err: fmt.Errorf("%w: openai returned %d embeddings, expected 1", ErrEmbeddingFailed, len(resp.Data))}
	}
	return resp.Data[0].Embedding, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Dimension returns the vector length requested from the model.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Close is a no-op; the client holds no resources.
func (p *OpenAIProvider) Close() error { return nil }
