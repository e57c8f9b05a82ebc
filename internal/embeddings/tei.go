package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
)

// TEIConfig configures a TEIProvider.
type TEIConfig struct {
	// BaseURL is the text-embeddings-inference endpoint, e.g. http://localhost:8080
	BaseURL string
	// Model names the served model; used for dimension detection and metrics.
	Model string
	// APIKey is sent as a bearer token when set (Inference Endpoints).
	APIKey config.Secret
	// Dimension overrides detection from Model.
	Dimension int
	// Client defaults to a client without timeout; Limited bounds each call.
	Client *http.Client
}

// TEIProvider embeds text with HuggingFace text-embeddings-inference.
type TEIProvider struct {
	cfg       TEIConfig
	client    *http.Client
	dimension int
}

var (
	_ Provider      = (*TEIProvider)(nil)
	_ QueryEmbedder = (*TEIProvider)(nil)
)

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

// NewTEIProvider validates cfg and returns a provider.
func NewTEIProvider(cfg TEIConfig) (*TEIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DetectDimension(cfg.Model)
	}
	return &TEIProvider{cfg: cfg, client: client, dimension: dim}, nil
}

// Embed embeds a document.
func (p *TEIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.embed(ctx, "embed", text)
}

// EmbedQuery embeds a search query. TEI applies no prefix of its own.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(ctx, "embed_query", text)
}

func (p *TEIProvider) embed(ctx context.Context, op, text string) ([]float32, error) {
	if text == "" {
		return nil, &EmbeddingError{Op: op, Err: ErrEmptyInput}
	}

	body, err := json.Marshal(teiRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, &EmbeddingError{Op: op, Err: fmt.Errorf("marshaling request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, &EmbeddingError{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey.Value())
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &EmbeddingError{Op: op, Err: fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &EmbeddingError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", ErrEmbeddingFailed, strings.TrimSpace(string(respBody))),
		}
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, &EmbeddingError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(vectors) == 0 {
		return nil, &EmbeddingError{Op: op, Err: fmt.Errorf("%w: empty response", ErrEmbeddingFailed)}
	}
	return vectors[0], nil
}

// Dimension returns the configured or detected dimension.
func (p *TEIProvider) Dimension() int { return p.dimension }

// Close is a no-op for TEI since it uses HTTP.
func (p *TEIProvider) Close() error { return nil }
