// Package openai embeds texts with the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
)

// MaxBatchSize is the API's per-request input limit.
const MaxBatchSize = 2048

// Config configures a Provider.
type Config struct {
	APIKey         string
	Model          string
	Dimension      int
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Provider calls POST /embeddings through the official SDK.
type Provider struct {
	client    openai.Client
	model     string
	dimension int
	logger    *slog.Logger
}

var _ embedding.Provider = (*Provider)(nil)

// New creates a Provider. SDK retries are disabled: a failed batch is left
// for the next run instead.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Provider{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		logger:    slog.Default().With("component", "openai-provider", "model", cfg.Model),
	}
}

func (p *Provider) Name() string      { return "openai" }
func (p *Provider) Model() string     { return p.model }
func (p *Provider) Dimension() int    { return p.dimension }
func (p *Provider) MaxBatchSize() int { return MaxBatchSize }

// Embed sends texts in one request.
func (p *Provider) Embed(ctx context.Context, texts []string) embedding.Result {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(p.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.dimension > 0 {
		params.Dimensions = openai.Int(int64(p.dimension))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return classify(err)
	}
	if !resp.JSON.Data.Valid() || !resp.JSON.Usage.Valid() {
		return embedding.Malformed("response without data or usage")
	}

	indexes := make([]int, len(resp.Data))
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		indexes[i] = int(d.Index)
		vectors[i] = embedding.Float32s(d.Embedding)
	}
	placed, err := embedding.PlaceByIndex(len(texts), indexes, vectors)
	if err != nil {
		return embedding.Malformed(err.Error())
	}
	p.logger.Debug("embeddings received", "inputs", len(texts), "returned", len(resp.Data), "tokens", resp.Usage.TotalTokens)
	return embedding.Success(placed, int(resp.Usage.TotalTokens))
}

func classify(err error) embedding.Result {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		detail := fmt.Sprintf("status %d: %s", apiErr.StatusCode, apiErr.Message)
		if apiErr.Code != "" {
			detail = fmt.Sprintf("status %d %s: %s", apiErr.StatusCode, apiErr.Code, apiErr.Message)
		}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return embedding.RateLimited(apiErr.StatusCode, detail)
		}
		return embedding.APIError(apiErr.StatusCode, detail)
	}
	return embedding.Transient("request failed", err)
}
