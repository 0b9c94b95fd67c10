// Package dashscope embeds texts with Alibaba Cloud DashScope's native
// text-embedding endpoint (Qwen text-embedding-v4 and friends).
//
// DashScope can answer HTTP 200 with a non-empty "code" field, so success
// requires both a 200 status and an empty code.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
)

const (
	// DefaultBaseURL is the mainland China endpoint.
	DefaultBaseURL = "https://dashscope.aliyuncs.com"
	embeddingPath  = "/api/v1/services/embeddings/text-embedding/text-embedding"

	// MaxBatchSize is the text-embedding-v4 per-request limit.
	MaxBatchSize = 10

	maxResponseBytes = 64 << 20
)

// Config configures a Provider.
type Config struct {
	APIKey         string
	Model          string
	Dimension      int
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Provider calls the DashScope REST API directly.
type Provider struct {
	endpoint  string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	logger    *slog.Logger
}

var _ embedding.Provider = (*Provider)(nil)

// New creates a Provider.
func New(cfg Config) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Provider{
		endpoint:  strings.TrimRight(base, "/") + embeddingPath,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    client,
		logger:    slog.Default().With("component", "dashscope-provider", "model", cfg.Model),
	}
}

func (p *Provider) Name() string      { return "dashscope" }
func (p *Provider) Model() string     { return p.model }
func (p *Provider) Dimension() int    { return p.dimension }
func (p *Provider) MaxBatchSize() int { return MaxBatchSize }

type request struct {
	Model      string     `json:"model"`
	Input      input      `json:"input"`
	Parameters parameters `json:"parameters"`
}

type input struct {
	Texts []string `json:"texts"`
}

type parameters struct {
	Dimension int `json:"dimension,omitempty"`
}

// Embed sends texts in one request.
func (p *Provider) Embed(ctx context.Context, texts []string) embedding.Result {
	body, err := json.Marshal(request{
		Model:      p.model,
		Input:      input{Texts: texts},
		Parameters: parameters{Dimension: p.dimension},
	})
	if err != nil {
		return embedding.Transient("encoding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return embedding.Transient("building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return embedding.Transient("request failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return embedding.Transient("reading response", err)
	}
	return p.parse(resp.StatusCode, raw, len(texts))
}

func (p *Provider) parse(status int, raw []byte, n int) embedding.Result {
	valid := gjson.ValidBytes(raw)
	code, message := "", ""
	if valid {
		code = gjson.GetBytes(raw, "code").String()
		message = gjson.GetBytes(raw, "message").String()
	}
	if status == http.StatusTooManyRequests || strings.HasPrefix(code, "Throttling") {
		return embedding.RateLimited(status, fmt.Sprintf("status %d %s: %s", status, code, message))
	}
	if status != http.StatusOK || code != "" {
		if !valid {
			return embedding.APIError(status, fmt.Sprintf("status %d: %s", status, snippet(raw)))
		}
		return embedding.APIError(status, fmt.Sprintf("status %d %s: %s", status, code, message))
	}
	if !valid {
		return embedding.Malformed("response is not valid JSON")
	}

	embeddings := gjson.GetBytes(raw, "output.embeddings")
	tokens := gjson.GetBytes(raw, "usage.total_tokens")
	if !embeddings.IsArray() || !tokens.Exists() {
		return embedding.Malformed("response without output.embeddings or usage.total_tokens")
	}

	items := embeddings.Array()
	indexes := make([]int, 0, len(items))
	vectors := make([][]float32, 0, len(items))
	for pos, item := range items {
		values := item.Get("embedding")
		if !values.IsArray() {
			return embedding.Malformed(fmt.Sprintf("embeddings[%d] has no vector", pos))
		}
		idx := pos
		if ti := item.Get("text_index"); ti.Exists() {
			idx = int(ti.Int())
		}
		vec := make([]float32, 0, p.dimension)
		values.ForEach(func(_, v gjson.Result) bool {
			vec = append(vec, float32(v.Float()))
			return true
		})
		indexes = append(indexes, idx)
		vectors = append(vectors, vec)
	}
	placed, err := embedding.PlaceByIndex(n, indexes, vectors)
	if err != nil {
		return embedding.Malformed(err.Error())
	}
	p.logger.Debug("embeddings received",
		"inputs", n,
		"returned", len(items),
		"tokens", tokens.Int(),
		"request_id", gjson.GetBytes(raw, "request_id").String(),
	)
	return embedding.Success(placed, int(tokens.Int()))
}

func snippet(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
