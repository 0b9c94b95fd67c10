package cli

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding/dashscope"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/embedding/openai"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/pkg/metrics"
)

// providerFactory builds the configured provider. With requireKey false a
// missing credential is allowed, for commands that never call the API.
type providerFactory func(cfg *config.Config, requireKey bool) (embedding.Provider, error)

func newProvider(cfg *config.Config, requireKey bool) (embedding.Provider, error) {
	key, err := cfg.APIKey()
	if err != nil && requireKey {
		return nil, err
	}
	e := cfg.Embedding
	switch e.Provider {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:         key,
			Model:          e.Model,
			Dimension:      e.Dimension,
			BaseURL:        e.BaseURL,
			RequestTimeout: e.RequestTimeout,
		}), nil
	case config.ProviderDashScope:
		return dashscope.New(dashscope.Config{
			APIKey:         key,
			Model:          e.Model,
			Dimension:      e.Dimension,
			BaseURL:        e.BaseURL,
			RequestTimeout: e.RequestTimeout,
		}), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, "unknown embedding provider %q", e.Provider)
	}
}

// processMetrics registers the collectors on the default registry once per
// process so /metrics serves them.
var processMetrics = sync.OnceValue(func() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
})
