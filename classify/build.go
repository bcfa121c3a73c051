package classify

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/config"
	"github.com/ddsvuln/vuln-dataset/metrics"
	"github.com/ddsvuln/vuln-dataset/types"
)

const memoryCacheEntries = 10000

// Classifier is anything that yields one verdict per description.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, description string) types.Verdict
}

// NewCache builds the verdict cache selected by cfg.Cache. The returned
// close function is never nil. An unreachable Redis falls back to memory.
func NewCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (Cache, func() error) {
	noop := func() error { return nil }
	switch cfg.Cache {
	case config.CacheMemory:
		return NewMemoryCache(cfg.CacheTTL, memoryCacheEntries), noop
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, using in-memory cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = client.Close()
			return NewMemoryCache(cfg.CacheTTL, memoryCacheEntries), noop
		}
		return NewRedisCache(client, cfg.CacheTTL, logger), client.Close
	}
	return nil, noop
}

// Build returns the configured providers in configuration order.
func Build(ctx context.Context, cfg config.Config, cache Cache, m *metrics.Metrics, logger *zap.Logger) ([]Classifier, error) {
	var classifiers []Classifier
	for _, name := range cfg.Providers {
		if name == config.ProviderNone {
			classifiers = append(classifiers, NoneProvider{})
			continue
		}

		pc, backend, err := newBackend(ctx, cfg, name, logger)
		if err != nil {
			return nil, xerrors.Errorf("provider %s: %w", name, err)
		}
		classifiers = append(classifiers, NewProvider(name, backend,
			WithTimeout(cfg.Timeout),
			WithInterval(pc.Interval),
			WithCache(cache),
			WithMetrics(m),
			WithLogger(logger),
		))
	}
	return classifiers, nil
}

func newBackend(ctx context.Context, cfg config.Config, name string, logger *zap.Logger) (config.ProviderConfig, Backend, error) {
	switch name {
	case config.ProviderGemini:
		b, err := NewGeminiBackend(ctx, cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Model, logger)
		return cfg.Gemini, b, err
	case config.ProviderChatGPT:
		return cfg.ChatGPT, NewChatBackend(cfg.ChatGPT.APIKey, cfg.ChatGPT.BaseURL, cfg.ChatGPT.Model), nil
	case config.ProviderLlama:
		return cfg.Llama, NewChatBackend(cfg.Llama.APIKey, cfg.Llama.BaseURL, cfg.Llama.Model), nil
	case config.ProviderDefault:
		return cfg.Default, NewChatBackend(cfg.Default.APIKey, cfg.Default.BaseURL, cfg.Default.Model), nil
	}
	return config.ProviderConfig{}, nil, xerrors.Errorf("unknown provider %q", name)
}
