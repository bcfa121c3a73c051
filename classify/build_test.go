package classify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ddsvuln/vuln-dataset/classify"
	"github.com/ddsvuln/vuln-dataset/config"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		providers []string
		wantNames []string
	}{
		{
			name:      "configuration order is kept",
			providers: []string{"llama", "gemini", "chatgpt", "default"},
			wantNames: []string{"llama", "gemini", "chatgpt", "default"},
		},
		{
			name:      "none",
			providers: []string{"none"},
			wantNames: []string{"none"},
		},
		{
			name: "no providers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			cfg.Providers = tt.providers
			cfg.Gemini.APIKey = "g"
			cfg.ChatGPT.APIKey = "c"
			cfg.Llama.APIKey = "l"
			cfg.Default.BaseURL = "http://localhost:8000/v1"
			cfg.Default.Model = "mistral"

			got, err := classify.Build(context.Background(), cfg, nil, nil, zap.NewNop())
			require.NoError(t, err)

			var names []string
			for _, c := range got {
				names = append(names, c.Name())
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := config.New()
	cfg.Providers = []string{"bard"}
	_, err := classify.Build(context.Background(), cfg, nil, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "bard"`)
}

func TestNewCache(t *testing.T) {
	tests := []struct {
		name      string
		cache     string
		redisAddr string
		wantType  interface{}
	}{
		{name: "memory", cache: config.CacheMemory, wantType: &classify.MemoryCache{}},
		{name: "none", cache: config.CacheNone, wantType: nil},
		{name: "unreachable redis falls back to memory", cache: config.CacheRedis, redisAddr: "127.0.0.1:1", wantType: &classify.MemoryCache{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New()
			cfg.Cache = tt.cache
			cfg.CacheTTL = time.Hour
			cfg.RedisAddr = tt.redisAddr

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c, closeFn := classify.NewCache(ctx, cfg, zap.NewNop())
			require.NotNil(t, closeFn)
			defer closeFn()

			if tt.wantType == nil {
				assert.Nil(t, c)
				return
			}
			assert.IsType(t, tt.wantType, c)
		})
	}
}
