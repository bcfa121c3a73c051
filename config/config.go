package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/ddsvuln/vuln-dataset/logging"
)

const envPrefix = "VULN_DATASET"

// Feed names accepted in Config.Feeds.
const (
	FeedNVD     = "nvd"
	FeedVulners = "vulners"
	FeedGHSA    = "ghsa"
)

// Provider names accepted in Config.Providers. Their order in Config.Providers
// is also the tie-break order of the consensus vote.
const (
	ProviderGemini  = "gemini"
	ProviderChatGPT = "chatgpt"
	ProviderLlama   = "llama"
	ProviderDefault = "default"
	ProviderNone    = "none"
)

// Cache backends accepted in Config.Cache.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

var (
	knownFeeds     = []string{FeedNVD, FeedVulners, FeedGHSA}
	knownProviders = []string{ProviderGemini, ProviderChatGPT, ProviderLlama, ProviderDefault, ProviderNone}
	knownCaches    = []string{CacheNone, CacheMemory, CacheRedis}

	// DefaultVendors is the vendor vocabulary of the DDS product family. The
	// order is a priority order: the first entry found in a description wins.
	DefaultVendors = []string{
		"TiTAN DDS", "CoreDX", "Core DX", "Zhenrong DDS", "MilDDS", "Mil DDS", "GurumDDS", "InterCOM",
		"Fast DDS", "fastdds", "cyclonedds", "connext", "opendds",
	}
)

type FeedConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Interval time.Duration `mapstructure:"interval"`
}

type ProviderConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Feeds      []string `mapstructure:"feeds"`
	Terms      []string `mapstructure:"terms"`
	Vendors    []string `mapstructure:"vendors"`
	Vocabulary string   `mapstructure:"vocabulary"`

	Providers   []string           `mapstructure:"providers"`
	Weights     map[string]float64 `mapstructure:"-"`
	Concurrency int                `mapstructure:"concurrency"`
	Timeout     time.Duration      `mapstructure:"timeout"`

	Output         string `mapstructure:"output"`
	Append         bool   `mapstructure:"append"`
	PublishedAfter string `mapstructure:"published_after"`
	RequireVendor  bool   `mapstructure:"require_vendor"`
	KEV            bool   `mapstructure:"kev"`
	StateDir       string `mapstructure:"state_dir"`

	Cache     string        `mapstructure:"cache"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	NVD     FeedConfig `mapstructure:"nvd"`
	Vulners FeedConfig `mapstructure:"vulners"`
	GitHub  FeedConfig `mapstructure:"github"`

	Gemini  ProviderConfig `mapstructure:"gemini"`
	ChatGPT ProviderConfig `mapstructure:"chatgpt"`
	Llama   ProviderConfig `mapstructure:"llama"`
	Default ProviderConfig `mapstructure:"default"`

	Log logging.Config `mapstructure:"log"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("feeds", []string{FeedNVD})
	v.SetDefault("terms", DefaultVendors)
	v.SetDefault("vendors", DefaultVendors)
	v.SetDefault("vocabulary", "")
	v.SetDefault("providers", []string{})
	v.SetDefault("weights", map[string]string{})
	v.SetDefault("concurrency", 2)
	v.SetDefault("timeout", "2m")
	v.SetDefault("output", "dataset/dds_vulnerabilities_AI.csv")
	v.SetDefault("append", false)
	v.SetDefault("published_after", "")
	v.SetDefault("require_vendor", false)
	v.SetDefault("kev", false)
	v.SetDefault("state_dir", "dataset")
	v.SetDefault("cache", CacheMemory)
	v.SetDefault("cache_ttl", "24h")
	v.SetDefault("redis_addr", "")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("nvd.api_key", "")
	v.SetDefault("nvd.base_url", "https://services.nvd.nist.gov/rest/json/cves/2.0")
	v.SetDefault("nvd.interval", "0s")
	v.SetDefault("vulners.api_key", "")
	v.SetDefault("vulners.base_url", "https://vulners.com/api/v3/search/lucene/")
	v.SetDefault("vulners.interval", "1s")
	v.SetDefault("github.api_key", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.interval", "1s")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash-latest")
	v.SetDefault("gemini.interval", "1s")
	v.SetDefault("chatgpt.api_key", "")
	v.SetDefault("chatgpt.base_url", "https://api.openai.com/v1")
	v.SetDefault("chatgpt.model", "gpt-4o-mini")
	v.SetDefault("chatgpt.interval", "1s")
	v.SetDefault("llama.api_key", "")
	v.SetDefault("llama.base_url", "https://api.llama-api.com")
	v.SetDefault("llama.model", "llama3.1-70b")
	v.SetDefault("llama.interval", "1s")
	v.SetDefault("default.api_key", "")
	v.SetDefault("default.base_url", "")
	v.SetDefault("default.model", "")
	v.SetDefault("default.interval", "1s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

// BindEnv wires the prefixed environment variables plus the names used by
// earlier versions of the collector scripts.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string]string{
		"nvd.api_key":      "NVD_API_KEY",
		"vulners.api_key":  "VULNERS_API_KEY",
		"github.api_key":   "GITHUB_TOKEN",
		"gemini.api_key":   "GEMINI_API_KEY",
		"chatgpt.api_key":  "CHATGPT_API_KEY",
		"llama.api_key":    "LLAMA_API_KEY",
		"default.api_key":  "DEFAULT_API_KEY",
		"default.base_url": "DEFAULT_API_URL",
		"default.model":    "DEFAULT_API_MODEL",
	}
	for key, legacy := range aliases {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
}

// Load reads the configuration from v. v is expected to have defaults, flags
// and environment already bound.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, xerrors.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, xerrors.Errorf("failed to decode config: %w", err)
	}

	weights, err := parseWeights(v.GetStringMapString("weights"))
	if err != nil {
		return Config{}, err
	}
	cfg.Weights = weights

	if cfg.Vocabulary != "" {
		voc, err := LoadVocabulary(cfg.Vocabulary)
		if err != nil {
			return Config{}, err
		}
		if len(voc.Vendors) > 0 {
			cfg.Vendors = voc.Vendors
		}
		if len(voc.Terms) > 0 {
			cfg.Terms = voc.Terms
		}
	}

	cfg.Feeds = normalizeNames(cfg.Feeds)
	cfg.Providers = normalizeNames(cfg.Providers)
	return cfg, nil
}

// New returns a Config holding only defaults.
func New() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.Weights = map[string]float64{}
	return cfg
}

func parseWeights(raw map[string]string) (map[string]float64, error) {
	weights := make(map[string]float64, len(raw))
	for name, s := range raw {
		w, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, xerrors.Errorf("invalid weight for %s: %w", name, err)
		}
		weights[strings.ToLower(strings.TrimSpace(name))] = w
	}
	return weights, nil
}

func normalizeNames(names []string) []string {
	var out []string
	for _, n := range names {
		// a single flag value may carry a comma separated list
		for _, part := range strings.Split(n, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return lo.Uniq(out)
}

// Weight returns the voting weight of a provider, 1.0 unless configured.
func (c Config) Weight(provider string) float64 {
	if w, ok := c.Weights[provider]; ok {
		return w
	}
	return 1.0
}

// PublishedCutoff parses PublishedAfter. The zero time means no cutoff.
func (c Config) PublishedCutoff() (time.Time, error) {
	if c.PublishedAfter == "" {
		return time.Time{}, nil
	}
	t, err := dateparse.ParseAny(c.PublishedAfter)
	if err != nil {
		return time.Time{}, xerrors.Errorf("invalid published_after %q: %w", c.PublishedAfter, err)
	}
	return t, nil
}

// Validate reports every configuration problem found. It is run before any
// work starts; a non-nil error is fatal.
func (c Config) Validate() error {
	var result error

	if len(c.Feeds) == 0 {
		result = multierror.Append(result, xerrors.New("at least one feed must be selected"))
	}
	for _, f := range c.Feeds {
		if !lo.Contains(knownFeeds, f) {
			result = multierror.Append(result, xerrors.Errorf("unknown feed %q (supported: %s)", f, strings.Join(knownFeeds, ", ")))
		}
	}
	if lo.Contains(c.Feeds, FeedVulners) && c.Vulners.APIKey == "" {
		result = multierror.Append(result, xerrors.New("vulners feed requires an API key (VULNERS_API_KEY)"))
	}
	if lo.Contains(c.Feeds, FeedGHSA) && c.GitHub.APIKey == "" {
		result = multierror.Append(result, xerrors.New("ghsa feed requires a GitHub token (GITHUB_TOKEN)"))
	}
	if len(lo.Compact(c.Terms)) == 0 {
		result = multierror.Append(result, xerrors.New("at least one search term is required"))
	}

	for _, p := range c.Providers {
		if !lo.Contains(knownProviders, p) {
			result = multierror.Append(result, xerrors.Errorf("unknown provider %q (supported: %s)", p, strings.Join(knownProviders, ", ")))
			continue
		}
		if err := c.validateProvider(p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if lo.Contains(c.Providers, ProviderNone) && len(c.Providers) > 1 {
		result = multierror.Append(result, xerrors.New(`provider "none" cannot be combined with other providers`))
	}
	for name, w := range c.Weights {
		if w <= 0 {
			result = multierror.Append(result, xerrors.Errorf("weight for %s must be positive, got %v", name, w))
		}
	}

	if c.Concurrency <= 0 {
		result = multierror.Append(result, xerrors.New("concurrency must be a positive integer"))
	}
	if c.Timeout <= 0 {
		result = multierror.Append(result, xerrors.New("timeout must be a positive duration"))
	}
	if _, err := c.PublishedCutoff(); err != nil {
		result = multierror.Append(result, err)
	}
	if !lo.Contains(knownCaches, c.Cache) {
		result = multierror.Append(result, xerrors.Errorf("unknown cache %q (supported: %s)", c.Cache, strings.Join(knownCaches, ", ")))
	}
	if c.Cache == CacheRedis && c.RedisAddr == "" {
		result = multierror.Append(result, xerrors.New("redis cache requires redis_addr"))
	}
	if c.Output == "" {
		result = multierror.Append(result, xerrors.New("output path is required"))
	}

	return result
}

func (c Config) validateProvider(name string) error {
	switch name {
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return xerrors.New("gemini provider requires an API key (GEMINI_API_KEY)")
		}
	case ProviderChatGPT:
		if c.ChatGPT.APIKey == "" {
			return xerrors.New("chatgpt provider requires an API key (CHATGPT_API_KEY)")
		}
	case ProviderLlama:
		if c.Llama.APIKey == "" {
			return xerrors.New("llama provider requires an API key (LLAMA_API_KEY)")
		}
	case ProviderDefault:
		if c.Default.BaseURL == "" || c.Default.Model == "" {
			return xerrors.New("default provider requires a base URL and a model (DEFAULT_API_URL, DEFAULT_API_MODEL)")
		}
	}
	return nil
}

// Vocabulary is the YAML document accepted by --vocabulary.
type Vocabulary struct {
	Vendors []string `yaml:"vendors"`
	Terms   []string `yaml:"terms"`
}

func LoadVocabulary(path string) (Vocabulary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, xerrors.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	var voc Vocabulary
	if err = yaml.Unmarshal(b, &voc); err != nil {
		return Vocabulary{}, xerrors.Errorf("unable to decode vocabulary YAML (%s): %w", path, err)
	}
	return voc, nil
}
