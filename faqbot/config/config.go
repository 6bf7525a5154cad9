package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/faqbot/faqbot"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Store     StoreConfig     `mapstructure:"store"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Tone      ToneConfig      `mapstructure:"tone"`
	Session   SessionConfig   `mapstructure:"session"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig stores HTTP listener settings.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	AllowedOrigin string        `mapstructure:"allowed_origin"` // Single CORS origin, credentials allowed
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	StrictStatus  bool          `mapstructure:"strict_status"` // Map pipeline failures to non-2xx
}

// EmbeddingConfig stores embedding model configurations.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"` // "ollama"
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dims       int           `mapstructure:"dims"` // 0 means learn from the first response
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// LLMConfig stores language model configurations.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`   // "ollama", "gguf"
	BaseURL      string        `mapstructure:"base_url"`   // ollama only
	Model        string        `mapstructure:"model"`      // ollama model tag
	ModelPath    string        `mapstructure:"model_path"` // gguf only
	Timeout      time.Duration `mapstructure:"timeout"`    // Bound on a single generation call
	MaxRetries   int           `mapstructure:"max_retries"`
	MaxNewTokens int           `mapstructure:"max_new_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
	ContextSize  int           `mapstructure:"context_size"` // gguf only
	GPULayers    int           `mapstructure:"gpu_layers"`   // gguf only
	PoolSize     int           `mapstructure:"pool_size"`    // gguf only
}

// StoreConfig stores vector store settings.
type StoreConfig struct {
	Type       string `mapstructure:"type"` // "libsql", "memory"
	Path       string `mapstructure:"path"`
	Collection string `mapstructure:"collection"`
}

// RetrievalConfig stores nearest-neighbour query settings.
type RetrievalConfig struct {
	K        int     `mapstructure:"k"`
	MinScore float64 `mapstructure:"min_score"` // 0 disables the cut
}

// PipelineConfig collapses the per-variant constants of the request pipeline.
type PipelineConfig struct {
	TemplatePath      string   `mapstructure:"template_path"` // Empty uses the embedded template
	WatchTemplate     bool     `mapstructure:"watch_template"`
	HistoryWindow     int      `mapstructure:"history_window"`  // 0 means full history
	FallbackPolicy    string   `mapstructure:"fallback_policy"` // "random_apology", "fixed_refusal"
	FallbackResponses []string `mapstructure:"fallback_responses"`
	RefusalMessage    string   `mapstructure:"refusal_message"`
	ErrorMessage      string   `mapstructure:"error_message"`
	RateLimitMessage  string   `mapstructure:"rate_limit_message"`
	RecordFailures    bool     `mapstructure:"record_failures"` // Append a marker turn on failure
}

// ToneConfig stores keyword sets and canned replies.
type ToneConfig struct {
	SarcasmKeywords  []string `mapstructure:"sarcasm_keywords"`
	InsultKeywords   []string `mapstructure:"insult_keywords"`
	SarcasmResponses []string `mapstructure:"sarcasm_responses"`
	InsultResponses  []string `mapstructure:"insult_responses"`
}

// SessionConfig stores session registry lifecycle settings.
type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxSessions   int           `mapstructure:"max_sessions"`
}

// IngestConfig stores CSV ingestion settings.
type IngestConfig struct {
	CSVPath     string `mapstructure:"csv_path"`
	Source      string `mapstructure:"source"`
	BatchSize   int    `mapstructure:"batch_size"`
	Concurrency int    `mapstructure:"concurrency"`
	OnStart     bool   `mapstructure:"on_start"` // Ingest when the store is empty at startup
}

// HarnessConfig stores LLM harness configurations.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Enable query embedding cache
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`     // Enable per-session rate limiting
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // Refill rate

	// Safety
	EnableGuardrails bool `mapstructure:"enable_guardrails"` // Redact secrets from model output
	MaxOutputSize    int  `mapstructure:"max_output_size"`   // Maximum output size in bytes

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"` // Enable structured logging/tracing
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console", "json"
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		for _, p := range internal.DefaultConfigSearchPaths {
			v.AddConfigPath(p)
		}
		v.SetConfigName(internal.DefaultConfigName)
		v.SetConfigType(internal.DefaultConfigType)
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. llm.base_url becomes FAQBOT_LLM_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Only raised for search-path lookups; an explicit path that is missing fails above.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	AppConfig = cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", internal.DefaultServerAddr)
	v.SetDefault("server.allowed_origin", internal.DefaultAllowedOrigin)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s") // Must outlive llm.timeout
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.strict_status", false)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.base_url", internal.DefaultOllamaURL)
	v.SetDefault("embedding.model", internal.DefaultEmbeddingModel)
	v.SetDefault("embedding.dims", 0)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.max_retries", 3)

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.base_url", internal.DefaultOllamaURL)
	v.SetDefault("llm.model", internal.DefaultChatModel)
	v.SetDefault("llm.model_path", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 1)
	v.SetDefault("llm.max_new_tokens", 512)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.context_size", 2048)
	v.SetDefault("llm.gpu_layers", 0)
	v.SetDefault("llm.pool_size", 1)

	v.SetDefault("store.type", "libsql")
	v.SetDefault("store.path", internal.DefaultStorePath)
	v.SetDefault("store.collection", internal.DefaultCollection)

	v.SetDefault("retrieval.k", 1)
	v.SetDefault("retrieval.min_score", 0.0)

	v.SetDefault("pipeline.template_path", "")
	v.SetDefault("pipeline.watch_template", false)
	v.SetDefault("pipeline.history_window", 0)
	v.SetDefault("pipeline.fallback_policy", "random_apology")
	v.SetDefault("pipeline.fallback_responses", internal.DefaultFallbackResponses)
	v.SetDefault("pipeline.refusal_message", internal.DefaultFallbackResponses[0])
	v.SetDefault("pipeline.error_message", internal.DefaultErrorMessage)
	v.SetDefault("pipeline.rate_limit_message", internal.DefaultRateLimitMessage)
	v.SetDefault("pipeline.record_failures", false)

	v.SetDefault("tone.sarcasm_keywords", internal.DefaultSarcasmKeywords)
	v.SetDefault("tone.insult_keywords", internal.DefaultInsultKeywords)
	v.SetDefault("tone.sarcasm_responses", internal.DefaultSarcasmResponses)
	v.SetDefault("tone.insult_responses", internal.DefaultInsultResponses)

	v.SetDefault("session.idle_timeout", "30m")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("session.max_sessions", 10000)

	v.SetDefault("ingest.csv_path", internal.DefaultCSVPath)
	v.SetDefault("ingest.source", internal.DefaultCSVPath)
	v.SetDefault("ingest.batch_size", 32)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.on_start", true)

	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 1000)
	v.SetDefault("harness.cache_ttl_seconds", 3600) // 1 hour
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_guardrails", false)
	v.SetDefault("harness.max_output_size", 10000) // 10KB
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Pipeline.FallbackPolicy {
	case "random_apology":
		if len(c.Pipeline.FallbackResponses) == 0 {
			return errors.New("pipeline.fallback_responses must not be empty for random_apology")
		}
	case "fixed_refusal":
		if c.Pipeline.RefusalMessage == "" {
			return errors.New("pipeline.refusal_message must not be empty for fixed_refusal")
		}
	default:
		return fmt.Errorf("unknown pipeline.fallback_policy %q", c.Pipeline.FallbackPolicy)
	}

	if c.Pipeline.HistoryWindow < 0 {
		return fmt.Errorf("pipeline.history_window must be >= 0, got %d", c.Pipeline.HistoryWindow)
	}
	if c.Retrieval.K < 1 {
		return fmt.Errorf("retrieval.k must be >= 1, got %d", c.Retrieval.K)
	}

	switch c.Embedding.Provider {
	case "ollama":
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}

	switch c.LLM.Provider {
	case "ollama":
	case "gguf":
		if c.LLM.ModelPath == "" {
			return errors.New("llm.model_path is required for the gguf provider")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}

	switch c.Store.Type {
	case "libsql", "memory":
	default:
		return fmt.Errorf("unknown store.type %q", c.Store.Type)
	}

	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %v", c.LLM.Timeout)
	}
	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("embedding.timeout must be positive, got %v", c.Embedding.Timeout)
	}

	if len(c.Tone.SarcasmResponses) == 0 || len(c.Tone.InsultResponses) == 0 {
		return errors.New("tone responses must not be empty")
	}

	return nil
}
