package model

import "time"

// Config is the complete back-office configuration.
// Loaded from ~/.backoffice/config.yaml, BACKOFFICE_* env vars and CLI flags.
type Config struct {
	Env      string         `yaml:"env" mapstructure:"env"` // Namespace for Redis keys/channels (e.g. "prod")
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Site     SiteConfig     `yaml:"site" mapstructure:"site"`
	Supabase SupabaseConfig `yaml:"supabase" mapstructure:"supabase"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	Email    EmailConfig    `yaml:"email" mapstructure:"email"`
	Chat     ChatConfig     `yaml:"chat" mapstructure:"chat"`
	Property PropertyConfig `yaml:"property" mapstructure:"property"`
	IndexNow IndexNowConfig `yaml:"indexnow" mapstructure:"indexnow"`
	Bulk     BulkConfig     `yaml:"bulk" mapstructure:"bulk"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Citation CitationConfig `yaml:"citation" mapstructure:"citation"`
	Proxy    ProxyConfig    `yaml:"proxy" mapstructure:"proxy"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// SiteConfig describes the public website
type SiteConfig struct {
	BaseURL   string   `yaml:"base_url" mapstructure:"base_url"`
	CRMURL    string   `yaml:"crm_url" mapstructure:"crm_url"` // Origin serving /crm
	Languages []string `yaml:"languages" mapstructure:"languages"`
	UserAgent string   `yaml:"user_agent" mapstructure:"user_agent"`
}

// SupabaseConfig holds managed database credentials
type SupabaseConfig struct {
	URL          string        `yaml:"url" mapstructure:"url"`
	ServiceKey   string        `yaml:"service_key" mapstructure:"service_key"`
	DatabaseURL  string        `yaml:"database_url" mapstructure:"database_url"` // Optional direct Postgres DSN
	MaxOpenConns int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxIdle  time.Duration `yaml:"conn_max_idle" mapstructure:"conn_max_idle"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life" mapstructure:"conn_max_life"`
}

// RedisConfig configures the checkpoint store, realtime feed and shared cache
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"` // Empty disables Redis-backed features
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// LLMConfig selects chat-completion providers per task
type LLMConfig struct {
	TranslationProvider string `yaml:"translation_provider" mapstructure:"translation_provider"`
	CitationProvider    string `yaml:"citation_provider" mapstructure:"citation_provider"`
	GenerationProvider  string `yaml:"generation_provider" mapstructure:"generation_provider"`
	Model               string `yaml:"model" mapstructure:"model"`
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	Timeout             int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens           int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxAttempts         int    `yaml:"max_attempts" mapstructure:"max_attempts"`

	OpenAIKey     string `yaml:"openai_key,omitempty" mapstructure:"openai_key"`
	AnthropicKey  string `yaml:"anthropic_key,omitempty" mapstructure:"anthropic_key"`
	PerplexityKey string `yaml:"perplexity_key,omitempty" mapstructure:"perplexity_key"`
	GeminiKey     string `yaml:"gemini_key,omitempty" mapstructure:"gemini_key"`
}

// EmailConfig configures the transactional email API
type EmailConfig struct {
	APIKey     string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	From       string `yaml:"from" mapstructure:"from"`
	AlertsFrom string `yaml:"alerts_from" mapstructure:"alerts_from"`
}

// ChatConfig configures the team-chat webhook
type ChatConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty" mapstructure:"webhook_url"`
}

// PropertyConfig configures the Resales Online search API
type PropertyConfig struct {
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	P1         []string      `yaml:"p1" mapstructure:"p1"` // Candidate agency identifiers, tried in order
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"` // Sent as p2
	ProxyURL   string        `yaml:"proxy_url,omitempty" mapstructure:"proxy_url"` // Fixed-IP egress proxy
	CacheTTL   time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	TrySandbox bool          `yaml:"try_sandbox" mapstructure:"try_sandbox"`
}

// IndexNowConfig configures search engine URL submission
type IndexNowConfig struct {
	Key         string   `yaml:"key,omitempty" mapstructure:"key"`
	KeyLocation string   `yaml:"key_location" mapstructure:"key_location"`
	Endpoints   []string `yaml:"endpoints" mapstructure:"endpoints"`
}

// BulkConfig controls bulk operation pacing
type BulkConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// CacheConfig controls result caching
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	UseRedis bool          `yaml:"use_redis" mapstructure:"use_redis"`
}

// CitationConfig controls outbound source checks
type CitationConfig struct {
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelay     time.Duration `yaml:"batch_delay" mapstructure:"batch_delay"`
	SlowThreshold  time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"`
	Feeds          []string      `yaml:"feeds" mapstructure:"feeds"`
	ApprovedDomain []string      `yaml:"approved_domains" mapstructure:"approved_domains"`
}

// ProxyConfig holds outbound proxy settings for general HTTP traffic
type ProxyConfig struct {
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Env: "prod",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Site: SiteConfig{
			BaseURL:   "https://www.delsolprimehomes.com",
			CRMURL:    "https://www.delsolprimehomes.com",
			Languages: append([]string(nil), Languages...),
			UserAgent: "DelSolBackoffice/1.0 (+https://www.delsolprimehomes.com)",
		},
		Supabase: SupabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnMaxIdle:  5 * time.Minute,
			ConnMaxLife:  30 * time.Minute,
		},
		LLM: LLMConfig{
			TranslationProvider: "openai",
			CitationProvider:    "perplexity",
			GenerationProvider:  "openai",
			Timeout:             120,
			MaxTokens:           8000,
			MaxAttempts:         3,
		},
		Email: EmailConfig{
			BaseURL:    "https://api.resend.com",
			From:       "Del Sol Prime Homes <crm@notifications.delsolprimehomes.com>",
			AlertsFrom: "CRM Alerts <crm@notifications.delsolprimehomes.com>",
		},
		Property: PropertyConfig{
			BaseURL:    "https://webapi.resales-online.com",
			CacheTTL:   15 * time.Minute,
			Timeout:    20 * time.Second,
			TrySandbox: true,
		},
		IndexNow: IndexNowConfig{
			KeyLocation: "https://www.delsolprimehomes.com/indexnow-key.txt",
			Endpoints: []string{
				"https://api.indexnow.org/indexnow",
				"https://www.bing.com/indexnow",
				"https://yandex.com/indexnow",
			},
		},
		Bulk: BulkConfig{
			RequestsPerSecond: 2,
			Burst:             1,
			Concurrency:       1,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     15 * time.Minute,
		},
		Citation: CitationConfig{
			Timeout:       10 * time.Second,
			BatchSize:     25,
			BatchDelay:    200 * time.Millisecond,
			SlowThreshold: 5 * time.Second,
		},
	}
}
