// Package config loads settings from defaults, an optional config file,
// a .env file and the environment, in increasing order of precedence.
// Command line flags bound into the same viper instance win over all of them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. RAGCOURSE_CRAWLER_WORKERS.
const EnvPrefix = "RAGCOURSE"

// Config keys shared with command line flags.
const (
	KeyDB        = "db"
	KeyRedis     = "redis"
	KeyCache     = "cache"
	KeyLogLevel  = "loglevel"
	KeyModel     = "model"
	KeyAddr      = "server.addr"
	KeyAPIKey    = "llm.api_key"
	KeyBaseURL   = "llm.base_url"
	KeyDomain    = "crawler.domain"
	KeyWorkers   = "crawler.workers"
	KeyTimeBias  = "search.time_bias"
	KeyLimit     = "search.limit"
	KeyCacheTTL  = "cache_ttl"
	KeyUserAgent = "fetch.user_agent"
)

// ErrInvalid is wrapped by validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved application configuration.
type Config struct {
	DBPath    string
	RedisAddr string
	CachePath string
	CacheTTL  time.Duration
	LogLevel  string
	Addr      string

	Crawler CrawlerConfig
	LLM     LLMConfig
	Search  SearchConfig
}

type CrawlerConfig struct {
	Domain          string
	Workers         int
	MaxContentChars int
	FetchTimeout    time.Duration
	UserAgent       string
}

type LLMConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	Timeout          time.Duration
	KeywordAttempts  int
	CompressRounds   int
	GenerateAttempts int
}

type SearchConfig struct {
	Limit    int
	TimeBias float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDB, "mudd.db")
	v.SetDefault(KeyRedis, "localhost:6379")
	v.SetDefault(KeyCache, "./page-cache")
	v.SetDefault(KeyCacheTTL, "24h")
	v.SetDefault(KeyLogLevel, "warning")
	v.SetDefault(KeyModel, "llama3-groq-8b-8192-tool-use-preview")
	v.SetDefault(KeyAddr, ":8080")

	v.SetDefault(KeyDomain, "hmc.edu")
	v.SetDefault(KeyWorkers, 4)
	v.SetDefault("crawler.max_content_chars", 30000)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault(KeyUserAgent, "ragcourse/1.0")

	v.SetDefault(KeyBaseURL, "https://api.groq.com/openai/v1")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.keyword_attempts", 5)
	v.SetDefault("llm.compress_rounds", 6)
	v.SetDefault("llm.generate_attempts", 8)

	v.SetDefault(KeyLimit, 5)
	v.SetDefault(KeyTimeBias, 1.0)
}

// Load reads configuration into v and resolves it. An empty cfgFile looks for
// an optional config.yaml in . and ./config.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyAPIKey, "GROQ_API_KEY", EnvPrefix+"_LLM_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key: %w", err)
	}
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DBPath:    v.GetString(KeyDB),
		RedisAddr: v.GetString(KeyRedis),
		CachePath: v.GetString(KeyCache),
		CacheTTL:  v.GetDuration(KeyCacheTTL),
		LogLevel:  v.GetString(KeyLogLevel),
		Addr:      v.GetString(KeyAddr),
		Crawler: CrawlerConfig{
			Domain:          v.GetString(KeyDomain),
			Workers:         v.GetInt(KeyWorkers),
			MaxContentChars: v.GetInt("crawler.max_content_chars"),
			FetchTimeout:    v.GetDuration("fetch.timeout"),
			UserAgent:       v.GetString(KeyUserAgent),
		},
		LLM: LLMConfig{
			APIKey:           v.GetString(KeyAPIKey),
			BaseURL:          v.GetString(KeyBaseURL),
			Model:            v.GetString(KeyModel),
			Timeout:          v.GetDuration("llm.timeout"),
			KeywordAttempts:  v.GetInt("llm.keyword_attempts"),
			CompressRounds:   v.GetInt("llm.compress_rounds"),
			GenerateAttempts: v.GetInt("llm.generate_attempts"),
		},
		Search: SearchConfig{
			Limit:    v.GetInt(KeyLimit),
			TimeBias: v.GetFloat64(KeyTimeBias),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("%w: db path is empty", ErrInvalid)
	case c.Crawler.Domain == "":
		return fmt.Errorf("%w: crawler domain is empty", ErrInvalid)
	case c.Crawler.Workers <= 0:
		return fmt.Errorf("%w: crawler workers must be positive, got %d", ErrInvalid, c.Crawler.Workers)
	case c.Crawler.MaxContentChars <= 0:
		return fmt.Errorf("%w: max content chars must be positive", ErrInvalid)
	case c.Search.TimeBias <= 0:
		return fmt.Errorf("%w: time bias must be positive, got %g", ErrInvalid, c.Search.TimeBias)
	case c.Search.Limit <= 0:
		return fmt.Errorf("%w: search limit must be positive", ErrInvalid)
	}
	return nil
}
