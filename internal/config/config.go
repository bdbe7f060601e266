package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance   Binance   `mapstructure:"binance"`
	Trading   Trading   `mapstructure:"trading"`
	Backend   Backend   `mapstructure:"backend"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Dashboard Dashboard `mapstructure:"dashboard"`
	Database  Database  `mapstructure:"database"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	Futures        bool    `mapstructure:"futures"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the trigger and dashboard servers.
type Server struct {
	Port       int    `mapstructure:"port"`
	CronSecret string `mapstructure:"cron_secret"`
}

// Dashboard holds the configuration for the read-only ledger UI.
type Dashboard struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds the configuration for the decision cycle.
type Trading struct {
	Symbol          string        `mapstructure:"symbol"`
	Quote           string        `mapstructure:"quote"`
	InitialCapital  float64       `mapstructure:"initial_capital"`
	Timeframe       string        `mapstructure:"timeframe"`
	CandleLimit     int           `mapstructure:"candle_limit"`
	DefaultAmount   float64       `mapstructure:"default_amount"`
	DryRun          bool          `mapstructure:"dry_run"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

// LLM holds connection settings for one OpenAI-compatible endpoint.
type LLM struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// ResponseFormat is "json_schema" (strict schema enforced by the endpoint)
	// or "json_object" (plain JSON mode, schema sent in the system message).
	ResponseFormat string `mapstructure:"response_format"`
}

// AgentService holds the settings for the external decision service.
type AgentService struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Backend selects and configures the reasoning backends.
type Backend struct {
	// Model is the backend token used when no override is supplied.
	Model      string        `mapstructure:"model"`
	LLMTimeout time.Duration `mapstructure:"llm_timeout"`
	DeepSeek   LLM           `mapstructure:"deepseek"`
	OpenAI     LLM           `mapstructure:"openai"`
	OpenRouter LLM           `mapstructure:"openrouter"`
	Ollama     LLM           `mapstructure:"ollama"`
	Agent      AgentService  `mapstructure:"agent"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from <path>/config.yml, a .env file and
// environment variables. A missing config file is not an error; defaults and
// the environment still apply.
func LoadConfig(path string) (config Config, err error) {
	// .env values never override variables already set in the environment.
	if err = godotenv.Load(filepath.Join(path, "..", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return
	}
	err = nil

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	// Secrets get empty defaults so AutomaticEnv can bind them on Unmarshal.
	for _, key := range []string{
		"binance.apiKey", "binance.secretKey", "server.cron_secret",
		"backend.deepseek.api_key", "backend.openai.api_key",
		"backend.openrouter.api_key", "backend.ollama.api_key",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size

	v.SetDefault("trading.symbol", "BTC")
	v.SetDefault("trading.quote", "USDT")
	v.SetDefault("trading.initial_capital", 1000)
	v.SetDefault("trading.timeframe", "1m")
	v.SetDefault("trading.candle_limit", 20)
	v.SetDefault("trading.default_amount", 0.001)
	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.tick_interval", 5*time.Minute)
	v.SetDefault("trading.metrics_interval", 20*time.Second)

	v.SetDefault("backend.model", "deepseek")
	v.SetDefault("backend.llm_timeout", 90*time.Second)
	v.SetDefault("backend.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("backend.deepseek.model", "deepseek-reasoner")
	v.SetDefault("backend.deepseek.response_format", "json_object")
	v.SetDefault("backend.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("backend.openai.model", "gpt-4o-mini")
	v.SetDefault("backend.openai.response_format", "json_schema")
	v.SetDefault("backend.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("backend.openrouter.model", "qwen/qwen3-235b-a22b")
	v.SetDefault("backend.openrouter.response_format", "json_schema")
	v.SetDefault("backend.ollama.base_url", "http://localhost:11434/v1")
	v.SetDefault("backend.ollama.model", "qwen3:8b")
	v.SetDefault("backend.ollama.response_format", "json_schema")
	v.SetDefault("backend.agent.base_url", "http://localhost:8000")
	v.SetDefault("backend.agent.timeout", 5*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("dashboard.port", 8081)
	v.SetDefault("database.dsn", "trader.db")
}
