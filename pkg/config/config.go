package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the evaluator's runtime settings.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// Generative-text oracle
	LLMProvider   string `yaml:"llm_provider"` // ollama or openai
	OllamaBaseURL string `yaml:"ollama_base_url"`
	LLMModel      string `yaml:"llm_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`

	// Ledger gateway
	APIBase         string `yaml:"api_base"`
	APIKey          string `yaml:"api_key"`
	InputTopicID    string `yaml:"input_topic_id"`
	OutputTopicID   string `yaml:"output_topic_id"`
	OverrideTopicID string `yaml:"override_topic_id"`
	EncryptionKey   string `yaml:"encryption_key"`

	// Market data
	MetalPriceAPIKey string `yaml:"metalprice_api_key"`
	FastForexAPIKey  string `yaml:"fastforex_api_key"`
	PriceHistoryDSN  string `yaml:"price_history_dsn"`
	QuoteRatePerSec  int    `yaml:"quote_rate_per_sec"`

	// Content addressing
	Gateways        []string `yaml:"gateways"`
	MaxResolveHops  int      `yaml:"max_resolve_hops"`
	RedisURL        string   `yaml:"redis_url"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	PinataJWT       string   `yaml:"pinata_jwt"`
	PinataAPIKey    string   `yaml:"pinata_api_key"`
	PinataSecretKey string   `yaml:"pinata_secret_key"`
	IPFSAPIURL      string   `yaml:"ipfs_api_url"`

	PolicyDir      string `yaml:"policy_dir"`
	ArchiveEnabled bool   `yaml:"archive_enabled"`

	// Telemetry
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		LLMProvider:   getEnv("LLM_PROVIDER", "ollama"),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		LLMModel:      getEnv("DEFAULT_LLM_MODEL", "llama3.1:8b"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),

		APIBase:         getEnv("SILSILAT_API_BASE", "http://localhost:9487"),
		APIKey:          os.Getenv("SILSILAT_API_KEY"),
		InputTopicID:    os.Getenv("INPUT_TOPIC_ID"),
		OutputTopicID:   os.Getenv("OUTPUT_TOPIC_ID"),
		OverrideTopicID: os.Getenv("OVERRIDE_TOPIC_ID"),
		EncryptionKey:   os.Getenv("IPFS_ENCRYPTION_KEY"),

		MetalPriceAPIKey: os.Getenv("METALPRICE_API_KEY"),
		FastForexAPIKey:  os.Getenv("FASTFOREX_API_KEY"),
		PriceHistoryDSN:  os.Getenv("PRICE_HISTORY_DSN"),
		QuoteRatePerSec:  getEnvInt("QUOTE_RATE_PER_SEC", 5),

		Gateways:        splitList(os.Getenv("IPFS_GATEWAYS")),
		MaxResolveHops:  getEnvInt("IPFS_MAX_HOPS", 8),
		RedisURL:        os.Getenv("REDIS_URL"),
		CacheTTLSeconds: getEnvInt("IPFS_CACHE_TTL_SECONDS", 3600),
		PinataJWT:       os.Getenv("PINATA_JWT"),
		PinataAPIKey:    os.Getenv("PINATA_API_KEY"),
		PinataSecretKey: os.Getenv("PINATA_SECRET_KEY"),
		IPFSAPIURL:      os.Getenv("IPFS_API_URL"),

		PolicyDir:      getEnv("POLICY_DIR", "policies"),
		ArchiveEnabled: os.Getenv("ARCHIVE_ENABLED") == "true",

		OTLPEndpoint: firstEnv("PHOENIX_COLLECTOR_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:  getEnv("PHOENIX_SERVICE_NAME", "silsilat-gold-evaluator"),
	}
}

// LoadFile loads the environment and then applies the YAML profile at path.
// Keys present in the profile override the environment; absent keys keep
// their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// TelemetryEnabled reports whether a collector endpoint is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.OTLPEndpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
