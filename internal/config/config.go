// Package config loads process-level configuration from the environment via
// viper, and per-tenant runtime configuration from Postgres with
// hierarchical deep-merge and a short TTL cache.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PubsubAdapter selects the Transport backing.
type PubsubAdapter string

const (
	AdapterStreams PubsubAdapter = "streams"
	AdapterLog     PubsubAdapter = "log"
	AdapterMemory  PubsubAdapter = "memory"
)

// AppConfig is the process-wide configuration, loaded once at boot and
// passed down explicitly — no package-level singleton.
type AppConfig struct {
	// Pub/sub
	PubsubAdapter PubsubAdapter
	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string

	// Ingest
	HTTPAddr         string
	MaxBufferMs      int
	IdleCloseSeconds int
	EarlyAudioFilter bool
	BridgeEnabled    bool

	// ASR worker
	STTProviderURL   string
	STTProviderToken string

	// External LLM
	LLMAPIKey string
	LLMModel  string

	// KB
	KBTimeout time.Duration

	// Postgres (write-through store + tenant config)
	PostgresDSN string

	// Logging
	LogLevel string
	Dev      bool
}

// Load reads AppConfig from the environment via viper. Missing required
// values (credentials) are the caller's concern to fail fast on — Load
// itself never fails closed since defaults exist for local/dev runs; the
// caller (cmd/*/main.go) validates what it actually needs before using it.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PUBSUB_ADAPTER", string(AdapterMemory))
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("EXO_MAX_BUFFER_MS", 500)
	v.SetDefault("EXO_IDLE_CLOSE_S", 10)
	v.SetDefault("EXO_EARLY_AUDIO_FILTER", true)
	v.SetDefault("EXO_BRIDGE_ENABLED", false)
	v.SetDefault("LLM_MODEL", "claude-3-5-haiku-latest")
	v.SetDefault("KB_TIMEOUT_MS", 5000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "production")

	brokers := v.GetString("KAFKA_BROKERS")
	var brokerList []string
	if brokers != "" {
		brokerList = strings.Split(brokers, ",")
	}

	return &AppConfig{
		PubsubAdapter:    PubsubAdapter(v.GetString("PUBSUB_ADAPTER")),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		KafkaBrokers:     brokerList,
		HTTPAddr:         v.GetString("HTTP_ADDR"),
		MaxBufferMs:      v.GetInt("EXO_MAX_BUFFER_MS"),
		IdleCloseSeconds: v.GetInt("EXO_IDLE_CLOSE_S"),
		EarlyAudioFilter: v.GetBool("EXO_EARLY_AUDIO_FILTER"),
		BridgeEnabled:    v.GetBool("EXO_BRIDGE_ENABLED"),
		STTProviderURL:   v.GetString("STT_PROVIDER_URL"),
		STTProviderToken: v.GetString("STT_PROVIDER_TOKEN"),
		LLMAPIKey:        v.GetString("ANTHROPIC_API_KEY"),
		LLMModel:         v.GetString("LLM_MODEL"),
		KBTimeout:        time.Duration(v.GetInt("KB_TIMEOUT_MS")) * time.Millisecond,
		PostgresDSN:      v.GetString("POSTGRES_DSN"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		Dev:              strings.EqualFold(v.GetString("APP_ENV"), "development"),
	}, nil
}
