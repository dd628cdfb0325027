// Package app wires every component into one explicit, typed App value per
// process — no package-level singletons, no globals. Grounded on
// _examples/codeready-toolchain-tarsy/cmd/tarsy/main.go: flag/env config
// load, explicit service-constructor wiring in dependency order, deferred
// closes, a minimal health route. This directly answers spec.md §9's first
// redesign flag.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/exo-agent-assist/internal/asr"
	"github.com/rapidaai/exo-agent-assist/internal/config"
	"github.com/rapidaai/exo-agent-assist/internal/consumer"
	"github.com/rapidaai/exo-agent-assist/internal/fanout"
	"github.com/rapidaai/exo-agent-assist/internal/httpapi"
	"github.com/rapidaai/exo-agent-assist/internal/ingest"
	"github.com/rapidaai/exo-agent-assist/internal/llmprovider"
	"github.com/rapidaai/exo-agent-assist/internal/logging"
	"github.com/rapidaai/exo-agent-assist/internal/model"
	"github.com/rapidaai/exo-agent-assist/internal/pubsub"
	"github.com/rapidaai/exo-agent-assist/internal/registry"
	"github.com/rapidaai/exo-agent-assist/internal/store"
	"github.com/rapidaai/exo-agent-assist/internal/summary"
	"github.com/rapidaai/exo-agent-assist/internal/sttprovider"
)

// App bundles every wired dependency a cmd/ main needs. Fields are typed
// handles, not interfaces-of-convenience: each cmd/ main reads only the
// fields its binary actually uses.
type App struct {
	Config   *config.AppConfig
	Logger   logging.Logger
	Bus      pubsub.Bus
	Registry registry.Registry
	Store    store.Store
	Tenants  *config.TenantConfigStore
	LLM      *llmprovider.Client

	Broadcaster *fanout.Broadcaster
	Consumer    *consumer.Consumer
	Summary     *summary.Generator

	IngestServer *ingest.Server
	ASRWorker    *asr.Worker
	HTTPAPI      *httpapi.API

	closers []func() error
}

// New builds every dependency in order: config is already loaded by the
// caller (each cmd/ main owns flag parsing), so New only connects to
// backing services and wires the component graph together.
func New(cfg *config.AppConfig, consumerName string) (*App, error) {
	logger, err := logging.New(cfg.Dev)
	if err != nil {
		return nil, fmt.Errorf("app: logging: %w", err)
	}

	bus, err := pubsub.New(cfg, logger, consumerName)
	if err != nil {
		return nil, fmt.Errorf("app: pubsub: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Bus: bus}
	a.addCloser(func() error { return bus.Close() })

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	a.addCloser(redisClient.Close)
	a.Registry = registry.NewRedisRegistry(redisClient)

	var db *gorm.DB
	if cfg.PostgresDSN != "" {
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("app: postgres handle: %w", err)
		}
		a.addCloser(sqlDB.Close)

		a.Store = store.NewPostgresStore(db)
		a.Tenants = config.NewTenantConfigStore(db, tenantCacheTTL)
	}

	a.LLM = llmprovider.NewClient(cfg.LLMAPIKey, cfg.LLMModel)
	a.Broadcaster = fanout.NewBroadcaster(logger)

	// kbRes/taxonomyRes stay nil interfaces (not typed-nil pointers) when
	// no tenant config store exists, so the nil checks in internal/consumer
	// and internal/summary work correctly against the interface value.
	var kbRes consumer.KBResolver
	var taxonomyRes summary.TaxonomyResolver
	if a.Tenants != nil {
		kbRes = newKBResolver(a.Tenants, db)
		taxonomyRes = newTaxonomyResolver(a.Tenants)
	}

	a.Consumer = consumer.New(logger, bus, a.Store, a.LLM, kbRes, a.Broadcaster)
	a.Summary = summary.NewGenerator(logger, a.Store, a.LLM, taxonomyRes)

	a.IngestServer = ingest.NewServer(logger, bus, a.Registry, ingest.Config{
		MaxBufferMs: cfg.MaxBufferMs,
		IdleClose:   secondsOrDefault(cfg.IdleCloseSeconds),
	})

	// The provider's token endpoint and streaming endpoint share a base URL
	// in this deployment; AppConfig has no separate token-endpoint field.
	provider := sttprovider.NewWSProvider(cfg.STTProviderURL, cfg.STTProviderURL, cfg.STTProviderToken, logger)
	a.ASRWorker = asr.NewWorker(logger, bus, provider, asr.Config{
		IdleClose:        secondsOrDefault(cfg.IdleCloseSeconds),
		EarlyAudioFilter: cfg.EarlyAudioFilter,
	})

	a.HTTPAPI = httpapi.New(a.Consumer, a.Registry, a.Store, a.Summary)

	return a, nil
}

func (a *App) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close tears down every backing connection in reverse wiring order. The
// first error encountered is returned; every closer still runs so a single
// failing close doesn't leak the rest.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SubscribeTranscriptConsumer wires the Consumer's bus handlers onto the
// shared topics. Separate from New so a cmd/ main can choose which
// subscriptions its process actually owns (the consumer binary subscribes
// to transcript_stream and call_end; the ASR worker binary does not).
func (a *App) SubscribeTranscriptConsumer(ctx context.Context) error {
	if _, err := a.Bus.Subscribe(ctx, pubsub.TranscriptTopic(""), "consumer", a.Consumer.HandleTranscript); err != nil {
		return fmt.Errorf("app: subscribe transcript: %w", err)
	}
	if _, err := a.Bus.Subscribe(ctx, pubsub.CallEndTopic, "consumer", a.Consumer.HandleCallEnd); err != nil {
		return fmt.Errorf("app: subscribe call_end: %w", err)
	}
	return nil
}

// SubscribeAudioWorker wires the ASR worker onto the shared audio topic.
// The worker itself exposes no Subscribe loop (internal/asr stays
// transport-agnostic) so the glue lives here, one level up.
func (a *App) SubscribeAudioWorker(ctx context.Context) error {
	_, err := a.Bus.Subscribe(ctx, pubsub.AudioTopic(""), "asrworker", func(ctx context.Context, msg pubsub.Message) error {
		var frame model.AudioFrame
		if decodeErr := json.Unmarshal(msg.Envelope.Payload, &frame); decodeErr != nil {
			a.Logger.Warnf("app: undecodable audio frame: %v", decodeErr)
			return nil
		}
		return a.ASRWorker.SendAudioChunk(ctx, frame)
	})
	if err != nil {
		return fmt.Errorf("app: subscribe audio: %w", err)
	}
	return nil
}

const tenantCacheTTL = 5 * time.Second

func secondsOrDefault(n int) time.Duration {
	if n <= 0 {
		n = 10
	}
	return time.Duration(n) * time.Second
}
