package pubsub

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/exo-agent-assist/internal/config"
	"github.com/rapidaai/exo-agent-assist/internal/logging"
)

// New constructs the Bus named by cfg.PubsubAdapter. consumerName identifies
// this process within a Redis Streams consumer group (ignored by the other
// backings).
func New(cfg *config.AppConfig, logger logging.Logger, consumerName string) (Bus, error) {
	switch cfg.PubsubAdapter {
	case config.AdapterMemory, "":
		return NewMemoryBus(), nil
	case config.AdapterStreams:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		return NewStreamsBus(client, logger, consumerName), nil
	case config.AdapterLog:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("pubsub: KAFKA_BROKERS required for log adapter")
		}
		return NewKafkaBus(cfg.KafkaBrokers, logger), nil
	default:
		return nil, fmt.Errorf("pubsub: unknown adapter %q", cfg.PubsubAdapter)
	}
}
