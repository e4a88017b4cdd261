package changefeed

import (
	"fmt"

	"github.com/stwalsh4118/inspections/api/internal/config"
	"github.com/stwalsh4118/inspections/api/internal/logger"
)

// Open builds the feed selected by cfg.Driver.
func Open(cfg config.ChangeFeedConfig, log *logger.Logger) (Feed, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemory(DefaultRetention, log), nil
	case config.DriverKafka:
		return NewKafka(KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
		}, log), nil
	case config.DriverRedis:
		return NewRedis(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown change feed driver %q", cfg.Driver)
	}
}
