package kafka

import (
	"github.com/Shopify/sarama"
)

// Config In-code 配置（不读 YAML）
type Config struct {
	Brokers               []string
	GroupID               string
	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	ConsumerInitialOffset string // newest/oldest
	KafkaVersion          sarama.KafkaVersion
}

// DefaultConfig 单机默认值，按需在 global/config 覆盖。
func DefaultConfig() Config {
	return Config{
		Brokers:               []string{"127.0.0.1:9092"},
		GroupID:               "chatx-sync-1",
		ProducerRetries:       5,
		ProducerCompression:   "snappy",
		ConsumerInitialOffset: "newest",
		KafkaVersion:          sarama.V2_1_0_0,
	}
}

var KafkaClient sarama.Client

// InitKafkaClient 建立全局 client；producer/consumer 复用同一连接。
func InitKafkaClient(cfg Config) error {
	sc := sarama.NewConfig()
	sc.Version = cfg.KafkaVersion
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = cfg.ProducerRetries
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	switch cfg.ProducerCompression {
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}
	if cfg.ConsumerInitialOffset == "oldest" {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	KafkaClient = client
	return nil
}

func CloseKafkaClient() error {
	if KafkaClient != nil {
		return KafkaClient.Close()
	}
	return nil
}
