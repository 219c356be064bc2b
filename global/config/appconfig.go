package config

import (
	"os"
	"strconv"
)

// AppConfig 进程内配置（不读 YAML，环境变量覆盖默认值）
type AppConfig struct {
	NodeID  string
	Port    int // http 启动端口
	GroupID string

	MongoURI      string
	MongoDatabase string
	MongoUser     string
	MongoPassword string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsServers []string

	KafkaBrokers      []string
	MessageEventTopic string

	JWTSecret string

	UploadEndpoint string
	UploadMaxBytes int64
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		NodeID:  envString("CHATX_NODE_ID", "chatx_10"),
		Port:    envInt("CHATX_PORT", 8080),
		GroupID: envString("CHATX_KAFKA_GROUP", ""),

		MongoURI:      envString("CHATX_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: envString("CHATX_MONGO_DB", "chatx"),
		MongoUser:     envString("CHATX_MONGO_USER", ""),
		MongoPassword: envString("CHATX_MONGO_PASSWORD", ""),

		RedisAddr:     envString("CHATX_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: envString("CHATX_REDIS_PASSWORD", ""),
		RedisDB:       envInt("CHATX_REDIS_DB", 0),

		NatsServers: []string{envString("CHATX_NATS_URL", "nats://127.0.0.1:4222")},

		KafkaBrokers:      []string{envString("CHATX_KAFKA_BROKER", "127.0.0.1:9092")},
		MessageEventTopic: envString("CHATX_MESSAGE_TOPIC", "chatx_message_events"),

		JWTSecret: envString("CHATX_JWT_SECRET", "mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o="),

		UploadEndpoint: envString("CHATX_UPLOAD_ENDPOINT", "http://127.0.0.1:9000/upload"),
		UploadMaxBytes: int64(envInt("CHATX_UPLOAD_MAX_BYTES", 8<<20)),
	}
	if cfg.GroupID == "" {
		// 消费组按节点隔离：每个网关节点都要消费全部分区，
		// 共享消费组会把会话瓜分到不同节点，本地订阅者漏消息
		cfg.GroupID = "chatx-sync-" + cfg.NodeID
	}
	return cfg
}
