package config

import (
	"context"

	"ChatX/data/database/mgo/mongoutil"
	"ChatX/logger"
	kafka "ChatX/service/dispatcher/kafka"
	mgoSrv "ChatX/service/mgo"
	"ChatX/service/natsx"
	redis "ChatX/service/storage/redis"
	ids "ChatX/tools/ids"
)

var Global = defaultAppConfig()

func ConfigAll() {
	ConfigIds()
	ConfigRedis()
	ConfigMgo()
}

func ConfigIds() {
	logger.Infof("配置id生成")
	ids.SetNodeID(100)
}

func GetJwtSecret() []byte {
	return []byte(Global.JWTSecret)
}

func ConfigRedis() {
	cfg := redis.Config{
		Addr:     Global.RedisAddr,
		Password: Global.RedisPassword,
		DB:       Global.RedisDB,
	}
	if err := redis.InitRedis(cfg); err != nil {
		logger.Errorf("[Redis][ERR] init: %v", err)
	}
}

func ConfigMgo() {
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg := &mongoutil.Config{
			Uri:         Global.MongoURI,
			Database:    Global.MongoDatabase,
			Username:    Global.MongoUser,
			Password:    Global.MongoPassword,
			MaxPoolSize: 20,
			MaxRetry:    3, // StartAsync 里另做指数退避
		}

		mgoSrv.StartAsync(ctx, cfg)
		if err := mgoSrv.WaitReady(ctx); err != nil {
			return
		}
		<-ctx.Done()
	}()
}

// ConfigNats 建立控制面变更总线（会话/请求/用户事件走 NATS）
func ConfigNats(routes []natsx.NatsxRoute, mws ...natsx.NatsxMiddleware) (*natsx.NatsManager, error) {
	mgr, err := natsx.NewNatsManager(natsx.NatsxConfig{
		Servers: Global.NatsServers,
		Name:    "chatx-" + Global.NodeID,
	}, mws...)
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		if err := mgr.RegisterRoute(r); err != nil {
			_ = mgr.Close()
			return nil, err
		}
	}
	return mgr, nil
}

// ConfigKafka 在后台 goroutine 中启动 Kafka Client / Producer / ConsumerGroup
func ConfigKafka(ctx context.Context, topics []string) error {
	cfg := kafka.DefaultConfig()
	cfg.Brokers = Global.KafkaBrokers
	cfg.GroupID = Global.GroupID

	if err := kafka.InitKafkaClient(cfg); err != nil {
		return err
	}
	if err := kafka.InitAsyncProducerFromClient(); err != nil {
		return err
	}
	go func() {
		if err := kafka.StartConsumerGroup(ctx, cfg.GroupID, topics); err != nil {
			logger.Errorf("[Kafka][ERR] consumer group: %v", err)
		}
	}()
	return nil
}
