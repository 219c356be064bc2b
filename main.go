package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ChatX/global/config"
	"ChatX/logger"
	mid "ChatX/middleware"
	chathttp "ChatX/module/chat"
	chatsrv "ChatX/module/chat/service"
	"ChatX/module/chat/seq"
	userhttp "ChatX/module/user"
	usersrv "ChatX/module/user/service"
	wsgw "ChatX/service/chat"
	kafka "ChatX/service/dispatcher/kafka"
	mgoSrv "ChatX/service/mgo"
	redis "ChatX/service/storage/redis"
	syncsrv "ChatX/service/sync"
	"ChatX/service/upload"
	jwtlib "ChatX/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	config.ConfigAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mongo 就绪后才能建 store/索引
	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer waitCancel()
	if err := mgoSrv.WaitReady(waitCtx); err != nil {
		logger.Errorf("[boot] mongo not ready: %v", err)
		os.Exit(1)
	}
	db := mgoSrv.GetDB()
	client := mgoSrv.GetClient()

	// 控制面总线
	natsMgr, err := config.ConfigNats(syncsrv.ControlRoutes())
	if err != nil {
		logger.Errorf("[boot] nats: %v", err)
		os.Exit(1)
	}
	defer natsMgr.Close()

	// 消息流水总线
	if err := config.ConfigKafka(ctx, []string{config.Global.MessageEventTopic}); err != nil {
		logger.Errorf("[boot] kafka: %v", err)
		os.Exit(1)
	}
	defer func() {
		_ = kafka.CloseAsyncProducer()
		_ = kafka.CloseKafkaClient()
	}()

	pub := syncsrv.NewBrokerPublisher(natsMgr, config.Global.MessageEventTopic)

	// 存储层
	alloc := &seq.Allocator{Rdb: redis.GetRedis(), DAO: seq.NewDAO()}
	convStore := chatsrv.NewConversationStore(db, pub)
	msgStore := chatsrv.NewMessageStore(client, db, convStore, alloc, pub)
	reqStore := chatsrv.NewRequestStore(client, db, convStore, pub)
	presence := usersrv.NewRedisPresence(redis.GetRedis())
	userStore := usersrv.NewUserStore(client, db, presence, pub)

	initCtx, initCancel := context.WithTimeout(ctx, 15*time.Second)
	defer initCancel()
	for name, fn := range map[string]func(context.Context) error{
		"user":         userStore.EnsureIndexes,
		"conversation": convStore.EnsureIndexes,
		"message":      msgStore.EnsureIndexes,
		"request":      reqStore.EnsureIndexes,
		"broadcast":    convStore.EnsureBroadcast,
	} {
		if err := fn(initCtx); err != nil {
			logger.Errorf("[boot] init %s: %v", name, err)
			os.Exit(1)
		}
	}

	// 同步引擎：快照来自存储层，增量来自两条总线
	snapshots := chatsrv.NewSnapshotSource(db, msgStore, convStore, reqStore)
	engine := syncsrv.NewEngine(snapshots, syncsrv.Options{})
	if err := syncsrv.WireConsumers(engine, natsMgr, config.Global.MessageEventTopic); err != nil {
		logger.Errorf("[boot] wire consumers: %v", err)
		os.Exit(1)
	}

	jwtOpts := jwtlib.DefaultOptions(config.GetJwtSecret())
	uploads := upload.NewClient(config.Global.UploadEndpoint, config.Global.UploadMaxBytes)

	// HTTP + WS
	r := gin.New()
	r.Use(gin.Recovery(), mid.Origin())

	userH := &userhttp.Handler{Users: userStore, Uploads: uploads, JWT: jwtOpts}
	chatH := &chathttp.Handler{Conv: convStore, Msg: msgStore, Req: reqStore, JWT: jwtOpts}
	userH.RegisterRoutes(r)
	chatH.RegisterRoutes(r)

	gateway := wsgw.NewServer(engine, convStore, userStore, jwtOpts)
	r.GET("/ws", gateway.HandleWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Global.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("[boot] listening on %s topic=%s", srv.Addr, config.Global.MessageEventTopic)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[boot] http server: %v", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Infof("[boot] shutting down")

	// 先停订阅，再关外部件
	engine.Close()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	_ = redis.CloseRedis()
	logger.Sync()
}
