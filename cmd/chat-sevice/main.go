package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dongzzi101/chat-sevice/internal/chat"
	"github.com/dongzzi101/chat-sevice/internal/config"
	"github.com/dongzzi101/chat-sevice/internal/delivery"
	"github.com/dongzzi101/chat-sevice/internal/fanout"
	"github.com/dongzzi101/chat-sevice/internal/handler"
	"github.com/dongzzi101/chat-sevice/internal/hotroom"
	"github.com/dongzzi101/chat-sevice/internal/id"
	"github.com/dongzzi101/chat-sevice/internal/session"
	"github.com/dongzzi101/chat-sevice/internal/shard"
	"github.com/dongzzi101/chat-sevice/internal/store"
	"github.com/dongzzi101/chat-sevice/internal/ws"
	pkgjwt "github.com/dongzzi101/chat-sevice/pkg/jwt"
	pkglog "github.com/dongzzi101/chat-sevice/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "chat-sevice",
	})
	logger := pkglog.L()

	logger.Info().
		Str(pkglog.FieldNode, cfg.Server.AdvertiseAddress).
		Msg("starting chat node")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	pingCancel()
	logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	shardSet, err := store.NewShardSet(cfg.Cassandra)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to cassandra shards")
	}
	defer shardSet.Close()
	logger.Info().Int("shards", shardSet.Len()).Msg("connected to cassandra")

	shardRouter := shard.NewRouter(shardSet.Len())
	messageStore := store.NewMessageStore(shardSet)
	roomStore := store.NewRoomStore(shardSet)

	machineID := cfg.Server.NodeID
	if machineID == 0 {
		machineID = id.MachineIDFromAddress(cfg.Server.AdvertiseAddress)
	}
	ids, err := id.NewGenerator(machineID, id.DefaultEpoch)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}

	directory := session.NewDirectoryStore(redisClient, cfg.Server.AdvertiseAddress)
	registry := session.NewRegistry(directory)

	forwarder := delivery.NewForwarder(cfg.Forward.MaxRetries, cfg.Forward.BaseDelay, cfg.Forward.CallTimeout)
	deliveryRouter := delivery.NewRouter(directory, registry, forwarder)

	producer, err := fanout.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka producer")
	}

	detector := hotroom.NewDetector(redisClient, cfg.HotRoom)
	flusher := hotroom.NewFlusher(redisClient, roomStore, cfg.HotRoom)

	chatSvc := chat.NewService(roomStore, messageStore, ids, shardRouter,
		registry, deliveryRouter, producer, detector, flusher)

	fanoutHandler := fanout.NewHandler(roomStore, directory, registry, deliveryRouter)
	consumer, err := fanout.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic,
		fanout.GroupID(cfg.Server.AdvertiseAddress), fanoutHandler)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka consumer")
	}

	var tokens *pkgjwt.Manager
	if cfg.Auth.Secret != "" {
		tokens = pkgjwt.NewManager(cfg.Auth.Secret)
	} else {
		logger.Warn().Msg("auth secret not configured, trusting client-supplied user ids")
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))

	wsHandler := ws.NewHandler(registry, chatSvc, tokens, cfg.WebSocket)
	router.GET("/ws", wsHandler.Handle)
	handler.NewInternalHandler(registry).RegisterRoutes(router)
	handler.NewHistoryHandler(chatSvc, tokens).RegisterRoutes(router)
	handler.NewHealthHandler(registry).RegisterRoutes(router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flusher.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start pointer flusher")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections write indefinitely
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("node exited with error")
	}

	logger.Info().Msg("shutting down chat node")

	consumer.Close()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	flusher.Stop(flushCtx)
	flushCancel()

	producer.Close()
	redisClient.Close()

	logger.Info().Msg("chat node stopped")
}
