package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"classroom-relay/internal/archive"
	"classroom-relay/internal/capability"
	"classroom-relay/internal/cluster"
	"classroom-relay/internal/config"
	"classroom-relay/internal/db"
	"classroom-relay/internal/handlers"
	"classroom-relay/internal/middleware"
	"classroom-relay/internal/observability"
	"classroom-relay/internal/rabbitmq"
	"classroom-relay/internal/repositories"
	"classroom-relay/internal/telemetry"
	"classroom-relay/internal/ws"
)

const auditRoutingKey = "audit.relay"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("amqp publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	auditEmitter := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Environment)

	hubOpts := []ws.HubOption{ws.WithAudit(auditEmitter)}

	var roomVerifier middleware.RoomVerifier
	if cfg.RoomSecret != "" {
		issuer, err := capability.NewIssuer(cfg.RoomSecret)
		if err != nil {
			log.Fatalf("failed to init room capability: %v", err)
		}
		roomVerifier = issuer
		hubOpts = append(hubOpts, ws.WithJoinVerifier(issuer))
		log.Printf("room capability enforced on join")
	}

	var bridge *cluster.RedisBridge
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		bridge = cluster.NewRedisBridge(rdb, cluster.DefaultChannel)
		hubOpts = append(hubOpts, ws.WithBridge(bridge))
	}

	var history *handlers.HistoryHandler
	var recorder *archive.Recorder
	if cfg.DBDSN != "" {
		database, err := db.Connect(cfg.DBDSN)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		defer database.Close()

		roomMessageRepo := repositories.NewRoomMessageRepo(database)
		recorder = archive.NewRecorder(roomMessageRepo, 0)
		history = handlers.NewHistoryHandler(roomMessageRepo)
		hubOpts = append(hubOpts, ws.WithArchiver(recorder))
	}

	hub := ws.NewHub(hubOpts...)

	// Workers stop with ctx; shutdown waits for them so the archive drains.
	var workers sync.WaitGroup
	if bridge != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := bridge.Run(ctx, hub.DeliverRemote); err != nil {
				log.Printf("redis bridge stopped: %v", err)
			}
		}()
	}
	if recorder != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			recorder.Run(ctx)
		}()
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(cors.New(corsConfig(cfg)))

	relayWS := ws.NewRelayWebSocketHandler(hub, cfg.AllowedOrigins, cfg.SendBuffer)

	router.GET("/ws", relayWS.Handle)
	router.GET("/healthz", handlers.Health(hub))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if history != nil {
		router.GET("/rooms/:room_id/messages", middleware.RoomCapability(roomVerifier), history.GetRoomMessages)
	}
	handlers.RegisterDebugRoutes(router, hub, auditEmitter, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("relay listening port=%s env=%s", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	hub.Close()

	workersDone := make(chan struct{})
	go func() {
		workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Printf("workers did not stop in time")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
	if recorder != nil && recorder.Dropped() > 0 {
		log.Printf("archive dropped messages count=%d", recorder.Dropped())
	}
}

func corsConfig(cfg config.Config) cors.Config {
	c := cors.DefaultConfig()
	if cfg.AllowsAnyOrigin() {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", "X-Request-ID")
	return c
}
