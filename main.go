package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"conversation-service/internal/config"
	"conversation-service/internal/db"
	"conversation-service/internal/handlers"
	"conversation-service/internal/identity"
	"conversation-service/internal/messaging"
	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
	"conversation-service/internal/presence"
	"conversation-service/internal/rabbitmq"
	"conversation-service/internal/repositories"
	"conversation-service/internal/rooms"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	conversations, messages, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	resolver, closeResolver, err := newResolver(cfg)
	if err != nil {
		return err
	}
	defer closeResolver()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, log)

	service := messaging.NewService(conversations, messages, nil, log, messaging.WithMaxContentLength(cfg.MaxContentLength))
	registry := presence.NewRegistry(log)
	hub := ws.NewHub(registry, rooms.NewManager(service, log), log)
	service.SetNotifier(hub)

	wsHandler := ws.NewHandler(hub, service, resolver, ws.Options{
		SendBuffer:      cfg.WSSendBuffer,
		PingInterval:    cfg.WSPingInterval,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
	}, log)
	conversationHandler := handlers.NewConversationHandler(service, audit, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Health(cfg.StoreDriver, registry))
	router.GET("/ws", wsHandler.Handle)
	handlers.RegisterDebugRoutes(router, audit, registry, cfg.DebugRoutes)

	authed := router.Group("/", middleware.AuthMiddleware(resolver))
	conversationHandler.Register(authed)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", server.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repositories.ConversationRepository, repositories.MessageRepository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		store := repositories.NewMemoryStore()
		log.Warn("using in-memory store, data is lost on restart")
		return store, store, func() {}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDSN, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	closeFn := func() { _ = database.Close() }
	return repositories.NewConversationRepo(database), repositories.NewMessageRepo(database), closeFn, nil
}

func newResolver(cfg config.Config) (identity.Resolver, func(), error) {
	if cfg.AuthGRPCAddr == "" {
		return identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer), func() {}, nil
	}

	conn, err := identity.Dial(cfg.AuthGRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to auth grpc: %w", err)
	}
	return identity.NewGRPCResolver(conn), func() { _ = conn.Close() }, nil
}
