package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/core/services"
	httphandlers "meshlink/internal/handlers/http"
	"meshlink/internal/infrastructure/middleware"
	"meshlink/internal/infrastructure/monitoring"
	"meshlink/internal/infrastructure/repositories"
	wsignal "meshlink/internal/infrastructure/signal"
	"meshlink/pkg/config"
	"meshlink/pkg/logger"
	"meshlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// lateSender breaks the construction cycle between the services (which
// fan events out through a Sender) and the websocket server (which is the
// Sender but needs the services to dispatch).
type lateSender struct {
	target ports.Sender
}

func (s *lateSender) Send(ctx context.Context, endpoint domain.EndpointID, event string, payload interface{}) error {
	return s.target.Send(ctx, endpoint, event, payload)
}

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	slog := zlog.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		slog.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, slog)
	if err != nil {
		slog.Fatalw("failed to initialize registries", "error", err)
	}
	defer repoFactory.Close()

	users := repoFactory.CreateUserDirectory()
	offers := repoFactory.CreateOfferTable()
	rooms := repoFactory.CreateRoomDirectory()

	registry := prometheus.NewRegistry()
	var metrics *monitoring.SignalingMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewSignalingMetrics(registry)
		metrics.ObserveRegistries(
			func() int {
				open, err := offers.Open(context.Background())
				if err != nil {
					return 0
				}
				return len(open)
			},
			func() int {
				listed, err := rooms.ListPublic(context.Background())
				if err != nil {
					return 0
				}
				return len(listed)
			},
		)
	}

	sender := &lateSender{}
	roomService := services.NewRoomService(rooms, users, sender, services.RoomServiceOptions{
		DefaultMaxParticipants: cfg.Rooms.DefaultMaxParticipants,
		MaxParticipantsLimit:   cfg.Rooms.MaxParticipantsLimit,
	}, slog)
	routerService := services.NewRouterService(users, offers, rooms, sender, roomService, slog)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.SharedSecret, cfg.Auth.AccessTokenTTL)

	wsServer := wsignal.NewWebSocketServer(routerService, roomService, authService, metrics, slog)
	wsServer.SetPingInterval(cfg.Signal.PingInterval)
	wsServer.SetPongTimeout(cfg.Signal.PongTimeout)
	sender.target = wsServer

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/healthz", gin.WrapF(wsServer.HealthCheck))
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	httphandlers.NewAuthHandler(authService, cfg.Auth.SharedSecret, cfg.Auth.AccessTokenTTL).SetupRoutes(router)
	httphandlers.NewRoomHandler(roomService, authService).SetupRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Infow("signaling coordinator listening", "address", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warnw("graceful shutdown failed", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		slog.Warnw("tracer shutdown failed", "error", err)
	}
}
