package commands

import (
	"context"
	"fmt"

	"github.com/anatoly-dev/game-realtime/internal/service"
	"github.com/anatoly-dev/game-realtime/pkg/config"
	"github.com/anatoly-dev/game-realtime/pkg/dispatcher"
	"github.com/anatoly-dev/game-realtime/pkg/handlers"
	"github.com/anatoly-dev/game-realtime/pkg/heartbeat"
	"github.com/anatoly-dev/game-realtime/pkg/kafka"
	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/ratelimit"
	"github.com/anatoly-dev/game-realtime/pkg/reconnect"
	"github.com/anatoly-dev/game-realtime/pkg/redis"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"github.com/anatoly-dev/game-realtime/pkg/websocket"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "1.0.0"

type Application struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	instanceID string
	metrics    *metrics.Metrics

	registry      *registry.Registry
	connLimiter   ratelimit.Limiter
	cmdLimiter    ratelimit.Limiter
	sweepers      []*ratelimit.FixedWindow
	redisStore    *redis.Store
	dispatcher    *dispatcher.Dispatcher
	wsManager     *websocket.Manager
	monitor       *heartbeat.Monitor
	kafkaConsumer *kafka.Consumer
	eventService  *service.EventService
	statsReporter *service.StatsReporter

	wsHandler      *handlers.WebSocketHandler
	healthHandler  *handlers.HealthCheckHandler
	metricsHandler *metrics.MetricsHandler
	server         *service.Server
}

func NewApplication(configPath string) *Application {
	return &Application{
		configPath: configPath,
	}
}

func (a *Application) Init() error {
	if err := a.initConfig(); err != nil {
		return err
	}

	if err := a.initLogger(); err != nil {
		return err
	}

	a.logger.Info("Starting game realtime service",
		zap.String("version", version),
		zap.String("rateLimitBackend", a.cfg.RateLimit.Backend),
		zap.Bool("kafka", a.cfg.Kafka.Enabled),
		zap.Bool("redis", a.cfg.Redis.Enabled))

	a.metrics = metrics.NewMetrics(a.cfg.Metrics.Namespace, nil)
	a.registry = registry.New()

	if err := a.initRedis(); err != nil {
		return err
	}

	a.initLimiters()
	a.initWebsocket()
	a.initHeartbeat()

	if err := a.initKafka(); err != nil {
		return err
	}

	a.initServices()
	a.initHandlers()
	a.initServer()

	return nil
}

func (a *Application) initConfig() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	a.instanceID = cfg.Server.ServerID
	if a.instanceID == "" {
		a.instanceID = uuid.New().String()
	}
	return nil
}

func (a *Application) initLogger() error {
	logger, err := config.NewLogger(&a.cfg.Logger, zap.String("serverId", a.instanceID))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *Application) initRedis() error {
	if !a.cfg.Redis.Enabled {
		return nil
	}

	store, err := redis.NewStore(&a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Redis store: %w", err)
	}
	store.SetMetrics(&a.metrics.Redis)
	a.redisStore = store
	return nil
}

func (a *Application) initLimiters() {
	rl := a.cfg.RateLimit
	reject := func(name string) {
		a.metrics.RateLimit.Rejected.WithLabelValues(name).Inc()
	}

	if rl.Backend == config.RateLimitBackendRedis {
		a.connLimiter = redis.NewWindowLimiter(a.redisStore, "connections", rl.ConnectionMax, rl.ConnectionWindow,
			redis.WithRejectHook(reject))
		a.cmdLimiter = redis.NewWindowLimiter(a.redisStore, "commands", rl.CommandMax, rl.CommandWindow,
			redis.WithRejectHook(reject))
		return
	}

	conn := ratelimit.NewFixedWindow("connections", rl.ConnectionMax, rl.ConnectionWindow,
		ratelimit.WithLogger(a.logger), ratelimit.WithRejectHook(reject))
	cmd := ratelimit.NewFixedWindow("commands", rl.CommandMax, rl.CommandWindow,
		ratelimit.WithLogger(a.logger), ratelimit.WithRejectHook(reject))
	a.connLimiter = conn
	a.cmdLimiter = cmd
	a.sweepers = []*ratelimit.FixedWindow{conn, cmd}
}

func (a *Application) initWebsocket() {
	a.dispatcher = dispatcher.NewDispatcher(a.registry, a.instanceID, a.logger)
	a.dispatcher.SetMetrics(&a.metrics.Dispatch)

	policy := reconnect.Policy{
		MaxRetries:   a.cfg.Reconnection.MaxRetries,
		BaseInterval: a.cfg.Reconnection.BaseInterval,
		MaxInterval:  a.cfg.Reconnection.MaxInterval,
		Exponential:  a.cfg.Reconnection.ExponentialBackoff,
	}

	a.wsManager = websocket.NewManager(websocket.Config{
		ServerID:          a.instanceID,
		AllowedOrigins:    a.cfg.Server.AllowedOrigins,
		TrustedProxies:    a.cfg.Server.TrustedProxies,
		SendQueueSize:     a.cfg.Server.SendQueueSize,
		MaxMessageSize:    a.cfg.Server.MaxMessageSize,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		HeartbeatInterval: a.cfg.Heartbeat.Interval,
	}, a.registry, a.dispatcher, a.connLimiter, a.cmdLimiter, policy, a.logger)
	a.wsManager.SetMetrics(a.metrics)
}

func (a *Application) initHeartbeat() {
	a.monitor = heartbeat.NewMonitor(heartbeat.Config{
		Interval:    a.cfg.Heartbeat.Interval,
		Timeout:     a.cfg.Heartbeat.Timeout,
		MaxMissed:   a.cfg.Heartbeat.MaxMissed,
		Adaptive:    a.cfg.Heartbeat.Adaptive,
		MaxInterval: a.cfg.Heartbeat.MaxInterval,
	}, a.registry, a.wsManager, a.logger)
	a.monitor.SetMetrics(&a.metrics.Heartbeat)
}

func (a *Application) initKafka() error {
	if !a.cfg.Kafka.Enabled {
		return nil
	}

	kafkaConsumer, err := kafka.NewConsumer(&a.cfg.Kafka, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	kafkaConsumer.SetMetrics(&a.metrics.Kafka)
	a.kafkaConsumer = kafkaConsumer
	return nil
}

func (a *Application) initServices() {
	if a.kafkaConsumer != nil {
		a.eventService = service.NewEventService(a.kafkaConsumer, a.dispatcher, a.logger)
	}

	a.statsReporter = service.NewStatsReporter(a.registry, a.instanceID, a.cfg.Stats.Interval, a.cfg.Stats.TTL, a.logger)
	a.statsReporter.SetMetrics(&a.metrics.Registry)
	if a.redisStore != nil {
		a.statsReporter.SetStore(a.redisStore)
	}
}

func (a *Application) initHandlers() {
	a.wsHandler = handlers.NewWebSocketHandler(a.wsManager, a.logger)
	a.healthHandler = handlers.NewHealthCheckHandler(a.registry, a.wsManager, a.instanceID, a.logger)
	a.metricsHandler = metrics.NewMetricsHandler(a.metrics, a.logger)
}

func (a *Application) initServer() {
	coordinator := service.NewShutdownCoordinator(a.wsManager, a.cfg.Shutdown.GracePeriod, a.logger)
	a.server = service.NewServer(a.wsHandler, a.healthHandler, a.metricsHandler, coordinator, a.logger, a.cfg)

	a.server.AddTask("heartbeat", a.monitor.Run)
	a.server.AddTask("stats", a.statsReporter.Run)
	a.server.AddTask("system-metrics", func(ctx context.Context) error {
		return a.metricsHandler.CollectSystemMetrics(ctx, a.cfg.Stats.Interval)
	})
	for _, limiter := range a.sweepers {
		limiter := limiter
		a.server.AddTask("sweep-"+limiter.Name(), func(ctx context.Context) error {
			return limiter.Run(ctx, a.cfg.RateLimit.CleanupInterval)
		})
	}
	if a.kafkaConsumer != nil {
		a.server.AddTask("kafka", a.kafkaConsumer.Run)
	}
	if a.redisStore != nil {
		a.server.AddCloser(a.redisStore.Close)
	}
}

func (a *Application) Run() error {
	return a.server.Start()
}

func (a *Application) Stop() {
	if a.logger != nil {
		a.logger.Sync()
	}
}

func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configPath)
			if err := app.Init(); err != nil {
				return err
			}
			defer app.Stop()
			return app.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}
