package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/lean-coffee/internal/api"
	"github.com/Rrens/lean-coffee/internal/api/handler"
	"github.com/Rrens/lean-coffee/internal/config"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/Rrens/lean-coffee/internal/logging"
	"github.com/Rrens/lean-coffee/internal/push"
	"github.com/Rrens/lean-coffee/internal/realtime"
	"github.com/Rrens/lean-coffee/internal/repository/memory"
	"github.com/Rrens/lean-coffee/internal/repository/postgres"
	"github.com/Rrens/lean-coffee/internal/repository/redis"
	"github.com/Rrens/lean-coffee/internal/security"
	"github.com/Rrens/lean-coffee/internal/service"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("broker", cfg.Realtime.Broker).
		Str("push", cfg.Push.Provider).
		Msg("Starting Lean Coffee server")

	ready := map[string]handler.Pinger{}

	// Initialize storage
	repos, closeStore, err := openStore(ctx, cfg, ready)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		ready["redis"] = redisClient
	}

	g, gctx := errgroup.WithContext(ctx)

	// Realtime fabric
	hub := realtime.NewHub()
	defer hub.Close()

	var bus events.EventBus = realtime.NewLocalBus(hub)
	if cfg.Realtime.Broker == config.BrokerRedis {
		redisBus := redis.NewEventBus(redisClient, cfg.Realtime.Channel, bus)
		g.Go(func() error { return redisBus.Run(gctx) })
		bus = redisBus
	}

	// Push fanout
	sender, err := newSender(ctx, cfg.Push)
	if err != nil {
		return err
	}

	var fanout events.PushFanout = push.NopFanout{}
	switch {
	case cfg.Push.Provider == config.PushNone:
	case cfg.Push.UseQueue:
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		queueClient := asynq.NewClient(redisOpt)
		defer queueClient.Close()

		fanout = push.NewQueueFanout(queueClient, cfg.Push.TopicPrefix, push.QueueOptions{
			Queue:    cfg.Queue.PushQueue,
			MaxRetry: cfg.Queue.MaxRetry,
			Timeout:  cfg.Queue.TaskTimeout,
		})

		if cfg.Queue.RunWorker {
			worker := push.NewWorker(redisOpt, push.WorkerConfig{
				Concurrency: cfg.Queue.Concurrency,
				Queues:      cfg.Queue.Queues,
			}, sender)
			if err := worker.Start(); err != nil {
				return err
			}
			defer worker.Shutdown()
		}
	default:
		fanout = push.NewDirectFanout(sender, cfg.Push.TopicPrefix)
	}

	// Services
	dispatcherOpts := []events.Option{events.WithTimeout(cfg.Push.Timeout)}
	commandOpts := []service.Option{service.WithPolicies(service.PoliciesFrom(cfg.Lifecycle))}
	var deviceOpts []service.DeviceOption

	deps := api.Dependencies{
		Hub:   hub,
		JWT:   security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL),
		Ready: ready,
	}
	if redisClient != nil {
		boardCache := redis.NewBoardCache(redisClient, cfg.Cache.BoardTTL)
		dispatcherOpts = append(dispatcherOpts, events.WithBoardInvalidator(boardCache))
		commandOpts = append(commandOpts, service.WithBoardCache(boardCache))
		deviceOpts = append(deviceOpts, service.WithBoardInvalidator(boardCache))
		deps.BoardCache = boardCache

		if cfg.Security.RateLimit.Enabled {
			deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
		}
	}

	dispatcher := events.NewDispatcher(bus, fanout, dispatcherOpts...)
	deps.Commands = service.NewCommandService(repos, dispatcher, commandOpts...)
	deps.Devices = service.NewDeviceService(repos.Devices, repos.Participants, sender, cfg.Push.TopicPrefix, nil, deviceOpts...)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore connects the configured repository backend
func openStore(ctx context.Context, cfg *config.Config, ready map[string]handler.Pinger) (service.Repositories, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		store := memory.NewStore()
		return service.Repositories{
			Sessions:     store.Sessions(),
			Topics:       store.Topics(),
			Votes:        store.Votes(),
			Participants: store.Participants(),
			Notes:        store.Notes(),
			Devices:      store.Devices(),
		}, func() {}, nil
	}

	if err := postgres.RunMigrations(cfg.Database.DSN()); err != nil {
		return service.Repositories{}, nil, err
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return service.Repositories{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	ready["database"] = db

	r := postgres.NewRepositories(db.Pool)
	return service.Repositories{
		Sessions:     r.Sessions,
		Topics:       r.Topics,
		Votes:        r.Votes,
		Participants: r.Participants,
		Notes:        r.Notes,
		Devices:      r.Devices,
	}, db.Close, nil
}

// newSender builds the push provider. "none" still gets a LogSender so
// device subscriptions are recorded.
func newSender(ctx context.Context, cfg config.PushConfig) (push.Sender, error) {
	if cfg.Provider != config.PushFCM {
		return push.NewLogSender(), nil
	}

	sender, err := push.NewFCMSender(ctx, cfg.ProjectID, cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fcm: %w", err)
	}
	return sender, nil
}
