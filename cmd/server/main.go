package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"schoolboard/internal/accounts"
	"schoolboard/internal/announcements"
	"schoolboard/internal/classes"
	"schoolboard/internal/config"
	"schoolboard/internal/events"
	schoolgrpc "schoolboard/internal/grpc"
	internalhttp "schoolboard/internal/http"
	"schoolboard/internal/identity"
	"schoolboard/internal/jobs"
	"schoolboard/internal/lessons"
	"schoolboard/internal/live"
	"schoolboard/internal/metrics"
	"schoolboard/internal/parliament"
	"schoolboard/internal/resolver"
	"schoolboard/internal/roster"
	"schoolboard/internal/slots"
	"schoolboard/internal/store"
	"schoolboard/internal/store/memory"
	"schoolboard/internal/store/postgres"
	"schoolboard/internal/timetable"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()

	schedule := slots.Default()
	if cfg.BellSchedule != "" {
		schedule, err = slots.Parse(cfg.BellSchedule, cfg.SchoolDays)
		if err != nil {
			logger.Fatal("invalid bell schedule", zap.Error(err))
		}
	}
	loc, err := time.LoadLocation(cfg.SchoolTimezone)
	if err != nil {
		logger.Fatal("invalid school timezone", zap.String("timezone", cfg.SchoolTimezone), zap.Error(err))
	}

	var (
		broker   events.Broker        = events.NewMemoryBroker()
		drafts   timetable.DraftStore = timetable.NewMemoryDrafts(cfg.DraftTTL)
		override live.OverrideStore   = live.NewMemoryOverride()
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		broker = events.NewRedisBroker(redisClient, logger.Named("events"))
		drafts = timetable.NewRedisDrafts(redisClient, cfg.DraftTTL)
		override = live.NewRedisOverride(redisClient)
	}

	var provider identity.Provider = identity.NopProvider{}
	if cfg.IdentityBaseURL != "" {
		provider = identity.NewHTTPProvider(cfg.IdentityBaseURL, cfg.ServiceAuthToken, cfg.IdentityTimeout)
	} else {
		logger.Warn("identity provider not configured, accounts are local only")
	}

	var base live.Clock = live.NewSystemClock(loc)
	if cfg.DisplayClockDay != "" || cfg.DisplayClockTime != "" {
		moment, err := live.ParseMoment(cfg.DisplayClockDay, cfg.DisplayClockTime)
		if err != nil {
			logger.Fatal("invalid display clock", zap.Error(err))
		}
		base = live.FixedClock(moment)
	}
	clock := &live.OverrideClock{Base: base, Source: override}

	m := metrics.New()
	res := resolver.New(st, cfg.QueryBatchSize)
	aggregator := live.NewAggregator(st, res)
	hub := live.NewHub(aggregator, clock, broker, m, logger.Named("hub"), live.HubConfig{
		RotationInterval: cfg.DisplayRotationInterval,
		PushInterval:     cfg.DisplayPushInterval,
	})
	announcementSvc := announcements.NewService(st, m, broker, logger)
	rosterSvc := roster.NewService(st, res, m, broker, logger)

	svc := internalhttp.Services{
		Accounts:      accounts.NewService(st, provider, res, cfg.AccountEmailDomain, broker, logger),
		Classes:       classes.NewService(st, res, broker, logger),
		Lessons:       lessons.NewService(st, rosterSvc, broker, logger),
		Roster:        rosterSvc,
		Timetable:     timetable.NewService(st, drafts, res, schedule, m, broker, logger),
		Aggregator:    aggregator,
		Clock:         clock,
		ClockOverride: override,
		Hub:           hub,
		Announcements: announcementSvc,
		Parliament:    parliament.NewService(st, broker, logger),
	}
	server := internalhttp.NewServer(cfg, st, svc, broker, m, logger.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go hub.Run(ctx)
	jobs.StartDisplayRefresh(ctx, broker, time.Minute, logger.Named("jobs"))
	if _, err := jobs.StartAnnouncementPurge(ctx, cfg.AnnouncementPurgeSchedule, cfg.AnnouncementRetention, announcementSvc, logger.Named("jobs")); err != nil {
		logger.Fatal("announcement purge schedule invalid", zap.Error(err))
	}
	if sweeper, ok := drafts.(jobs.Sweeper); ok {
		jobs.StartDraftSweep(ctx, cfg.DraftSweepInterval, sweeper, logger.Named("jobs"))
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	var grpcServer *schoolgrpc.Server
	if cfg.ServiceAuthToken != "" {
		grpcServer, err = schoolgrpc.NewServer(cfg.ServiceAuthToken, logger.Named("grpc"))
		if err != nil {
			logger.Fatal("grpc init failed", zap.Error(err))
		}
		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				logger.Fatal("grpc listen error", zap.Error(err))
			}
			if err := grpcServer.Serve(listener); err != nil {
				logger.Fatal("grpc server error", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("SERVICE_AUTH_TOKEN not set, grpc health endpoint disabled")
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	case "postgres", "":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := postgres.NewStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
