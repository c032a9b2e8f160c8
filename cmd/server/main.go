package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/devrooms/internal/adapters/http"
	"github.com/dkeye/devrooms/internal/adapters/rtc"
	rtcsignal "github.com/dkeye/devrooms/internal/adapters/signal"
	"github.com/dkeye/devrooms/internal/adapters/store"
	"github.com/dkeye/devrooms/internal/app"
	"github.com/dkeye/devrooms/internal/app/orch"
	"github.com/dkeye/devrooms/internal/config"
	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
)

func openStore(ctx context.Context, cfg *config.Config) (core.RoomStore, core.Notifier, func(), error) {
	if cfg.Store != "redis" {
		return store.NewMemoryStore(), app.NewLocalNotifier(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	log.Info().Str("module", "store.redis").Str("addr", cfg.Redis.Addr).Int("db", cfg.Redis.DB).Msg("connected")
	return store.NewRedisStore(rdb), store.NewRedisNotifier(rdb), func() { _ = rdb.Close() }, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	rooms, notifier, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	tokens := rtcsignal.NewTokens(cfg.Secret, cfg.RTC.TokenTTL)
	hub := rtcsignal.NewHub(tokens,
		rtcsignal.NewRoomRateLimiter(cfg.RTC.JoinRateLimit, cfg.RTC.JoinRateInterval),
		app.SimplePolicy{},
		rtcsignal.Config{
			ReadLimit:  cfg.RTC.ReadLimit,
			PingPeriod: cfg.RTC.PingPeriod,
			WebRTC:     rtc.Config(cfg.RTC.ICEServers),
		})

	limits := domain.Limits{MinParticipants: cfg.Rooms.MinParticipants, MaxParticipants: cfg.Rooms.MaxParticipants}
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(rooms, notifier, limits),
		Admission: app.NewAdmission(rooms, notifier),
		Binder:    app.NewBinder(rooms, notifier),
		Sessions:  hub,
		Tokens:    tokens,
		Timeout:   cfg.Rooms.OpTimeout,
	}
	hub.OnDisconnect = o.OnParticipantDisconnected

	r := router.SetupRouter(ctx, cfg, router.NewHandlers(o, notifier), hub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store).Msg("devrooms server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
