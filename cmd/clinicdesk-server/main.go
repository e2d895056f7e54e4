package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"clinicdesk/backend/internal/cache"
	"clinicdesk/backend/internal/config"
	"clinicdesk/backend/internal/google"
	"clinicdesk/backend/internal/lock"
	"clinicdesk/backend/internal/service/availability"
	"clinicdesk/backend/internal/service/booking"
	"clinicdesk/backend/internal/store/postgres"
	httpTransport "clinicdesk/backend/internal/transport/http"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "clinicdesk-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "clinicdesk-server"),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("source_mode", cfg.SourceMode),
		slog.String("fail_policy", cfg.FailPolicy),
		slog.String("log_level", cfg.LogLevel),
	)
	warnSharedCalendars(log, cfg.ResourceCalendars)

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	repo := postgres.NewAppointmentRepo(db)

	var tokenCache cache.Store = cache.NewMemory()
	if cfg.TokenCacheFile != "" {
		fc, err := cache.NewFile(cfg.TokenCacheFile)
		if err != nil {
			log.Warn("token cache file unavailable; using in-memory cache",
				slog.String("path", cfg.TokenCacheFile), slog.Any("err", err))
		} else {
			tokenCache = fc
		}
	}
	tokens := google.NewTokenProvider(google.TokenConfig{
		Email:         cfg.GoogleEmail,
		PrivateKeyPEM: cfg.GooglePrivateKey,
		TokenURL:      cfg.GoogleTokenURL,
		Scope:         cfg.GoogleScope,
	}, tokenCache)
	calClient := google.NewClient(tokens, cache.NewMemory(), google.ClientConfig{
		BaseURL:  cfg.GoogleBaseURL,
		TimeZone: cfg.TimeZone,
		CacheTTL: cfg.FreeBusyCacheTTL,
		Timeout:  cfg.GoogleTimeout,
	}, log)

	var locker lock.SlotLocker
	if cfg.RedisAddr != "" {
		locker = lock.NewRedisLocker(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		log.Info("using redis slot locks", slog.String("redis_addr", cfg.RedisAddr))
	} else {
		fl, err := lock.NewFileLocker(cfg.LockDir)
		if err != nil {
			log.Error("lock directory unavailable", slog.String("dir", cfg.LockDir), slog.Any("err", err))
			os.Exit(1)
		}
		locker = fl
		log.Info("using file slot locks", slog.String("dir", cfg.LockDir))
	}

	availSvc := availability.NewService(availability.Config{
		SourceMode:  cfg.SourceMode,
		FailPolicy:  cfg.FailPolicy,
		Location:    cfg.Location,
		StepMinutes: cfg.SlotStepMinutes,
		Durations:   cfg.ServiceDurations,
		Bindings:    cfg.ResourceCalendars,
		OpenTime:    cfg.OpenTime,
		CloseTime:   cfg.CloseTime,
	}, repo, repo, calClient, log)

	bookSvc := booking.NewService(booking.Config{
		Location:    cfg.Location,
		TimeZone:    cfg.TimeZone,
		StepMinutes: cfg.SlotStepMinutes,
		Durations:   cfg.ServiceDurations,
		Bindings:    cfg.ResourceCalendars,
		FailPolicy:  cfg.FailPolicy,
		LockWait:    cfg.LockWait,
		LockHold:    cfg.LockHold,
		ClinicName:  cfg.ClinicName,
		ClinicAddr:  cfg.ClinicAddress,
	}, availSvc, calClient, repo, repo, locker, log)

	srv := httpTransport.NewServer(availSvc, bookSvc, calClient, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.HTTPAddr)
	}()

	log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown failed", slog.Any("err", err))
		} else {
			log.Info("http server stopped")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// warnSharedCalendars flags two resources bound to the same calendar. It is
// tolerated so a single-calendar clinic still works, but "either" assignment
// degenerates to one effective resource.
func warnSharedCalendars(log *slog.Logger, bindings map[string]string) {
	seen := map[string]string{}
	for r, id := range bindings {
		if id == "" {
			continue
		}
		if other, ok := seen[id]; ok {
			log.Warn("resources share a calendar",
				slog.String("resource_a", other),
				slog.String("resource_b", r),
				slog.String("calendar", id),
			)
			return
		}
		seen[id] = r
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
