package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tahmid-hasan/schedly/internal/directory"
	"github.com/tahmid-hasan/schedly/internal/handlers"
	"github.com/tahmid-hasan/schedly/internal/model"
	"github.com/tahmid-hasan/schedly/internal/notify"
	"github.com/tahmid-hasan/schedly/internal/outbox"
	"github.com/tahmid-hasan/schedly/internal/reminder"
	"github.com/tahmid-hasan/schedly/internal/schedule"
	"github.com/tahmid-hasan/schedly/internal/storage"
	"github.com/tahmid-hasan/schedly/libs/config"
	"github.com/tahmid-hasan/schedly/libs/db"
	"github.com/tahmid-hasan/schedly/libs/httpx"
	"github.com/tahmid-hasan/schedly/libs/kafkax"
	otelx "github.com/tahmid-hasan/schedly/libs/otel"
	"github.com/tahmid-hasan/schedly/libs/runtime"
)

// stores is the persistence bundle; either both pgx repositories or the
// in-memory store backing every role.
type stores struct {
	accounts interface {
		handlers.AccountStore
		directory.Source
	}
	appointments schedule.AppointmentStore
	reminders    reminder.Store
}

func main() {
	service := config.String("SERVICE_NAME", "schedly")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	var readyChecks []runtime.ReadyCheck

	// DATABASE_URL selects Postgres; without it the in-memory store serves
	// everything, which is only suitable for local development.
	var st stores
	var pool *db.Pool
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err = db.Open(ctx, dbURL, int32(config.Int("DB_MAX_CONNS", 10)))
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		apptRepo := storage.NewAppointmentRepository(pool)
		st = stores{
			accounts:     storage.NewAccountRepository(pool),
			appointments: apptRepo,
			reminders:    apptRepo,
		}
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
		mem := storage.NewMemory()
		st = stores{accounts: mem, appointments: mem, reminders: mem}
	}

	dir, err := directory.New(st.accounts, config.Int("DIRECTORY_CACHE_SIZE", 1024))
	if err != nil {
		panic(err)
	}

	var mailer *notify.Mailer
	if smtpHost := config.String("SMTP_HOST", ""); smtpHost != "" {
		mailer = notify.NewMailer(notify.NewSMTPSender(
			smtpHost,
			config.String("SMTP_PORT", "587"),
			config.String("SMTP_FROM", "no-reply@schedly.local"),
		))
	} else {
		logger.Warn("SMTP_HOST not set; mail delivery disabled")
		mailer = notify.NewMailer(notify.NoopSender{})
	}

	// The outbox needs Postgres; with the in-memory store events are simply
	// not recorded.
	var events schedule.EventSink
	if pool != nil {
		outboxRepo := outbox.NewRepository(pool)
		events = outbox.NewRecorder(outboxRepo, logger)
		brokers := config.String("KAFKA_BROKERS", "")
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
		if brokers != "" {
			readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	}

	engine := schedule.NewEngine(st.appointments, dir, mailer, events, logger)

	sweeper := reminder.NewSweeper(st.reminders, dir, mailer, events, logger)
	var rdb *redis.Client
	var locker reminder.Locker = reminder.NopLocker{}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		locker = reminder.NewRedisLocker(rdb)
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	sweepAt, err := model.ParseClockTime(config.String("REMINDER_SWEEP_AT", "09:00"))
	if err != nil {
		panic(err)
	}
	runner := reminder.NewRunner(sweeper, locker, logger, int(sweepAt)/60, int(sweepAt)%60)
	go runner.Run(ctx)

	handler := handlers.New(engine, dir, st.accounts, logger, jwtSecret)
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handler.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(30 * time.Second),
	}
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT", 120), time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT", 120), time.Minute)
		middlewares = append(middlewares, limiter.Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
