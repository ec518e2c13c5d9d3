package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/teamsched/libs/config"
	"github.com/md-rashed-zaman/teamsched/libs/db"
	"github.com/md-rashed-zaman/teamsched/libs/httpx"
	"github.com/md-rashed-zaman/teamsched/libs/kafkax"
	otelx "github.com/md-rashed-zaman/teamsched/libs/otel"
	"github.com/md-rashed-zaman/teamsched/libs/runtime"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/busy"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/busycache"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/finder"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/jobs"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/providers/google"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/providers/ics"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/recurrence"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/migrations"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8085")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	poolOpts, err := db.PoolOptionsFromEnv()
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, poolOpts)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("MIGRATE_ON_START", true) {
		if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
	}

	providerTimeout, err := config.Duration("PROVIDER_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	maxOccurrences, err := config.Int("RECURRENCE_MAX_OCCURRENCES", recurrence.DefaultMaxOccurrences)
	if err != nil {
		panic(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	events := storage.NewEventRepository(pool)
	templates := storage.NewTemplateRepository(pool)
	credentials := storage.NewCredentialRepository(pool)
	feeds := storage.NewFeedRepository(pool)

	expander := recurrence.New(logger, recurrence.WithMaxOccurrences(maxOccurrences))

	var external []busy.Provider
	if path := strings.TrimSpace(config.String("GOOGLE_CREDENTIALS_FILE", "")); path != "" {
		credJSON, err := os.ReadFile(path)
		if err != nil {
			logger.Error("google credentials unreadable; provider disabled", "path", path, "err", err)
		} else if gp, err := google.NewProvider(credJSON, credentials, logger,
			google.WithCalendarID(config.String("GOOGLE_CALENDAR_ID", "primary")),
		); err != nil {
			logger.Error("google provider init failed; provider disabled", "err", err)
		} else {
			external = append(external, gp)
		}
	}
	if config.Bool("ICS_ENABLED", true) {
		icsTimeout, err := config.Duration("ICS_FETCH_TIMEOUT", 15*time.Second)
		if err != nil {
			panic(err)
		}
		external = append(external, ics.NewProvider(feeds, icsTimeout, logger))
	}

	var (
		cache *busycache.Cache
		rdb   *redis.Client
	)
	redisAddr := strings.TrimSpace(config.String("REDIS_ADDR", ""))
	if redisAddr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			panic(err)
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		ttl, err := config.Duration("BUSY_CACHE_TTL", 5*time.Minute)
		if err != nil {
			panic(err)
		}
		callsPerMinute, err := config.Int("PROVIDER_CALLS_PER_MINUTE", 30)
		if err != nil {
			panic(err)
		}
		cache = busycache.New(rdb, ttl, logger,
			busycache.WithRecorder(m),
			busycache.WithRateLimit(callsPerMinute, time.Minute),
			busycache.WithPrefix(config.String("REDIS_PREFIX", "teamsched")),
		)
		for i, p := range external {
			external[i] = cache.Wrap(p)
		}
		logger.Info("busy cache enabled", "redis_addr", redisAddr, "ttl", ttl.String(), "calls_per_minute", callsPerMinute)
	}

	aggOpts := []busy.Option{busy.WithSourceTimeout(providerTimeout), busy.WithRecorder(m)}
	for _, p := range external {
		aggOpts = append(aggOpts, busy.WithProvider(p))
	}
	aggregator := busy.New(events, expander, logger, aggOpts...)
	generator := availability.NewGenerator(templates, aggregator, logger)
	finderSvc := finder.NewService(aggregator, logger, finder.WithRecorder(m))

	brokers := config.String("KAFKA_BROKERS", "")
	if len(kafkax.SplitBrokers(brokers)) == 0 {
		logger.Warn("kafka consumers disabled (no kafka brokers configured)")
	} else {
		publisher := jobs.NewPublisher(brokers, logger)
		defer func() { _ = publisher.Close() }()

		h := &jobs.Handlers{
			Finder:    finderSvc,
			Slots:     generator,
			Instances: aggregator,
			Emitter:   publisher,
			Recorder:  m,
			Logger:    logger,
		}
		if cache != nil {
			h.Cache = cache
		}

		inboxRepo := inbox.NewRepository(pool)
		groupID := config.String("KAFKA_GROUP_ID", service)
		startConsumer := func(topic string, handler consumer.Handler) {
			if strings.TrimSpace(topic) == "" {
				return
			}
			c := consumer.New(logger, inboxRepo, consumer.Config{
				Brokers: brokers,
				GroupID: groupID,
				Topic:   topic,
			}, handler, consumer.WithRecorder(m))
			go c.Run(ctx)
		}
		startConsumer(config.String("KAFKA_TOPIC_SUGGESTIONS", jobs.TopicSuggestionsRequested), h.Suggestions)
		startConsumer(config.String("KAFKA_TOPIC_SLOTS", jobs.TopicSlotsRequested), h.AvailableSlots)
		startConsumer(config.String("KAFKA_TOPIC_DAYVIEW", jobs.TopicDayViewRequested), h.DayView)
		startConsumer(config.String("KAFKA_TOPIC_ACCOUNT_UPDATED", jobs.TopicAccountUpdated), h.AccountUpdated)
	}

	var redisCheck func(context.Context) error
	if rdb != nil {
		redisCheck = busycache.ReadyCheck(rdb)
	}
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: runtime.Optional(brokers != "", kafkax.ReadyCheck(brokers))},
		runtime.ReadyCheck{Name: "redis", Check: runtime.Optional(rdb != nil, redisCheck)},
	)
	mux.Handle("/metrics", metrics.Handler(reg))

	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "providers", providerNames(external))
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

func providerNames(ps []busy.Provider) []string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, string(p.Source()))
	}
	return names
}
