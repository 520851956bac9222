package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ridehail/internal/app"
	"ridehail/internal/broadcast"
	"ridehail/internal/config"
	"ridehail/internal/directions"
	"ridehail/internal/domain"
	"ridehail/internal/events"
	"ridehail/internal/fare"
	"ridehail/internal/handler"
	"ridehail/internal/logger"
	"ridehail/internal/middleware"
	"ridehail/internal/observability"
	"ridehail/internal/payments"
	internalRedis "ridehail/internal/redis"
	"ridehail/internal/repository"
	"ridehail/internal/repository/memory"
	"ridehail/internal/repository/postgres"
	"ridehail/internal/retry"
	"ridehail/internal/service"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logger.New(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.WithError(err).Warn("failed to initialize New Relic")
		} else {
			log.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled")
		}
	}

	var db *sql.DB
	if cfg.Store.Backend == config.StoreBackendPostgres {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()
		log.Info("connected to PostgreSQL")

		if cfg.Database.Migrate {
			if err := app.Migrate(ctx, db); err != nil {
				log.WithError(err).Fatal("failed to migrate database")
			}
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info("connected to Redis")
	}

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		log.WithError(err).Fatal("failed to create event publisher")
	}
	defer publisher.Close()

	// Wire dependencies.
	srv, err := wireServer(cfg, db, redisClient, publisher, nrApp, log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire server")
	}
	defer srv.hub.Close()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.run(runCtx, cfg, log); err != nil {
		log.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	log.Info("server exited")
}

// server holds the HTTP server and the background loops that share its
// lifetime.
type server struct {
	http       *http.Server
	hub        *broadcast.Hub
	dispatcher *service.Dispatcher
	feed       repository.PendingFeed
	expiry     *service.ExpiryWorker
	relay      *internalRedis.Relay
}

// wireServer wires all dependencies and returns the server.
func wireServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, publisher events.Publisher, nrApp *newrelic.Application, log *logrus.Logger) (*server, error) {
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// Ride store: Postgres in production, memory for local runs.
	var (
		rideRepo    repository.RideRepository
		historyRepo repository.HistoryRepository
		paymentRepo repository.PaymentRepository
		feed        repository.PendingFeed
	)
	if db != nil {
		pgRides := postgres.NewRideRepository(db)
		rideRepo = pgRides
		historyRepo = postgres.NewHistoryRepository(db)
		paymentRepo = postgres.NewPaymentRepository(db)
		feed = postgres.NewPendingFeed(cfg.Database.DSN(), pgRides, log)
	} else {
		store := memory.NewStore()
		rideRepo, historyRepo, feed = store, store, store
		paymentRepo = memory.NewPaymentStore()
		log.Warn("using in-memory ride store")
	}

	hub := broadcast.NewHub(log)

	// Driver sessions, locks, caches and push relay live in Redis when it
	// is configured. Interfaces stay nil otherwise.
	var (
		sessionStore  repository.SessionStore = memory.NewSessionStore()
		locker        service.Locker
		routeCache    directions.Cache
		responseStore middleware.ResponseStore
		sender        broadcast.Sender = hub
		relay         *internalRedis.Relay
	)
	if redisClient != nil {
		sessionStore = internalRedis.NewSessionStore(redisClient, cfg.Redis.SessionTTL)
		locker = internalRedis.NewLockStore(redisClient)
		cache := internalRedis.NewCacheStore(redisClient)
		routeCache, responseStore = cache, cache
		relay = internalRedis.NewRelay(redisClient, hub, log)
		sender = relay
	}

	var provider directions.Provider = directions.StraightLineProvider{}
	if cfg.Maps.APIKey != "" {
		google, err := directions.NewGoogleProvider(cfg.Maps.APIKey)
		if err != nil {
			return nil, err
		}
		provider = google
	}
	provider = directions.NewCachedProvider(provider, routeCache, cfg.Maps.CacheTTL, cfg.Maps.Timeout, log)

	psps := map[domain.PaymentMethod]payments.PSP{domain.PaymentMethodCash: payments.CashPSP{}}
	if cfg.Stripe.SecretKey != "" {
		psps[domain.PaymentMethodCard] = payments.NewStripePSP(cfg.Stripe.SecretKey, cfg.Stripe.Currency, cfg.Stripe.PaymentMethod)
	} else {
		log.Warn("stripe not configured, card rides will fail to settle")
	}

	engine, err := fare.NewEngine(fare.Config{
		BaseFare:       cfg.Fare.BaseFare,
		PerMile:        cfg.Fare.PerMile,
		MilesPerDegree: cfg.Fare.MilesPerDegree,
	})
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Retry.MaxRetries
	retryCfg.BaseDelay = cfg.Retry.BaseDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay

	// Initialize services.
	notifier := service.NewNotifier(sender, publisher, log)
	rideService := service.NewRideService(rideRepo, engine, notifier, retryCfg, metrics, log)
	etaService := service.NewETAService(rideRepo, provider, notifier, cfg.Maps.Timeout, log)
	tracker := service.NewSessionTracker(sessionStore, rideRepo, etaService, metrics, log)
	paymentService := service.NewPaymentService(paymentRepo, payments.NewMethodRouter(psps), log)
	lifecycle := service.NewLifecycleService(service.LifecycleDeps{
		Rides:    rideRepo,
		Sessions: tracker,
		Notifier: notifier,
		Payments: paymentService,
		ETA:      etaService,
		Retry:    retryCfg,
		Metrics:  metrics,
		Log:      log,
	})
	dispatcher := service.NewDispatcher(tracker, notifier, locker, service.DispatchConfig{
		Concurrency: cfg.Dispatch.Concurrency,
		SendTimeout: cfg.Dispatch.SendTimeout,
		RadiusKm:    cfg.Dispatch.RadiusKm,
	}, metrics, log)

	var expiry *service.ExpiryWorker
	if cfg.Expiry.Enabled {
		expiry = service.NewExpiryWorker(rideRepo, lifecycle, locker, cfg.Expiry.PendingTTL, cfg.Expiry.Interval, metrics, log)
	}

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		RideHandler:    handler.NewRideHandler(rideService, lifecycle, etaService),
		DriverHandler:  handler.NewDriverHandler(tracker),
		TripHandler:    handler.NewTripHandler(historyRepo),
		PaymentHandler: handler.NewPaymentHandler(paymentService),
		SocketHandler:  handler.NewSocketHandler(hub, tracker, log),
		ResponseStore:  responseStore,
		Metrics:        metrics,
		NewRelicApp:    nrApp,
		Log:            log,
	})

	// WriteTimeout is left unset on purpose: it would cut off long-lived
	// websocket connections.
	return &server{
		http: &http.Server{
			Addr:        ":" + cfg.Server.Port,
			Handler:     router,
			ReadTimeout: cfg.Server.ReadTimeout,
		},
		hub:        hub,
		dispatcher: dispatcher,
		feed:       feed,
		expiry:     expiry,
		relay:      relay,
	}, nil
}

// run serves until ctx is cancelled, then shuts everything down.
func (s *server) run(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("starting server")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return s.dispatcher.Run(ctx, s.feed)
	})

	if s.expiry != nil {
		g.Go(func() error {
			return s.expiry.Run(ctx)
		})
	}

	if s.relay != nil {
		g.Go(func() error {
			if err := s.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
