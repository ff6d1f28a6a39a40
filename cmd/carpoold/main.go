package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-sync/internal/api"
	"github.com/example/carpool-sync/internal/auth"
	"github.com/example/carpool-sync/internal/config"
	"github.com/example/carpool-sync/internal/dedup"
	"github.com/example/carpool-sync/internal/dispatch"
	"github.com/example/carpool-sync/internal/events"
	"github.com/example/carpool-sync/internal/fare"
	"github.com/example/carpool-sync/internal/geo"
	httpapi "github.com/example/carpool-sync/internal/http"
	"github.com/example/carpool-sync/internal/logging"
	"github.com/example/carpool-sync/internal/matcher"
	"github.com/example/carpool-sync/internal/models"
	"github.com/example/carpool-sync/internal/payments"
	"github.com/example/carpool-sync/internal/storage"
	"github.com/example/carpool-sync/internal/views"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("carpoold exited", "error", err)
		os.Exit(1)
	}
}

// resources owns everything that needs closing on shutdown.
type resources struct {
	redis     *redis.Client
	db        *sql.DB
	publisher events.Publisher
}

func (r *resources) close(logger *slog.Logger) {
	if r.publisher != nil {
		if err := r.publisher.Close(); err != nil {
			logger.Warn("close publisher", "error", err)
		}
	}
	if r.db != nil {
		_ = r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	res := &resources{}
	defer res.close(logger)

	if cfg.RedisAddr != "" {
		res.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := res.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	}

	var journal storage.Journal = storage.NewMemoryJournal()
	if cfg.PGDSN != "" {
		db, err := storage.OpenPostgres(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		res.db = db
		if cfg.RunMigrations {
			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("migration applied", "table", "event_journal")
		}
		journal = storage.NewPostgresJournal(db)
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	res.publisher = publisher

	session := auth.NewSession(sessionStore(cfg, res.redis))
	client := api.NewClient(cfg.BackendURL, cfg.BackendTimeout, session)
	estimator := fare.NewEstimator(fare.Config{
		BaseFare:           models.Rupees(cfg.BaseFareRupees),
		PerKmRate:          models.Rupees(cfg.PerKmRupees),
		FallbackDistanceKm: cfg.FallbackDistanceKm,
	})

	var gateway payments.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeAPIKey, cfg.PaymentCurrency)
	} else {
		logger.Warn("STRIPE_API_KEY not set, card payments will stay pending")
	}

	ws := dispatch.NewWSRegistry(logger)
	deps := views.Deps{
		Backend:  client,
		Fare:     estimator,
		Matcher:  matcher.NewService(geoIndex(res.redis), cfg.NearbyRadiusKm),
		Payments: &payments.Processor{Backend: client, Gateway: gateway, Logger: logger},
		Push:     ws,
		Events:   publisher,
		Journal:  journal,
		Seen:     seenFactory(res.redis, cfg.RedisSeenTTL),
		Intervals: views.Intervals{
			Ride:                cfg.RidePollInterval,
			Requests:            cfg.RequestPollInterval,
			DriverNotifications: cfg.DriverNotificationInterval,
			RiderNotifications:  cfg.RiderNotificationInterval,
			Earnings:            cfg.EarningsInterval,
			Nearby:              cfg.NearbyInterval,
			RiderRide:           cfg.RiderRideInterval,
			AllowOverlap:        cfg.AllowOverlappingPolls,
		},
		NotificationWindow: cfg.NotificationWindow,
		Logger:             logger,
	}

	vm := views.NewManager(ctx, deps, session, ws)
	defer vm.Close()
	if err := session.Restore(ctx); err != nil {
		logger.Warn("restore session", "error", err)
	}
	if id, ok := session.Current(); ok {
		vm.Mount(id)
		logger.Info("session restored", "user_id", id.UserID, "role", id.Role)
	}

	srv := httpapi.NewServer(session, vm, estimator, ws, httpapi.Options{
		AllowedOrigins: cfg.WSAllowedOrigins,
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("carpoold listening", "addr", cfg.HTTPAddr, "backend", cfg.BackendURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func sessionStore(cfg config.Config, rdb *redis.Client) auth.Store {
	if rdb != nil {
		return auth.NewRedisStore(rdb, "carpool:session:")
	}
	return auth.NewFileStore(cfg.StateDir)
}

// seenFactory keeps per-user dedup sets in Redis when available so that a
// restart does not replay prompts.
func seenFactory(rdb *redis.Client, ttl time.Duration) func(int64, string) dedup.Set {
	if rdb == nil {
		return nil
	}
	return func(userID int64, kind string) dedup.Set {
		return dedup.NewRedis(rdb, strconv.FormatInt(userID, 10), kind, ttl)
	}
}

func geoIndex(rdb *redis.Client) geo.Index {
	if rdb == nil {
		return geo.NewMemoryIndex()
	}
	return geo.NewRedisIndex(rdb, "carpool:rides:geo")
}

func newPublisher(cfg config.Config, logger *slog.Logger) (events.Publisher, error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		logger.Info("publishing view events to kafka", "topic", cfg.KafkaTopic)
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case cfg.AMQPURL != "":
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("amqp: %w", err)
		}
		logger.Info("publishing view events to amqp", "exchange", cfg.AMQPExchange)
		return p, nil
	}
	return events.Nop{}, nil
}
