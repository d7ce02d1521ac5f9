package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/auth"
	"restaurant_ops/pkg/circuitbreaker"
	"restaurant_ops/pkg/config"
	"restaurant_ops/pkg/database"
	"restaurant_ops/pkg/idempotency"
	"restaurant_ops/pkg/inventory"
	"restaurant_ops/pkg/lock"
	"restaurant_ops/pkg/logger"
	"restaurant_ops/pkg/notify"
	"restaurant_ops/pkg/queue"
	"restaurant_ops/pkg/recipe"
	"restaurant_ops/pkg/reservation"
	"restaurant_ops/pkg/sheet"
)

// app holds everything the subcommands share.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	redis   *redis.Client
	oauth   *oauth2.Config
	breaker *circuitbreaker.CircuitBreaker
	gw      sheet.Gateway

	reservations *reservation.Manager
	inventory    *inventory.Ledger
	recipes      *recipe.Store
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	dev := strings.EqualFold(cfg.Server.Env, "development")
	lc := logger.Config{
		IsDevelopment:     dev,
		Encoding:          cfg.Logger.Encoding,
		Level:             cfg.Logger.Level,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	}
	if dev {
		lc.Encoding = "console"
	}
	log, err := logger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	var store sheet.Gateway
	switch cfg.Store.Backend {
	case "google":
		a.oauth = auth.NewGoogleOAuth(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
		store = sheet.NewGoogleStore(sheet.GoogleOptions{
			SpreadsheetID:    cfg.Google.SpreadsheetID,
			OAuth:            a.oauth,
			CredentialsFile:  cfg.Google.CredentialsFile,
			TokenFromContext: auth.TokenFromContext,
		})
		log.Info("Using Google spreadsheet", zap.String("spreadsheet_id", cfg.Google.SpreadsheetID))
	default:
		db, err := database.Open(cfg.Store, log)
		if err != nil {
			return nil, err
		}
		a.db = db
		store = sheet.NewSQLStore(db)
	}
	a.breaker = circuitbreaker.NewCircuitBreakerWithWindow(cfg.Breaker.MaxFailures, cfg.Breaker.OpenTimeout, cfg.Breaker.Window)
	a.gw = sheet.NewGuarded(store, a.breaker)

	var (
		locks lock.Locker
		idem  idempotency.Store
	)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("could not connect to redis: %w", err)
		}
		log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		locks = lock.NewRedis(a.redis, cfg.Redis.LockTTL, log)
		idem = idempotency.NewRedis(a.redis)
	} else {
		locks = lock.NewMemory()
		idem = idempotency.NewMemory()
	}

	if a.background() {
		if err := sheet.EnsureHeaders(ctx, a.gw, sheet.Layouts()...); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to prepare sheets: %w", err)
		}
	}

	a.reservations = reservation.NewManager(a.gw, locks, idem, log)
	a.inventory = inventory.NewLedger(a.gw, locks, log)
	a.recipes = recipe.NewStore(a.gw, locks, log)
	return a, nil
}

// background reports whether the store can be reached without a signed-in
// user, which the dispatcher and the batch commands need.
func (a *app) background() bool {
	return a.cfg.Store.Backend != "google" || a.cfg.Google.CredentialsFile != ""
}

func (a *app) health(ctx context.Context) error {
	if a.db != nil {
		return database.Ping(a.db)
	}
	_, err := a.gw.Get(ctx, sheet.Span(sheet.Reservations.Name, "A", "A", 1))
	if apperr.Is(err, apperr.KindUnauthenticated) {
		return nil
	}
	return err
}

func (a *app) publisher() (notify.Publisher, error) {
	if !a.cfg.Kafka.Enabled {
		return notify.NewLogPublisher(a.log), nil
	}
	p, err := notify.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
	if err != nil {
		return nil, err
	}
	a.log.Info("Connected to Kafka producer",
		zap.Strings("brokers", a.cfg.Kafka.Brokers), zap.String("topic", a.cfg.Kafka.Topic))
	return p, nil
}

func (a *app) dispatcher(p notify.Publisher) *notify.Dispatcher {
	return notify.NewDispatcher(a.reservations, p, queue.NewQueue(a.cfg.Email.BaseBackoff), a.cfg.Email.MaxAttempts, a.log)
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.log.Sync()
}

// start loads the config and builds the app for a subcommand.
func start(ctx context.Context, load loader) (*app, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}
