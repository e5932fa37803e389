package cmd

import (
	"context"
	"fmt"
	"time"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/database"
	"drivingschool/server/internal/logger"
	"drivingschool/server/internal/models"
	"drivingschool/server/internal/notify"
	"drivingschool/server/internal/render"
	"drivingschool/server/internal/services"
	"drivingschool/server/internal/store"
	"drivingschool/server/internal/utils"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// app holds the connections and services shared by the subcommands
type app struct {
	db       *gorm.DB
	redis    *redis.Client
	store    *store.GormStore
	notifier *notify.KafkaNotifier
	hub      *notify.Hub
	service  *services.InvoiceService
}

type appOptions struct {
	migrate bool
	// live enables the Kafka notifier and the WebSocket hub
	live bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	log := logger.WithComponent("app")
	a := &app{}

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, cfg.Environment == "development")
	if err != nil {
		return nil, err
	}
	a.db = db

	if opts.migrate {
		if err := models.AutoMigrate(db); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}
	a.store = store.NewGormStore(db)

	var sequencer services.InvoiceNumberSequencer
	switch cfg.Invoice.SequenceBackend {
	case config.SequenceBackendRedis:
		client, err := database.ConnectRedis(ctx, cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis sequence backend: %w", err)
		}
		a.redis = client
		sequencer = services.NewRedisSequencer(utils.NewRedisClient(client), cfg.Invoice.NumberPrefix)
	default:
		sequencer = services.NewStoreSequencer(a.store, cfg.Invoice.NumberPrefix)
	}
	log.Info().Str("backend", cfg.Invoice.SequenceBackend).Msg("Invoice number sequencer ready")

	deps := services.InvoiceServiceDeps{
		Store:     a.store,
		Sequencer: sequencer,
		Renderer:  render.NewDocumentRenderer(cfg.Company),
	}

	if opts.live {
		a.hub = notify.NewHub()
		deps.Events = a.hub

		if cfg.KafkaBrokers != "" {
			n, err := notify.NewKafkaNotifier(notify.KafkaConfig{
				Brokers:  cfg.KafkaBrokers,
				Topic:    cfg.KafkaEmailTopic,
				Username: cfg.KafkaUsername,
				Password: cfg.KafkaPassword,
				CACert:   cfg.KafkaCACert,
			})
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("kafka notifier: %w", err)
			}
			a.notifier = n
			deps.Notifier = n
		} else {
			log.Warn().Msg("KAFKA_BROKERS not set, invoice emails are disabled")
		}
	}

	a.service = services.NewInvoiceService(deps, cfg.Invoice)
	return a, nil
}

// Close releases every connection newApp opened
func (a *app) Close() {
	log := logger.WithComponent("app")
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Kafka writer")
		}
	}
	if a.redis != nil {
		if err := database.CloseRedis(a.redis); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis")
		}
	}
	if a.db != nil {
		if err := database.ClosePostgres(a.db); err != nil {
			log.Warn().Err(err).Msg("Failed to close PostgreSQL")
		}
	}
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
