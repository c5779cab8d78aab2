package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sabcare/careline/internal/config"
	"github.com/sabcare/careline/internal/domain/ivr"
	"github.com/sabcare/careline/internal/domain/patient"
	"github.com/sabcare/careline/internal/platform/db"
	"github.com/sabcare/careline/internal/platform/events"
	"github.com/sabcare/careline/internal/platform/logging"
	"github.com/sabcare/careline/internal/platform/telephony"
	"github.com/sabcare/careline/internal/platform/textgen"
	"github.com/sabcare/careline/internal/platform/websocket"
)

// app holds the process-wide dependencies shared by serve and the
// operational subcommands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	publisher events.Publisher
	hub       *websocket.Hub
	calls     ivr.CallRecordStore
	patients  patient.PatientRepository
	generator *ivr.Generator
	executor  *ivr.Executor

	flush func()
}

func loadConfig() (*config.Config, zerolog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, flush, err := logging.New(logging.Options{
		Env:       cfg.Env,
		Level:     cfg.LogLevel,
		SentryDSN: cfg.SentryDSN,
		Release:   version,
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, logger, flush, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, flush, err := loadConfig()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		flush()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	hub := websocket.NewHub(logger)
	publisher := events.Fanout{newPublisher(cfg, logger), hub}
	calls := ivr.NewCallRepoPG(pool)

	executor := ivr.NewExecutor(calls, newDelivery(cfg, logger), publisher, logger)
	executor.Interval = cfg.ExecutorInterval
	executor.BatchSize = cfg.ExecutorBatchSize
	executor.DeliveryTimeout = cfg.DeliveryTimeout

	return &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		publisher: publisher,
		hub:       hub,
		calls:     calls,
		patients:  patient.NewPatientRepoPG(pool),
		generator: ivr.NewGenerator(calls, newTextProvider(cfg, logger), publisher, logger),
		executor:  executor,
		flush:     flush,
	}, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close event publisher")
	}
	a.pool.Close()
	a.flush()
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}
	}
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing call events to kafka")
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func newTextProvider(cfg *config.Config, logger zerolog.Logger) ivr.TextProvider {
	tmpl := textgen.NewTemplateProvider()
	if cfg.TextProvider != "gemini" {
		return tmpl
	}
	return textgen.NewGeminiProvider(textgen.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiAPIURL,
	}, tmpl, logger)
}

func newDelivery(cfg *config.Config, logger zerolog.Logger) *telephony.Twilio {
	if !cfg.TwilioConfigured() {
		logger.Warn().Msg("twilio credentials missing, calls will stay scheduled")
	}
	return telephony.NewTwilio(telephony.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
		BaseURL:    cfg.TwilioAPIURL,
		Voice:      cfg.TwilioVoice,
		Timeout:    cfg.DeliveryTimeout,
	}, logger)
}
