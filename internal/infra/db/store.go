package db

import (
	"context"
	"fmt"
	"log/slog"

	"govgate/internal/config"
	"govgate/internal/logging"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	DB *gorm.DB
}

// NewStore opens Postgres and migrates the schema. Without POSTGRES_DSN it
// returns a store with a nil DB; callers then use the file store.
func NewStore(cfg config.Config, logger *slog.Logger) (*Store, error) {
	logger = logging.OrDiscard(logger)
	if cfg.PostgresDSN == "" {
		logger.Info("POSTGRES_DSN not set; postgres store disabled")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &Store{DB: gdb}
	if err := store.Migrate(context.Background()); err != nil {
		return nil, err
	}
	logger.Info("postgres store ready")
	return store, nil
}

func (s *Store) Enabled() bool {
	return s != nil && s.DB != nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if !s.Enabled() {
		return errDBUnavailable
	}
	if err := s.DB.WithContext(ctx).AutoMigrate(
		&RevocationModel{},
		&StagedEnvelopeModel{},
		&EscalationModel{},
		&DecisionModel{},
		&IdempotencyKeyModel{},
		&AuditEventModel{},
		&AuditChainHeadModel{},
	); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return errDBUnavailable
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
