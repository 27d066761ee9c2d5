// Package db opens the Postgres connection the rest of the app builds its
// repositories on and owns the one-time schema migration at startup.
package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/env"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService connects to Postgres using POSTGRES_* environment
// variables and enables the uuid-ossp extension the primary keys rely on.
func NewPostgresService(logg *logger.Logger) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	host := env.GetEnv("POSTGRES_HOST", "localhost", logg)
	port := env.GetEnv("POSTGRES_PORT", "5432", logg)
	user := env.GetEnv("POSTGRES_USER", "postgres", logg)
	password := env.GetEnv("POSTGRES_PASSWORD", "", logg)
	name := env.GetEnv("POSTGRES_NAME", "enhance_pipeline", logg)

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, name,
	)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	serviceLog.Info("connecting to postgres")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

// AutoMigrateAll migrates every domain table this pipeline owns.
func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("auto migrating postgres tables")
	if err := s.db.AutoMigrate(&domain.User{}, &domain.Batch{}, &domain.Job{}); err != nil {
		s.log.Error("auto migration failed", "error", err.Error())
		return err
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }
