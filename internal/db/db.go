package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mingainspire/prplx/internal/platform/envutil"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/types"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New connects to postgres, or to sqlite when DB_DRIVER=sqlite (used for
// local runs and tests).
func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	driver := envutil.GetEnv("DB_DRIVER", "postgres", log)
	if driver == "sqlite" {
		path := envutil.GetEnv("SQLITE_PATH", "prplx.db", log)
		gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("connect to sqlite: %w", err)
		}
		return &Service{db: gdb, log: serviceLog}, nil
	}

	host := envutil.GetEnv("POSTGRES_HOST", "localhost", log)
	port := envutil.GetEnv("POSTGRES_PORT", "5432", log)
	user := envutil.GetEnv("POSTGRES_USER", "postgres", log)
	password := envutil.GetEnv("POSTGRES_PASSWORD", "", log)
	name := envutil.GetEnv("POSTGRES_NAME", "prplx", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("connecting to postgres", "host", host, "database", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &Service{db: gdb, log: serviceLog}, nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("auto migrating tables")
	return s.db.AutoMigrate(
		&types.ChatSession{},
		&types.ChatMessage{},
		&types.RetrievalQuery{},
		&types.RetrievalResult{},
		&types.IndexTask{},
	)
}
