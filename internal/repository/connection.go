package repository

import (
	"fmt"
	"os"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/config"
	"github.com/brightline-ai/voice-agent-gateway/internal/domain"
	pkglogger "github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseConfig holds connection pool configuration. The DSN comes from
// DATABASE_URL when set, otherwise it is assembled from discrete DB_* vars.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadDatabaseConfigFromEnv loads database configuration from environment variables.
func LoadDatabaseConfigFromEnv() *DatabaseConfig {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.GetEnvOrDefault("DB_HOST", "localhost"),
			config.GetEnvAsIntOrDefault("DB_PORT", 5432),
			config.GetEnvOrDefault("DB_USER", "postgres"),
			config.GetEnvOrDefault("DB_PASSWORD", ""),
			config.GetEnvOrDefault("DB_NAME", "voice_gateway"),
			config.GetEnvOrDefault("DB_SSLMODE", "disable"),
		)
	}

	return &DatabaseConfig{
		DSN:             dsn,
		MaxOpenConns:    config.GetEnvAsIntOrDefault("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    config.GetEnvAsIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Duration(config.GetEnvAsIntOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
		ConnMaxIdleTime: time.Duration(config.GetEnvAsIntOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 5)) * time.Minute,
	}
}

// NewDatabaseConnection opens a GORM connection with pool settings applied.
func NewDatabaseConnection(cfg *DatabaseConfig) (*gorm.DB, error) {
	gormLog := gormlogger.New(pkglogger.GORMWriter{}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

// AutoMigrate runs database migrations for all gateway-owned models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Tenant{},
		&domain.CustomerProfile{},
		&domain.CallHistory{},
		&domain.ContextEntry{},
		&domain.OpenIssue{},
	)
}

// NewRepositoryManager opens the database, pings it, migrates, and returns
// the manager.
func NewRepositoryManager() (RepositoryManager, error) {
	cfg := LoadDatabaseConfigFromEnv()
	db, err := NewDatabaseConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run auto migration: %w", err)
	}

	return NewGormRepositoryManager(db), nil
}
