package database

import (
	"fmt"
	"time"

	"github.com/sybethiesant/flexerr/internal/config"
	"github.com/sybethiesant/flexerr/internal/logger"
	"github.com/sybethiesant/flexerr/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

// Initialize sets up the database connection and runs migrations
func Initialize() error {
	cfg := config.Get()

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	var err error
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.NewGormAdapter(logger.DatabaseLogger(), cfg.GetDatabaseLogLevel()),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Run auto-migrations
	if err := runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get returns the database instance
func Get() *gorm.DB {
	return db
}

// HealthCheck verifies database connectivity
func HealthCheck() error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func Close() error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}

func runMigrations() error {
	return db.AutoMigrate(
		&models.Rule{},
		&models.QueueItem{},
		&models.ExclusionEntry{},
		&models.WatchlistEntry{},
		&models.VelocityRecord{},
		&models.AuditEvent{},
		&models.DailyStat{},
	)
}
