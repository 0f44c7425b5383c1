package database

import (
	"fmt"

	"proctor-go/internal/config"
	logging "proctor-go/internal/logging"
	"proctor-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the Postgres connection and migrates the proctoring tables.
func Init(conf config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		conf.Host, conf.User, conf.Password, conf.DBName, conf.Port)

	gormLogger := logging.NewGormZapLogger(log)
	gormLogger.LogLevel = logger.Warn

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Database connection established successfully.")

	if err := runMigrations(db, log); err != nil {
		return nil, err
	}
	DB = db
	return db, nil
}

func runMigrations(db *gorm.DB, log *zap.Logger) error {
	// AutoMigrate does not create the composite index, so it is handled separately.
	if err := db.AutoMigrate(&models.ProctorSession{}, &models.ProctorEvent{}); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	log.Info("Database migrations completed successfully.")

	eventsIndex := `CREATE INDEX IF NOT EXISTS idx_proctor_events_session ON proctor_events (session_id, kind, occurred_at DESC);`
	if err := db.Exec(eventsIndex).Error; err != nil {
		return fmt.Errorf("failed to create index on proctor_events: %w", err)
	}
	log.Info("Custom indexes ensured successfully.")
	return nil
}
