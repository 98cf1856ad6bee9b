package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
)

// Database wraps the GORM database connection
type Database struct {
	db     *gorm.DB
	config *DatabaseConfig
	logger *logger.Logger
}

// Options tweaks how NewDatabase connects.
type Options struct {
	// FallbackToSQLite connects to the default SQLite file when the configured
	// server database is unusable.
	FallbackToSQLite bool
}

// NewDatabase connects and migrates the schema.
func NewDatabase(config *DatabaseConfig, opts Options, log *logger.Logger) (*Database, error) {
	if log == nil {
		log = logger.Get()
	}
	log = log.With(map[string]interface{}{"component": "database"})

	db, used, err := Connect(config, opts.FallbackToSQLite, log)
	if err != nil {
		return nil, err
	}

	database := &Database{db: db, config: used, logger: log}
	if err := database.migrate(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, nil
}

// NewMemoryDatabase opens a migrated in-memory SQLite database.
func NewMemoryDatabase(log *logger.Logger) (*Database, error) {
	return NewDatabase(&DatabaseConfig{Type: DatabaseTypeSQLite, Path: ":memory:"}, Options{}, log)
}

// migrate runs database migrations
func (d *Database) migrate() error {
	d.logger.Debug("Running database migrations")

	if err := d.db.AutoMigrate(
		&models.Book{},
		&models.Summary{},
		&models.SummaryJob{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}

	if err := ensureActiveJobIndex(d.db, d.logger); err != nil {
		return err
	}

	d.logger.Debug("Database migrations completed")
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// GetDB returns the underlying GORM database instance
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// Config returns the configuration actually in use, which differs from the
// requested one after a fallback.
func (d *Database) Config() *DatabaseConfig {
	return d.config
}

// Health checks the database connection
func (d *Database) Health() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
