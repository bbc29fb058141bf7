package database

import (
	"errors"
	"fmt"
	"time"

	"ledgercore/internal/logger"
	"ledgercore/internal/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Manager handles database operations
type Manager struct {
	db     *gorm.DB
	config *Config
}

// NewManager opens a connection for the configured driver.
func NewManager(config *Config) (*Manager, error) {
	dialector, err := Dialector(config)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	if config.Driver == DriverSQLite {
		// One writer; keeps sqlite from returning SQLITE_BUSY under the sweep.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return &Manager{db: db, config: config}, nil
}

// Dialector returns the GORM dialector for config.Driver.
func Dialector(config *Config) (gorm.Dialector, error) {
	switch config.Driver {
	case DriverPostgres:
		return postgres.New(postgres.Config{
			DSN:                  config.DSN(),
			PreferSimpleProtocol: true, // Required for Supabase Supavisor; harmless for direct connections
		}), nil
	case DriverMySQL:
		return mysql.Open(config.DSN()), nil
	case DriverSQLite:
		return sqlite.Open(config.DSN()), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
}

// RunMigrations brings the schema up to date. Postgres applies the SQL files
// in migrations/; mysql and sqlite are migrated from the models.
func (m *Manager) RunMigrations() error {
	logger.Get().Info("Running database migrations...")

	if m.config.Driver != DriverPostgres {
		if err := m.db.AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("auto migration failed: %w", err)
		}
		logger.Get().Infow("Database schema migrated from models", "driver", m.config.Driver)
		return nil
	}

	mig, err := migrate.New("file://migrations", m.config.MigrationURL())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := mig.Close()
		if srcErr != nil {
			logger.Get().Warnf("migrate source close error: %v", srcErr)
		}
		if dbErr != nil {
			logger.Get().Warnf("migrate database close error: %v", dbErr)
		}
	}()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Get().Info("Database migrations completed successfully")
	return nil
}

// DB returns the underlying GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
