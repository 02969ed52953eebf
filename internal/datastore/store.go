// Package datastore persists clip, detection, night output, settings and
// task state with GORM on SQLite (default) or MySQL.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

// DefaultSlowQueryThreshold is the duration after which queries are logged at WARN
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// GetLogger returns the datastore module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

// Store bundles the repositories sharing one database connection
type Store struct {
	db      *gorm.DB
	dialect string

	Clips      ClipRepository
	Detections DetectionRepository
	Nights     NightRepository
	Settings   SettingsRepository
	Tasks      TaskRepository
}

// Open opens the database selected by settings.Database and migrates the schema
func Open(settings *conf.Settings) (*Store, error) {
	switch settings.Database.Type {
	case "mysql":
		m := settings.Database.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			m.Username, m.Password, m.Host, m.Port, m.Database)
		return OpenMySQL(dsn)
	default:
		return OpenSQLite(settings.Paths.ResolveDBPath())
	}
}

// OpenSQLite opens (creating if needed) the SQLite database at path
func OpenSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dbError(err, "create_db_dir", "path", path)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open_sqlite", "path", path)
	}

	return newStore(db, "sqlite", path)
}

// OpenMySQL opens a MySQL database with the given DSN
func OpenMySQL(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open_mysql")
	}

	return newStore(db, "mysql", "mysql")
}

func newStore(db *gorm.DB, dialect, location string) (*Store, error) {
	if err := performAutoMigration(db, dialect, location); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	s := &Store{db: db, dialect: dialect}
	isMySQL := dialect == "mysql"
	s.Clips = NewClipRepository(db, isMySQL)
	s.Detections = NewDetectionRepository(db, isMySQL)
	s.Nights = NewNightRepository(db, isMySQL)
	s.Settings = NewSettingsRepository(db, isMySQL)
	s.Tasks = NewTaskRepository(db)
	return s, nil
}

func performAutoMigration(db *gorm.DB, dialect, location string) error {
	start := time.Now()
	migrationLogger := GetLogger().With(logger.String("db_type", dialect))

	if err := db.AutoMigrate(&Clip{}, &Detection{}, &NightOutput{}, &Setting{}, &TaskRecord{}); err != nil {
		return dbError(err, "auto_migrate", "db_type", dialect, "location", location)
	}

	migrationLogger.Debug("database migration completed",
		logger.Duration("duration", time.Since(start)))
	return nil
}

// DB returns the underlying GORM handle
func (s *Store) DB() *gorm.DB { return s.db }

// Dialect returns "sqlite" or "mysql"
func (s *Store) Dialect() string { return s.dialect }

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}

// Ping checks that the database answers
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping")
	}
	return nil
}
