package database

import (
	"context"
	"net/url"

	"emperror.dev/errors"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ncwatch/ncwatch/internal/models"
	"github.com/ncwatch/ncwatch/system"
)

var (
	o  system.AtomicBool
	db *gorm.DB
)

// Initialize opens the ledger at the given path and ensures that the models
// have been fully migrated. It may only be called once.
func Initialize(path string) error {
	if !o.SwapIf(true) {
		panic("database: attempt to initialize more than once during application lifecycle")
	}
	instance, err := Open(path)
	if err != nil {
		return err
	}
	db = instance
	return nil
}

// Open opens (or creates) a SQLite database at the given path and migrates it.
// The journal runs in WAL mode so that dashboard reads never block the writer.
func Open(path string) (*gorm.DB, error) {
	dsn := path + "?" + url.Values{
		"_pragma": []string{"journal_mode(WAL)", "busy_timeout(5000)", "foreign_keys(1)"},
	}.Encode()
	instance, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "database: could not open database file")
	}
	if err := instance.AutoMigrate(&models.TrafficSample{}, &models.StateEvent{}, &models.RestoreRecord{}); err != nil {
		return nil, errors.WithStack(err)
	}
	return instance, nil
}

// Instance returns the gorm database instance that was configured when the
// application was booted.
func Instance() *gorm.DB {
	if db == nil {
		panic("database: attempt to access instance before initialized")
	}
	return db
}

// Ping checks that the database still answers.
func Ping(ctx context.Context, instance *gorm.DB) error {
	sqlDB, err := instance.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(sqlDB.PingContext(ctx))
}
