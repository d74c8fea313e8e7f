package db

import (
	"strings"
	"time"

	"github.com/rodrigodh/robosats/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func NewDB(uri string, logDBQueries bool) (*gorm.DB, error) {
	// sqlite pragmas for concurrent readers alongside the follower's writes
	if !strings.Contains(uri, "?") {
		uri = uri + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1"
	}

	gormLogLevel := gormlogger.Silent
	if logDBQueries {
		gormLogLevel = gormlogger.Info
	}

	gormDB, err := gorm.Open(sqlite.Open(uri), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormLogLevel),
		TranslateError: true,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Str("uri", uri).Msg("Failed to open database")
		return nil, err
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; keep the pool from queueing writes behind
	// each other at the driver level
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return gormDB, nil
}
