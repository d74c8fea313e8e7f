package tests

import (
	"fmt"
	"os"
	"testing"

	"gorm.io/gorm"

	"github.com/rodrigodh/robosats/config"
	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/db/migrations"
	"github.com/rodrigodh/robosats/events"
	"github.com/rodrigodh/robosats/logger"
)

type TestService struct {
	DB             *gorm.DB
	LNClient       *MockLNClient
	EventPublisher events.EventPublisher
	Cfg            config.Config

	dbFile string
}

func CreateTestService(t *testing.T) (*TestService, error) {
	logger.Init("4")

	dbFile := fmt.Sprintf("%s/%s.db", t.TempDir(), t.Name())
	gormDB, err := db.NewDB(dbFile, false)
	if err != nil {
		return nil, err
	}
	err = migrations.Migrate(gormDB)
	if err != nil {
		return nil, err
	}

	appConfig := &config.AppConfig{
		Workdir:   t.TempDir(),
		JWTSecret: "test",
	}
	cfg, err := config.NewConfig(appConfig, gormDB)
	if err != nil {
		return nil, err
	}

	return &TestService{
		DB:             gormDB,
		LNClient:       NewMockLNClient(),
		EventPublisher: events.NewEventPublisher(),
		Cfg:            cfg,
		dbFile:         dbFile,
	}, nil
}

func (svc *TestService) Remove() {
	sqlDB, err := svc.DB.DB()
	if err == nil {
		sqlDB.Close()
	}
	os.Remove(svc.dbFile)
}
