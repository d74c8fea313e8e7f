package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rodrigodh/robosats/config"
	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/db/migrations"
	"github.com/rodrigodh/robosats/events"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/lnclient/cln"
	"github.com/rodrigodh/robosats/lnclient/lnd"
	"github.com/rodrigodh/robosats/logger"
	"github.com/rodrigodh/robosats/orders"
	"github.com/rodrigodh/robosats/pkg/version"
	"github.com/rodrigodh/robosats/prices"
)

type service struct {
	cfg config.Config

	db             *gorm.DB
	lnClient       lnclient.LNClient
	ordersService  orders.OrdersService
	ordersPolicy   *orders.Config
	pricesService  prices.PricesService
	follower       *orders.InvoiceFollower
	eventPublisher events.EventPublisher
	ctx            context.Context
}

// eventLogSubscriber mirrors every coordinator event into the structured log.
type eventLogSubscriber struct{}

func (s *eventLogSubscriber) ConsumeEvent(ctx context.Context, event *events.Event, globalProperties map[string]interface{}) {
	logger.Logger.Info().
		Str("event", event.Event).
		Interface("properties", event.Properties).
		Interface("global", globalProperties).
		Msg("Coordinator event")
}

func NewService(ctx context.Context) (*service, error) {
	// Load config from environment variables / .env file
	godotenv.Load(".env")
	appConfig := &config.AppConfig{}
	err := envconfig.Process("", appConfig)
	if err != nil {
		return nil, err
	}

	logger.Init(appConfig.LogLevel)
	logger.Logger.Info().Msg("RoboSats coordinator " + version.Tag)

	if appConfig.Workdir == "" {
		appConfig.Workdir = filepath.Join(xdg.DataHome, "robosats")
		logger.Logger.Info().Interface("workdir", appConfig.Workdir).Msg("No workdir specified, using default")
	}
	// make sure workdir exists
	os.MkdirAll(appConfig.Workdir, os.ModePerm)

	if appConfig.LogToFile {
		err = logger.AddFileLogger(appConfig.Workdir)
		if err != nil {
			return nil, err
		}
	}

	// If DATABASE_URI is a URI or a path, leave it unchanged.
	// If it only contains a filename, prepend the workdir.
	if !strings.HasPrefix(appConfig.DatabaseUri, "file:") {
		databasePath, _ := filepath.Split(appConfig.DatabaseUri)
		if databasePath == "" {
			appConfig.DatabaseUri = filepath.Join(appConfig.Workdir, appConfig.DatabaseUri)
		}
	}

	gormDB, err := db.NewDB(appConfig.DatabaseUri, appConfig.LogDBQueries)
	if err != nil {
		return nil, err
	}
	err = migrations.Migrate(gormDB)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to migrate database")
		return nil, err
	}

	cfg, err := config.NewConfig(appConfig, gormDB)
	if err != nil {
		return nil, err
	}

	eventPublisher := events.NewEventPublisher()
	eventPublisher.SetGlobalProperty("version", version.Tag)
	eventPublisher.RegisterSubscriber(&eventLogSubscriber{})

	lnClient, err := newLNClient(ctx, appConfig)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create payment backend client")
		return nil, err
	}
	eventPublisher.SetGlobalProperty("ln_backend", lnClient.GetBackendType())

	fetcher := prices.NewBlockchainTickerFetcher(appConfig.PriceApiUrl)
	pricesService := prices.NewPricesService(gormDB, fetcher, parseCurrencies(appConfig.Currencies))
	pricesService.Start(ctx, time.Duration(appConfig.RateRefreshIntervalSeconds)*time.Second)

	ordersPolicy := &orders.Config{
		BondInvoiceExpiry:   time.Duration(appConfig.BondInvoiceExpiry) * time.Second,
		EscrowInvoiceExpiry: time.Duration(appConfig.EscrowInvoiceExpiry) * time.Second,
		RateFreshness:       time.Duration(appConfig.RateFreshnessSeconds) * time.Second,
		MaxInvoiceFailures:  appConfig.MaxInvoiceFailures,
		MinPublicDuration:   time.Duration(appConfig.MinPublicDuration) * time.Second,
		MaxPublicDuration:   time.Duration(appConfig.MaxPublicDuration) * time.Second,
		MinEscrowDuration:   time.Duration(appConfig.MinEscrowDuration) * time.Second,
		MaxEscrowDuration:   time.Duration(appConfig.MaxEscrowDuration) * time.Second,
		MinBondSize:         decimal.NewFromFloat(appConfig.MinBondSize),
		MaxBondSize:         decimal.NewFromFloat(appConfig.MaxBondSize),
		ForfeitLoserBond:    appConfig.ForfeitLoserBond,
	}

	ordersService := orders.NewOrdersService(gormDB, lnClient, pricesService, eventPublisher, ordersPolicy)

	follower := orders.NewInvoiceFollower(
		gormDB,
		lnClient,
		ordersService,
		time.Duration(appConfig.InvoiceFollowIntervalSeconds)*time.Second,
		appConfig.MaxInvoiceFailures,
	)
	follower.Start(ctx)

	svc := &service{
		cfg:            cfg,
		ctx:            ctx,
		db:             gormDB,
		lnClient:       lnClient,
		ordersService:  ordersService,
		ordersPolicy:   ordersPolicy,
		pricesService:  pricesService,
		follower:       follower,
		eventPublisher: eventPublisher,
	}
	return svc, nil
}

func newLNClient(ctx context.Context, appConfig *config.AppConfig) (lnclient.LNClient, error) {
	switch appConfig.LNBackendType {
	case constants.LN_BACKEND_TYPE_LND:
		certHex, err := readFileHex(appConfig.LNDCertFile)
		if err != nil {
			return nil, err
		}
		macaroonHex, err := readFileHex(appConfig.LNDMacaroonFile)
		if err != nil {
			return nil, err
		}
		return lnd.NewLNDService(ctx, appConfig.LNDAddress, certHex, macaroonHex)
	case constants.LN_BACKEND_TYPE_CLN:
		return cln.NewCLNService(ctx, appConfig.CLNRestUrl, appConfig.CLNRestRune)
	}
	return nil, fmt.Errorf("unsupported payment backend type: %s", appConfig.LNBackendType)
}

func readFileHex(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Join(errors.New("failed to read credential file"), err)
	}
	return hex.EncodeToString(contents), nil
}

func parseCurrencies(raw string) []string {
	currencies := []string{}
	for _, currency := range strings.Split(raw, ",") {
		currency = strings.ToUpper(strings.TrimSpace(currency))
		if currency != "" {
			currencies = append(currencies, currency)
		}
	}
	return currencies
}

func (svc *service) Shutdown() {
	err := svc.lnClient.Shutdown()
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to shutdown payment backend client")
	}
	svc.eventPublisher.Publish(&events.Event{
		Event: "coordinator_stopped",
	})
}

func (svc *service) GetDB() *gorm.DB {
	return svc.db
}

func (svc *service) GetConfig() config.Config {
	return svc.cfg
}

func (svc *service) GetLNClient() lnclient.LNClient {
	return svc.lnClient
}

func (svc *service) GetOrdersService() orders.OrdersService {
	return svc.ordersService
}

func (svc *service) GetOrdersPolicy() *orders.Config {
	return svc.ordersPolicy
}

func (svc *service) GetPricesService() prices.PricesService {
	return svc.pricesService
}

func (svc *service) GetInvoiceFollower() *orders.InvoiceFollower {
	return svc.follower
}

func (svc *service) GetEventPublisher() events.EventPublisher {
	return svc.eventPublisher
}
