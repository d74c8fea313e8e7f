package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/logger"
)

// CurrencyRate is a snapshot of the market price for one currency. Mutated
// only by refresh; read-only everywhere else.
type CurrencyRate struct {
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// RateFetcher supplies raw rate ticks from an external price source.
type RateFetcher interface {
	FetchRates(ctx context.Context) (map[string]decimal.Decimal, error)
}

type PricesService interface {
	Get(currency string) (*CurrencyRate, error)
	Refresh(ctx context.Context, currency string) (*CurrencyRate, error)
	RefreshAll(ctx context.Context) error
	Start(ctx context.Context, interval time.Duration)
	Currencies() []string
}

type pricesService struct {
	db         *gorm.DB
	fetcher    RateFetcher
	currencies []string
	cache      map[string]CurrencyRate
	cacheMtx   sync.RWMutex
}

type rateNotCachedError struct {
	currency string
}

func NewRateNotCachedError(currency string) error {
	return &rateNotCachedError{currency: currency}
}

func (err *rateNotCachedError) Error() string {
	return fmt.Sprintf("no cached exchange rate for currency %s", err.currency)
}

func IsRateNotCachedError(err error) bool {
	var rErr *rateNotCachedError
	return errors.As(err, &rErr)
}

func NewPricesService(gormDB *gorm.DB, fetcher RateFetcher, currencies []string) *pricesService {
	svc := &pricesService{
		db:         gormDB,
		fetcher:    fetcher,
		currencies: currencies,
		cache:      map[string]CurrencyRate{},
	}

	// warm the cache with last-known rates so restarts are not blind
	var persisted []db.CurrencyRate
	err := gormDB.Find(&persisted).Error
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to load persisted currency rates")
		return svc
	}
	for _, rate := range persisted {
		svc.cache[rate.Currency] = CurrencyRate{
			Currency:  rate.Currency,
			Price:     rate.Price,
			Timestamp: rate.Timestamp,
		}
	}

	return svc
}

func (svc *pricesService) Currencies() []string {
	return svc.currencies
}

func (svc *pricesService) Get(currency string) (*CurrencyRate, error) {
	svc.cacheMtx.RLock()
	defer svc.cacheMtx.RUnlock()

	rate, ok := svc.cache[currency]
	if !ok {
		return nil, NewRateNotCachedError(currency)
	}
	// rates are stored by value; readers always see a fully-formed snapshot
	return &rate, nil
}

func (svc *pricesService) Refresh(ctx context.Context, currency string) (*CurrencyRate, error) {
	err := svc.RefreshAll(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Get(currency)
}

func (svc *pricesService) RefreshAll(ctx context.Context) error {
	fetched, err := svc.fetcher.FetchRates(ctx)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to fetch exchange rates")
		return err
	}

	now := time.Now()
	updated := []CurrencyRate{}
	for _, currency := range svc.currencies {
		price, ok := fetched[currency]
		if !ok {
			logger.Logger.Warn().Str("currency", currency).Msg("Price source did not return a rate for currency")
			continue
		}
		if price.Sign() <= 0 {
			logger.Logger.Warn().Str("currency", currency).Str("price", price.String()).Msg("Ignoring non-positive rate tick")
			continue
		}
		updated = append(updated, CurrencyRate{
			Currency:  currency,
			Price:     price,
			Timestamp: now,
		})
	}

	svc.cacheMtx.Lock()
	for _, rate := range updated {
		svc.cache[rate.Currency] = rate
	}
	svc.cacheMtx.Unlock()

	for _, rate := range updated {
		dbRate := db.CurrencyRate{
			Currency:  rate.Currency,
			Price:     rate.Price,
			Timestamp: rate.Timestamp,
		}
		err := svc.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "currency"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "timestamp", "updated_at"}),
		}).Create(&dbRate).Error
		if err != nil {
			logger.Logger.Error().Err(err).Str("currency", rate.Currency).Msg("Failed to persist currency rate")
		}
	}

	logger.Logger.Debug().Int("currencies", len(updated)).Msg("Refreshed exchange rates")
	return nil
}

func (svc *pricesService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.DEFAULT_RATE_REFRESH_INTERVAL
	}
	go func() {
		// refresh immediately so orders can be priced right after startup
		if err := svc.RefreshAll(ctx); err != nil {
			logger.Logger.Error().Err(err).Msg("Initial exchange rate refresh failed")
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := svc.RefreshAll(ctx); err != nil {
					logger.Logger.Error().Err(err).Msg("Periodic exchange rate refresh failed")
				}
			}
		}
	}()
}

// blockchainTickerFetcher reads a blockchain.info style ticker document:
// {"USD": {"last": 115000.12, ...}, ...}
type blockchainTickerFetcher struct {
	url        string
	httpClient *http.Client
}

func NewBlockchainTickerFetcher(url string) *blockchainTickerFetcher {
	return &blockchainTickerFetcher{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (fetcher *blockchainTickerFetcher) FetchRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetcher.url, nil)
	if err != nil {
		return nil, err
	}

	res, err := fetcher.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price source unavailable: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("price source returned status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var ticker map[string]struct {
		Last decimal.Decimal `json:"last"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return nil, fmt.Errorf("failed to decode price ticker: %w", err)
	}

	rates := make(map[string]decimal.Decimal, len(ticker))
	for currency, entry := range ticker {
		rates[currency] = entry.Last
	}
	return rates, nil
}
