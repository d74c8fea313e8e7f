package prices

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/tests"
)

type fakeFetcher struct {
	rates map[string]decimal.Decimal
	err   error
}

func (fetcher *fakeFetcher) FetchRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	return fetcher.rates, fetcher.err
}

func TestPricesService_RefreshAndGet(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	fetcher := &fakeFetcher{rates: map[string]decimal.Decimal{
		"USD": decimal.NewFromFloat(115000.5),
		"EUR": decimal.NewFromInt(99000),
		"XXX": decimal.NewFromInt(1),
	}}
	pricesService := NewPricesService(svc.DB, fetcher, []string{"USD", "EUR"})

	_, err = pricesService.Get("USD")
	assert.True(t, IsRateNotCachedError(err))

	require.NoError(t, pricesService.RefreshAll(context.TODO()))

	rate, err := pricesService.Get("USD")
	require.NoError(t, err)
	assert.Equal(t, "115000.5", rate.Price.String())
	assert.False(t, rate.Timestamp.IsZero())

	// currencies outside the configured set are never cached
	_, err = pricesService.Get("XXX")
	assert.True(t, IsRateNotCachedError(err))

	// rates survive restarts through the database
	var persisted db.CurrencyRate
	require.NoError(t, svc.DB.Where(&db.CurrencyRate{Currency: "EUR"}).First(&persisted).Error)
	assert.Equal(t, "99000", persisted.Price.String())

	reloaded := NewPricesService(svc.DB, fetcher, []string{"USD", "EUR"})
	rate, err = reloaded.Get("EUR")
	require.NoError(t, err)
	assert.Equal(t, "99000", rate.Price.String())
}

func TestPricesService_RefreshKeepsLastKnownOnFailure(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	fetcher := &fakeFetcher{rates: map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(100000),
	}}
	pricesService := NewPricesService(svc.DB, fetcher, []string{"USD"})
	require.NoError(t, pricesService.RefreshAll(context.TODO()))

	fetcher.err = errors.New("price source down")
	assert.Error(t, pricesService.RefreshAll(context.TODO()))

	// the cached snapshot stays available
	rate, err := pricesService.Get("USD")
	require.NoError(t, err)
	assert.Equal(t, "100000", rate.Price.String())
}

func TestPricesService_IgnoresNonPositiveTicks(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	fetcher := &fakeFetcher{rates: map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(-5),
	}}
	pricesService := NewPricesService(svc.DB, fetcher, []string{"USD"})
	require.NoError(t, pricesService.RefreshAll(context.TODO()))

	_, err = pricesService.Get("USD")
	assert.True(t, IsRateNotCachedError(err))
}

func TestBlockchainTickerFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"USD": {"15m": 115001.1, "last": 115000.5, "symbol": "$"}, "EUR": {"last": 99000}}`))
	}))
	defer server.Close()

	fetcher := NewBlockchainTickerFetcher(server.URL)
	rates, err := fetcher.FetchRates(context.TODO())
	require.NoError(t, err)
	assert.Equal(t, "115000.5", rates["USD"].String())
	assert.Equal(t, "99000", rates["EUR"].String())
}

func TestBlockchainTickerFetcher_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := NewBlockchainTickerFetcher(server.URL)
	_, err := fetcher.FetchRates(context.TODO())
	assert.Error(t, err)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer garbage.Close()

	fetcher = NewBlockchainTickerFetcher(garbage.URL)
	_, err = fetcher.FetchRates(context.TODO())
	assert.Error(t, err)
}
