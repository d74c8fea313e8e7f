package api

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rodrigodh/robosats/config"
	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/logger"
	"github.com/rodrigodh/robosats/orders"
	"github.com/rodrigodh/robosats/pkg/version"
	"github.com/rodrigodh/robosats/prices"
)

type api struct {
	cfg           config.Config
	appConfig     *config.AppConfig
	lnClient      lnclient.LNClient
	ordersService orders.OrdersService
	pricesService prices.PricesService
	follower      *orders.InvoiceFollower
	ordersPolicy  *orders.Config
}

func NewAPI(cfg config.Config, appConfig *config.AppConfig, lnClient lnclient.LNClient, ordersService orders.OrdersService, pricesService prices.PricesService, follower *orders.InvoiceFollower, ordersPolicy *orders.Config) *api {
	return &api{
		cfg:           cfg,
		appConfig:     appConfig,
		lnClient:      lnClient,
		ordersService: ordersService,
		pricesService: pricesService,
		follower:      follower,
		ordersPolicy:  ordersPolicy,
	}
}

func (api *api) CreateOrder(ctx context.Context, robotID string, req *orders.CreateOrderRequest) (*orders.OrderDetails, error) {
	return api.ordersService.CreateOrder(ctx, robotID, req)
}

func (api *api) GetOrder(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error) {
	return api.ordersService.GetOrder(ctx, orderID, robotID)
}

func (api *api) ListPublicOrders(ctx context.Context, currency string) ([]orders.OrderDetails, error) {
	return api.ordersService.ListPublicOrders(ctx, currency)
}

func (api *api) TakeOrder(ctx context.Context, orderID uint, robotID string, amount *decimal.Decimal) (*orders.OrderDetails, error) {
	return api.ordersService.TakeOrder(ctx, orderID, robotID, amount)
}

func (api *api) CancelOrder(ctx context.Context, orderID uint, robotID string) error {
	return api.ordersService.CancelOrder(ctx, orderID, robotID)
}

func (api *api) ConfirmFiatSent(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error) {
	return api.ordersService.ConfirmFiatSent(ctx, orderID, robotID)
}

func (api *api) ConfirmFiatReceived(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error) {
	return api.ordersService.ConfirmFiatReceived(ctx, orderID, robotID)
}

func (api *api) OpenDispute(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error) {
	return api.ordersService.OpenDispute(ctx, orderID, robotID)
}

func (api *api) ResolveDispute(ctx context.Context, orderID uint, winner string) error {
	return api.ordersService.ResolveDispute(ctx, orderID, winner)
}

func (api *api) GetInfo(ctx context.Context) (*InfoResponse, error) {
	info := InfoResponse{
		Version:     version.Tag,
		BackendType: api.lnClient.GetBackendType(),
		Currencies:  api.pricesService.Currencies(),
	}

	nodeInfo, err := api.lnClient.GetInfo(ctx)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to fetch node info")
		return nil, err
	}
	info.Network = nodeInfo.Network
	info.NodeAlias = nodeInfo.Alias
	info.NodePubkey = nodeInfo.Pubkey

	for _, currency := range api.pricesService.Currencies() {
		rate, err := api.pricesService.Get(currency)
		if err != nil {
			continue
		}
		info.CurrentPrices = append(info.CurrentPrices, *rate)
	}

	return &info, nil
}

func (api *api) GetLimits(ctx context.Context) (*LimitsResponse, error) {
	return &LimitsResponse{
		MinTradeSatoshis:  constants.MIN_TRADE_SATOSHIS,
		MinBondSatoshis:   constants.MIN_BOND_SATOSHIS,
		MinBondSize:       api.ordersPolicy.MinBondSize,
		MaxBondSize:       api.ordersPolicy.MaxBondSize,
		MinPublicDuration: uint64(api.ordersPolicy.MinPublicDuration.Seconds()),
		MaxPublicDuration: uint64(api.ordersPolicy.MaxPublicDuration.Seconds()),
		MinEscrowDuration: uint64(api.ordersPolicy.MinEscrowDuration.Seconds()),
		MaxEscrowDuration: uint64(api.ordersPolicy.MaxEscrowDuration.Seconds()),
	}, nil
}

// FollowInvoices triggers one synchronous reconciliation pass. Exposed for
// the admin surface so operators can force a pass between ticker intervals.
func (api *api) FollowInvoices(ctx context.Context) {
	api.follower.FollowHoldInvoices(ctx)
}
