package api

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rodrigodh/robosats/orders"
	"github.com/rodrigodh/robosats/prices"
)

type API interface {
	CreateOrder(ctx context.Context, robotID string, req *orders.CreateOrderRequest) (*orders.OrderDetails, error)
	GetOrder(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error)
	ListPublicOrders(ctx context.Context, currency string) ([]orders.OrderDetails, error)
	TakeOrder(ctx context.Context, orderID uint, robotID string, amount *decimal.Decimal) (*orders.OrderDetails, error)
	CancelOrder(ctx context.Context, orderID uint, robotID string) error
	ConfirmFiatSent(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error)
	ConfirmFiatReceived(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error)
	OpenDispute(ctx context.Context, orderID uint, robotID string) (*orders.OrderDetails, error)
	ResolveDispute(ctx context.Context, orderID uint, winner string) error
	GetInfo(ctx context.Context) (*InfoResponse, error)
	GetLimits(ctx context.Context) (*LimitsResponse, error)
	FollowInvoices(ctx context.Context)
}

type InfoResponse struct {
	Version       string                `json:"version"`
	Network       string                `json:"network"`
	NodeAlias     string                `json:"node_alias"`
	NodePubkey    string                `json:"node_pubkey"`
	BackendType   string                `json:"backend_type"`
	Currencies    []string              `json:"currencies"`
	CurrentPrices []prices.CurrencyRate `json:"current_prices"`
}

type LimitsResponse struct {
	MinTradeSatoshis  int64           `json:"min_trade_satoshis"`
	MinBondSatoshis   int64           `json:"min_bond_satoshis"`
	MinBondSize       decimal.Decimal `json:"min_bond_size"`
	MaxBondSize       decimal.Decimal `json:"max_bond_size"`
	MinPublicDuration uint64          `json:"min_public_duration"`
	MaxPublicDuration uint64          `json:"max_public_duration"`
	MinEscrowDuration uint64          `json:"min_escrow_duration"`
	MaxEscrowDuration uint64          `json:"max_escrow_duration"`
}

type TakeOrderRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type ResolveDisputeRequest struct {
	Winner string `json:"winner"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
