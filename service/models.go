package service

import (
	"gorm.io/gorm"

	"github.com/rodrigodh/robosats/config"
	"github.com/rodrigodh/robosats/events"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/orders"
	"github.com/rodrigodh/robosats/prices"
)

type Service interface {
	GetDB() *gorm.DB
	GetConfig() config.Config
	GetLNClient() lnclient.LNClient
	GetOrdersService() orders.OrdersService
	GetOrdersPolicy() *orders.Config
	GetPricesService() prices.PricesService
	GetInvoiceFollower() *orders.InvoiceFollower
	GetEventPublisher() events.EventPublisher
	Shutdown()
}
