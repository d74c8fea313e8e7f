package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/logger"
)

const invoiceLookupTimeout = 15 * time.Second

// InvoiceFollower reconciles local hold invoice records against the payment
// backend, one pass at a time. It is the only continuous writer of invoice
// status, which keeps every transition serial per order and idempotent: a
// pass that observes no change writes nothing.
type InvoiceFollower struct {
	db            *gorm.DB
	lnClient      lnclient.LNClient
	ordersService *ordersService
	interval      time.Duration
	maxFailures   uint
	clock         Clock
}

func NewInvoiceFollower(gormDB *gorm.DB, lnClient lnclient.LNClient, ordersService *ordersService, interval time.Duration, maxFailures uint) *InvoiceFollower {
	if interval <= 0 {
		interval = constants.DEFAULT_INVOICE_FOLLOW_INTERVAL
	}
	if maxFailures == 0 {
		maxFailures = constants.DEFAULT_MAX_INVOICE_FAILURES
	}
	return &InvoiceFollower{
		db:            gormDB,
		lnClient:      lnClient,
		ordersService: ordersService,
		interval:      interval,
		maxFailures:   maxFailures,
		clock:         realClock{},
	}
}

func (follower *InvoiceFollower) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(follower.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				follower.FollowHoldInvoices(ctx)
			}
		}
	}()
}

// FollowHoldInvoices runs a single reconciliation pass: every non-terminal
// invoice is looked up on the backend and any observed change is applied to
// its order under the order's lock. A failure on one invoice never aborts
// the pass.
func (follower *InvoiceFollower) FollowHoldInvoices(ctx context.Context) {
	var invoices []db.HoldInvoice
	err := follower.db.Where("status IN ?", []string{
		constants.INVOICE_STATE_REQUESTED,
		constants.INVOICE_STATE_ACCEPTED,
	}).Find(&invoices).Error
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list open hold invoices")
		return
	}

	for i := range invoices {
		follower.followInvoice(ctx, &invoices[i])
	}

	follower.expireStaleOrders(ctx)
}

func (follower *InvoiceFollower) followInvoice(ctx context.Context, invoice *db.HoldInvoice) {
	lookupCtx, cancel := context.WithTimeout(ctx, invoiceLookupTimeout)
	defer cancel()

	lnInvoice, err := follower.lnClient.LookupHoldInvoice(lookupCtx, invoice.PaymentHash)
	if err != nil {
		if lnclient.IsBackendUnavailableError(err) {
			follower.recordLookupFailure(invoice, err)
			return
		}
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Msg("Hold invoice lookup failed")
		return
	}

	if invoice.ConsecutiveFailures > 0 {
		err = follower.db.Model(invoice).Update("consecutive_failures", 0).Error
		if err != nil {
			logger.Logger.Error().Err(err).
				Str("payment_hash", invoice.PaymentHash).
				Msg("Failed to reset invoice failure counter")
		}
	}

	newStatus := mapInvoiceState(lnInvoice.State)
	if newStatus == invoice.Status {
		// a requested invoice the backend no longer honors has lapsed
		if invoice.Status == constants.INVOICE_STATE_REQUESTED && follower.clock.Now().After(invoice.ExpiresAt) {
			follower.expireInvoice(ctx, invoice)
		}
		return
	}

	var settledAt *time.Time
	if lnInvoice.SettledAt != nil {
		ts := time.Unix(*lnInvoice.SettledAt, 0)
		settledAt = &ts
	}

	lock := follower.ordersService.locks.get(invoice.OrderID)
	lock.Lock()
	defer lock.Unlock()

	err = follower.ordersService.handleInvoiceUpdate(ctx, invoice, newStatus, lnInvoice.Preimage, settledAt)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Str("new_status", newStatus).
			Msg("Failed to apply hold invoice update")
	}
}

// recordLookupFailure counts transient backend failures per invoice. When
// the budget is exhausted the affected order is surfaced as degraded rather
// than left silently stuck.
func (follower *InvoiceFollower) recordLookupFailure(invoice *db.HoldInvoice, lookupErr error) {
	invoice.ConsecutiveFailures++
	err := follower.db.Model(invoice).Update("consecutive_failures", invoice.ConsecutiveFailures).Error
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Msg("Failed to record invoice lookup failure")
		return
	}

	logger.Logger.Warn().Err(lookupErr).
		Str("payment_hash", invoice.PaymentHash).
		Uint("consecutive_failures", invoice.ConsecutiveFailures).
		Msg("Hold invoice lookup unavailable")

	if invoice.ConsecutiveFailures < follower.maxFailures {
		return
	}

	lock := follower.ordersService.locks.get(invoice.OrderID)
	lock.Lock()
	defer lock.Unlock()

	order, _, err := follower.ordersService.loadOrder(invoice.OrderID)
	if err != nil {
		return
	}
	if Status(order.Status).IsTerminal() {
		return
	}
	err = follower.ordersService.markOrderFailed(order, "payment backend unreachable while following invoice "+invoice.PaymentHash)
	if err != nil {
		logger.Logger.Error().Err(err).Uint("order_id", order.ID).Msg("Failed to mark order degraded")
	}
}

// expireInvoice cancels a lapsed unpaid invoice on the backend and lets the
// order transition through the regular update path.
func (follower *InvoiceFollower) expireInvoice(ctx context.Context, invoice *db.HoldInvoice) {
	err := follower.lnClient.CancelHoldInvoice(ctx, invoice.PaymentHash)
	if err != nil && !lnclient.IsInvoiceAlreadyCanceledError(err) {
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Msg("Failed to cancel lapsed hold invoice")
		return
	}

	lock := follower.ordersService.locks.get(invoice.OrderID)
	lock.Lock()
	defer lock.Unlock()

	err = follower.ordersService.handleInvoiceUpdate(ctx, invoice, constants.INVOICE_STATE_EXPIRED, "", nil)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Msg("Failed to expire lapsed hold invoice")
	}
}

// expireStaleOrders sweeps orders whose own timer lapsed without any invoice
// transition, e.g. a public order nobody took.
func (follower *InvoiceFollower) expireStaleOrders(ctx context.Context) {
	timedStatuses := []int{
		int(StatusWaitingMakerBond),
		int(StatusPublic),
		int(StatusTaken),
		int(StatusWaitingTakerBond),
		int(StatusWaitingEscrow),
	}

	var dbOrders []db.Order
	err := follower.db.
		Where("status IN ?", timedStatuses).
		Where("expires_at < ?", follower.clock.Now()).
		Find(&dbOrders).Error
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list lapsed orders")
		return
	}

	for i := range dbOrders {
		follower.expireOrder(ctx, dbOrders[i].ID)
	}
}

func (follower *InvoiceFollower) expireOrder(ctx context.Context, orderID uint) {
	lock := follower.ordersService.locks.get(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, invoices, err := follower.ordersService.loadOrder(orderID)
	if err != nil {
		return
	}
	// re-check under the lock, a user operation may have raced the sweep
	if !Status(order.Status).ExpiresWithTimer() || follower.clock.Now().Before(order.ExpiresAt) {
		return
	}

	err = follower.ordersService.expireOrder(ctx, order, invoices)
	if err != nil {
		logger.Logger.Error().Err(err).Uint("order_id", order.ID).Msg("Failed to expire lapsed order")
	}
}

func mapInvoiceState(state string) string {
	switch state {
	case lnclient.INVOICE_STATE_OPEN:
		return constants.INVOICE_STATE_REQUESTED
	case lnclient.INVOICE_STATE_ACCEPTED:
		return constants.INVOICE_STATE_ACCEPTED
	case lnclient.INVOICE_STATE_SETTLED:
		return constants.INVOICE_STATE_SETTLED
	case lnclient.INVOICE_STATE_CANCELED:
		return constants.INVOICE_STATE_CANCELED
	}
	return constants.INVOICE_STATE_REQUESTED
}
