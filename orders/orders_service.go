package orders

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/events"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/logger"
	"github.com/rodrigodh/robosats/prices"
)

type OrdersService interface {
	CreateOrder(ctx context.Context, makerID string, req *CreateOrderRequest) (*OrderDetails, error)
	GetOrder(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error)
	ListPublicOrders(ctx context.Context, currency string) ([]OrderDetails, error)
	TakeOrder(ctx context.Context, orderID uint, takerID string, amount *decimal.Decimal) (*OrderDetails, error)
	CancelOrder(ctx context.Context, orderID uint, robotID string) error
	ConfirmFiatSent(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error)
	ConfirmFiatReceived(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error)
	OpenDispute(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error)
	ResolveDispute(ctx context.Context, orderID uint, winner string) error
}

type ordersService struct {
	db             *gorm.DB
	lnClient       lnclient.LNClient
	pricesService  prices.PricesService
	eventPublisher events.EventPublisher
	cfg            *Config
	clock          Clock
	locks          *orderLocks
}

func NewOrdersService(gormDB *gorm.DB, lnClient lnclient.LNClient, pricesService prices.PricesService, eventPublisher events.EventPublisher, cfg *Config) *ordersService {
	if cfg.RateFreshness <= 0 {
		cfg.RateFreshness = constants.DEFAULT_RATE_FRESHNESS
	}
	return &ordersService{
		db:             gormDB,
		lnClient:       lnClient,
		pricesService:  pricesService,
		eventPublisher: eventPublisher,
		cfg:            cfg,
		clock:          realClock{},
		locks:          newOrderLocks(),
	}
}

func (svc *ordersService) CreateOrder(ctx context.Context, makerID string, req *CreateOrderRequest) (*OrderDetails, error) {
	err := svc.validateCreateOrderRequest(req)
	if err != nil {
		return nil, err
	}

	nominalSatoshis, err := svc.nominalSatoshis(req)
	if err != nil {
		return nil, err
	}
	bondSatoshis := BondSatoshis(nominalSatoshis, req.BondSize)

	now := svc.clock.Now()
	order := db.Order{
		Reference:      uuid.NewString(),
		MakerID:        makerID,
		Type:           req.Type,
		Currency:       req.Currency,
		HasRange:       req.HasRange,
		IsExplicit:     req.IsExplicit,
		Satoshis:       req.Satoshis,
		Premium:        req.Premium,
		PaymentMethod:  req.PaymentMethod,
		PublicDuration: req.PublicDuration,
		EscrowDuration: req.EscrowDuration,
		BondSize:       req.BondSize,
		Status:         int(StatusWaitingMakerBond),
		ExpiresAt:      now.Add(svc.cfg.BondInvoiceExpiry),
	}
	if req.HasRange {
		order.MinAmount = decimal.NewNullDecimal(*req.MinAmount)
		order.MaxAmount = decimal.NewNullDecimal(*req.MaxAmount)
	} else {
		order.Amount = decimal.NewNullDecimal(*req.Amount)
	}
	if req.Latitude != nil && req.Longitude != nil {
		order.Latitude = decimal.NewNullDecimal(*req.Latitude)
		order.Longitude = decimal.NewNullDecimal(*req.Longitude)
	}

	err = svc.db.Create(&order).Error
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create DB order")
		return nil, err
	}

	// a new order immediately awaits its maker bond
	bondInvoice, err := svc.createHoldInvoice(ctx, &order, constants.INVOICE_ROLE_MAKER_BOND, bondSatoshis, svc.cfg.BondInvoiceExpiry)
	if err != nil {
		logger.Logger.Error().Err(err).Uint("order_id", order.ID).Msg("Failed to create maker bond invoice")
		svc.db.Delete(&order)
		return nil, err
	}

	logger.Logger.Info().
		Uint("order_id", order.ID).
		Str("maker_id", makerID).
		Str("currency", order.Currency).
		Int64("bond_satoshis", bondInvoice.AmountSat).
		Msg("Created order, waiting for maker bond")

	svc.eventPublisher.Publish(&events.Event{
		Event:      "order_created",
		Properties: &order,
	})

	return svc.orderDetails(&order, []db.HoldInvoice{*bondInvoice}, makerID), nil
}

func (svc *ordersService) GetOrder(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error) {
	order, invoices, err := svc.loadOrder(orderID)
	if err != nil {
		return nil, err
	}

	isParticipant := order.MakerID == robotID || (order.TakerID != nil && *order.TakerID == robotID)
	if !isParticipant && Status(order.Status) != StatusPublic {
		return nil, NewNotFoundError()
	}

	return svc.orderDetails(order, invoices, robotID), nil
}

func (svc *ordersService) ListPublicOrders(ctx context.Context, currency string) ([]OrderDetails, error) {
	tx := svc.db.Where("status = ?", int(StatusPublic))
	if currency != "" {
		tx = tx.Where("currency = ?", currency)
	}

	var dbOrders []db.Order
	err := tx.Order("created_at desc").Find(&dbOrders).Error
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list public orders")
		return nil, err
	}

	orderIDs := make([]uint, 0, len(dbOrders))
	for i := range dbOrders {
		orderIDs = append(orderIDs, dbOrders[i].ID)
	}
	invoicesByOrder := map[uint][]db.HoldInvoice{}
	if len(orderIDs) > 0 {
		var allInvoices []db.HoldInvoice
		err = svc.db.Where("order_id IN ?", orderIDs).Find(&allInvoices).Error
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to load hold invoices for public orders")
			return nil, err
		}
		for _, invoice := range allInvoices {
			invoicesByOrder[invoice.OrderID] = append(invoicesByOrder[invoice.OrderID], invoice)
		}
	}

	details := make([]OrderDetails, 0, len(dbOrders))
	for i := range dbOrders {
		details = append(details, *svc.orderDetails(&dbOrders[i], invoicesByOrder[dbOrders[i].ID], ""))
	}
	return details, nil
}

func (svc *ordersService) TakeOrder(ctx context.Context, orderID uint, takerID string, amount *decimal.Decimal) (*OrderDetails, error) {
	lock := svc.locks.get(orderID)
	if !lock.TryLock() {
		return nil, NewConflictError()
	}
	defer lock.Unlock()

	order, invoices, err := svc.loadOrder(orderID)
	if err != nil {
		return nil, err
	}

	if Status(order.Status) != StatusPublic {
		// the order was taken, expired or withdrawn between listing and now
		return nil, NewConflictError()
	}
	if order.MakerID == takerID {
		return nil, NewValidationError("you cannot take your own order")
	}

	var chosenAmount decimal.Decimal
	if order.HasRange {
		if amount == nil {
			return nil, NewValidationError("an amount within the order range is required")
		}
		if amount.LessThan(order.MinAmount.Decimal) || amount.GreaterThan(order.MaxAmount.Decimal) {
			return nil, NewValidationError("the selected amount is outside the order range")
		}
		chosenAmount = *amount
	} else {
		if amount != nil {
			return nil, NewValidationError("this order has a fixed amount")
		}
		chosenAmount = order.Amount.Decimal
	}

	// freeze the trade's base-asset amount; this is the single point where
	// price risk is fixed
	now := svc.clock.Now()
	var frozenSatoshis int64
	if order.IsExplicit {
		frozenSatoshis = *order.Satoshis
	} else {
		rate, err := svc.pricesService.Get(order.Currency)
		if err != nil {
			return nil, err
		}
		frozenSatoshis, err = SatoshisFromFiat(chosenAmount, rate, order.Premium, svc.cfg.RateFreshness, now)
		if err != nil {
			return nil, err
		}
		order.TakenRate = decimal.NewNullDecimal(rate.Price)
	}

	order.TakerID = &takerID
	order.LastSatoshis = &frozenSatoshis
	if order.HasRange {
		order.Amount = decimal.NewNullDecimal(chosenAmount)
	}
	order.Status = int(StatusTaken)

	err = svc.db.Save(order).Error
	if err != nil {
		logger.Logger.Error().Err(err).Uint("order_id", order.ID).Msg("Failed to persist taken order")
		return nil, err
	}

	bondSatoshis := BondSatoshis(frozenSatoshis, order.BondSize)
	bondInvoice, err := svc.createHoldInvoice(ctx, order, constants.INVOICE_ROLE_TAKER_BOND, bondSatoshis, svc.cfg.BondInvoiceExpiry)
	if err != nil {
		logger.Logger.Error().Err(err).Uint("order_id", order.ID).Msg("Failed to create taker bond invoice")
		// put the order back on the book; the take never happened
		order.TakerID = nil
		order.LastSatoshis = nil
		order.TakenRate = decimal.NullDecimal{}
		if order.HasRange {
			order.Amount = decimal.NullDecimal{}
		}
		order.Status = int(StatusPublic)
		if saveErr := svc.db.Save(order).Error; saveErr != nil {
			logger.Logger.Error().Err(saveErr).Uint("order_id", order.ID).Msg("Failed to restore order after bond failure")
		}
		return nil, err
	}
	invoices = append(invoices, *bondInvoice)

	order.Status = int(StatusWaitingTakerBond)
	order.ExpiresAt = now.Add(svc.cfg.BondInvoiceExpiry)
	err = svc.db.Save(order).Error
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().
		Uint("order_id", order.ID).
		Str("taker_id", takerID).
		Int64("frozen_satoshis", frozenSatoshis).
		Msg("Order taken, waiting for taker bond")

	svc.eventPublisher.Publish(&events.Event{
		Event:      "order_taken",
		Properties: order,
	})

	return svc.orderDetails(order, invoices, takerID), nil
}

func (svc *ordersService) CancelOrder(ctx context.Context, orderID uint, robotID string) error {
	lock := svc.locks.get(orderID)
	if !lock.TryLock() {
		return NewConflictError()
	}
	defer lock.Unlock()

	order, invoices, err := svc.loadOrder(orderID)
	if err != nil {
		return err
	}

	if order.MakerID != robotID {
		return NewUnauthorizedError("only the maker can cancel this order")
	}
	status := Status(order.Status)
	if status != StatusWaitingMakerBond && status != StatusPublic {
		return NewValidationError("the order can no longer be cancelled")
	}

	// canceling while a bond invoice is requested or provisionally locked
	// must also cancel that invoice
	svc.cancelLiveInvoices(ctx, order, invoices)

	order.Status = int(StatusCancelled)
	err = svc.db.Save(order).Error
	if err != nil {
		return err
	}

	logger.Logger.Info().Uint("order_id", order.ID).Msg("Order cancelled by maker")
	svc.eventPublisher.Publish(&events.Event{
		Event:      "order_cancelled",
		Properties: order,
	})
	return nil
}

func (svc *ordersService) ConfirmFiatSent(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error) {
	lock := svc.locks.get(orderID)
	if !lock.TryLock() {
		return nil, NewConflictError()
	}
	defer lock.Unlock()

	order, invoices, err := svc.loadOrder(orderID)
	if err != nil {
		return nil, err
	}

	if !svc.isBuyer(order, robotID) {
		return nil, NewUnauthorizedError("only the buyer can confirm fiat was sent")
	}
	if Status(order.Status) != StatusChatOpen {
		return nil, NewValidationError("fiat sent can only be confirmed while the chat is open")
	}

	order.Status = int(StatusFiatSent)
	err = svc.db.Save(order).Error
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().Uint("order_id", order.ID).Msg("Buyer confirmed fiat sent")
	return svc.orderDetails(order, invoices, robotID), nil
}

func (svc *ordersService) ConfirmFiatReceived(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error) {
	lock := svc.locks.get(orderID)
	if !lock.TryLock() {
		return nil, NewConflictError()
	}
	defer lock.Unlock()

	order, invoices, err := svc.loadOrder(orderID)
	if err != nil {
		return nil, err
	}

	if !svc.isSeller(order, robotID) {
		return nil, NewUnauthorizedError("only the seller can confirm fiat was received")
	}
	if Status(order.Status) != StatusFiatSent {
		return nil, NewValidationError("fiat received can only be confirmed after the buyer declared fiat sent")
	}

	// settle the escrow to the buyer's claim and return both bonds; the
	// follower observes the escrow settle and completes the order
	err = svc.settleInvoice(ctx, findInvoice(invoices, constants.INVOICE_ROLE_ESCROW))
	if err != nil {
		return nil, err
	}
	svc.cancelBond(ctx, order, invoices, constants.INVOICE_ROLE_MAKER_BOND)
	svc.cancelBond(ctx, order, invoices, constants.INVOICE_ROLE_TAKER_BOND)

	order.Status = int(StatusSuccessful)
	err = svc.db.Save(order).Error
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().Uint("order_id", order.ID).Msg("Seller confirmed fiat received, escrow settlement initiated")
	svc.eventPublisher.Publish(&events.Event{
		Event:      "order_successful",
		Properties: order,
	})
	return svc.orderDetails(order, invoices, robotID), nil
}

func (svc *ordersService) OpenDispute(ctx context.Context, orderID uint, robotID string) (*OrderDetails, error) {
	lock := svc.locks.get(orderID)
	if !lock.TryLock() {
		return nil, NewConflictError()
	}
	defer lock.Unlock()

	order, invoices, err := svc.loadOrder(orderID)
	if err != nil {
		return nil, err
	}

	isParticipant := order.MakerID == robotID || (order.TakerID != nil && *order.TakerID == robotID)
	if !isParticipant {
		return nil, NewUnauthorizedError("only a trade participant can open a dispute")
	}
	status := Status(order.Status)
	if status != StatusChatOpen && status != StatusFiatSent {
		return nil, NewValidationError("a dispute can only be raised from the chat or after fiat was sent")
	}

	order.Status = int(StatusDisputed)
	err = svc.db.Save(order).Error
	if err != nil {
		return nil, err
	}

	logger.Logger.Warn().Uint("order_id", order.ID).Str("robot_id", robotID).Msg("Dispute opened")
	svc.eventPublisher.Publish(&events.Event{
		Event:      "order_disputed",
		Properties: order,
	})
	return svc.orderDetails(order, invoices, robotID), nil
}

// ResolveDispute is the coordinator arbitration outcome. The winner's bond is
// always returned; whether the loser forfeits theirs is a policy input.
func (svc *ordersService) ResolveDispute(ctx context.Context, orderID uint, winner string) error {
	lock := svc.locks.get(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, invoices, err := svc.loadOrder(orderID)
	if err != nil {
		return err
	}
	if Status(order.Status) != StatusDisputed {
		return NewValidationError("the order is not in dispute")
	}

	buyerIsMaker := order.Type == constants.ORDER_TYPE_BUY
	buyerBondRole := constants.INVOICE_ROLE_TAKER_BOND
	sellerBondRole := constants.INVOICE_ROLE_MAKER_BOND
	if buyerIsMaker {
		buyerBondRole = constants.INVOICE_ROLE_MAKER_BOND
		sellerBondRole = constants.INVOICE_ROLE_TAKER_BOND
	}

	switch winner {
	case constants.DISPUTE_WINNER_BUYER:
		err = svc.settleInvoice(ctx, findInvoice(invoices, constants.INVOICE_ROLE_ESCROW))
		if err != nil {
			return err
		}
		svc.cancelBond(ctx, order, invoices, buyerBondRole)
		if svc.cfg.ForfeitLoserBond {
			svc.forfeitBond(ctx, order, invoices, sellerBondRole)
		} else {
			svc.cancelBond(ctx, order, invoices, sellerBondRole)
		}
		order.Status = int(StatusSuccessful)
	case constants.DISPUTE_WINNER_SELLER:
		svc.cancelBond(ctx, order, invoices, constants.INVOICE_ROLE_ESCROW)
		svc.cancelBond(ctx, order, invoices, sellerBondRole)
		if svc.cfg.ForfeitLoserBond {
			svc.forfeitBond(ctx, order, invoices, buyerBondRole)
		} else {
			svc.cancelBond(ctx, order, invoices, buyerBondRole)
		}
		order.Status = int(StatusCancelled)
		order.FailureReason = "dispute resolved in favor of the seller"
	default:
		return NewValidationError("dispute winner must be buyer or seller")
	}

	err = svc.db.Save(order).Error
	if err != nil {
		return err
	}

	logger.Logger.Info().
		Uint("order_id", order.ID).
		Str("winner", winner).
		Msg("Dispute resolved")
	svc.eventPublisher.Publish(&events.Event{
		Event:      "order_dispute_resolved",
		Properties: order,
	})
	return nil
}

// handleInvoiceUpdate applies an observed backend status change to one hold
// invoice and drives the corresponding order transition. The caller holds
// the order's lock. This is the only path that mutates invoice status apart
// from user-initiated cancellation.
func (svc *ordersService) handleInvoiceUpdate(ctx context.Context, invoice *db.HoldInvoice, newStatus string, preimage string, settledAt *time.Time) error {
	// the caller's copy may predate the lock; a cancellation that landed in
	// between must not be overwritten
	var current db.HoldInvoice
	result := svc.db.Limit(1).Find(&current, invoice.ID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		invoice.Status = current.Status
	}
	if isTerminalInvoiceStatus(invoice.Status) {
		return NewInvoiceTerminalMismatchError(invoice.PaymentHash, invoice.Status)
	}

	order, invoices, err := svc.loadOrder(invoice.OrderID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{"status": newStatus}
	if preimage != "" {
		updates["preimage"] = preimage
	}
	if settledAt != nil {
		updates["settled_at"] = settledAt
	}
	err = svc.db.Model(invoice).Updates(updates).Error
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Msg("Failed to update hold invoice status")
		return err
	}

	logger.Logger.Info().
		Uint("order_id", order.ID).
		Str("role", invoice.Role).
		Str("old_status", invoice.Status).
		Str("new_status", newStatus).
		Msg("Hold invoice status changed")
	invoice.Status = newStatus
	for i := range invoices {
		if invoices[i].ID == invoice.ID {
			invoices[i].Status = newStatus
		}
	}

	switch newStatus {
	case constants.INVOICE_STATE_ACCEPTED:
		return svc.handleInvoiceAccepted(ctx, order, invoice)
	case constants.INVOICE_STATE_SETTLED:
		return svc.handleInvoiceSettled(order, invoice)
	case constants.INVOICE_STATE_CANCELED, constants.INVOICE_STATE_EXPIRED:
		return svc.handleInvoiceCanceled(ctx, order, invoices, invoice)
	}
	return nil
}

func (svc *ordersService) handleInvoiceAccepted(ctx context.Context, order *db.Order, invoice *db.HoldInvoice) error {
	now := svc.clock.Now()
	status := Status(order.Status)

	switch invoice.Role {
	case constants.INVOICE_ROLE_MAKER_BOND:
		if status != StatusWaitingMakerBond {
			return nil
		}
		order.Status = int(StatusPublic)
		order.ExpiresAt = now.Add(time.Duration(order.PublicDuration) * time.Second)
		if err := svc.db.Save(order).Error; err != nil {
			return err
		}
		logger.Logger.Info().Uint("order_id", order.ID).Msg("Maker bond locked, order is public")
		svc.eventPublisher.PublishSync(&events.Event{
			Event:      "order_published",
			Properties: order,
		})

	case constants.INVOICE_ROLE_TAKER_BOND:
		if status != StatusWaitingTakerBond {
			return nil
		}
		// the seller now has to deposit the trade collateral
		escrowInvoice, err := svc.createHoldInvoice(ctx, order, constants.INVOICE_ROLE_ESCROW, *order.LastSatoshis, svc.cfg.EscrowInvoiceExpiry)
		if err != nil {
			logger.Logger.Error().Err(err).Uint("order_id", order.ID).Msg("Failed to create escrow invoice")
			return err
		}
		order.Status = int(StatusWaitingEscrow)
		order.ExpiresAt = now.Add(time.Duration(order.EscrowDuration) * time.Second)
		if err := svc.db.Save(order).Error; err != nil {
			return err
		}
		logger.Logger.Info().
			Uint("order_id", order.ID).
			Int64("escrow_satoshis", escrowInvoice.AmountSat).
			Msg("Taker bond locked, waiting for trade collateral")

	case constants.INVOICE_ROLE_ESCROW:
		if status != StatusWaitingEscrow {
			return nil
		}
		order.Status = int(StatusChatOpen)
		if err := svc.db.Save(order).Error; err != nil {
			return err
		}
		logger.Logger.Info().Uint("order_id", order.ID).Msg("Trade collateral locked, chat is open")
		svc.eventPublisher.PublishSync(&events.Event{
			Event:      "order_chat_open",
			Properties: order,
		})
	}
	return nil
}

func (svc *ordersService) handleInvoiceSettled(order *db.Order, invoice *db.HoldInvoice) error {
	if invoice.Role != constants.INVOICE_ROLE_ESCROW {
		// a settled bond is a forfeiture; the order outcome was already decided
		return nil
	}
	if Status(order.Status) != StatusSuccessful {
		return nil
	}
	order.Status = int(StatusCompleted)
	if err := svc.db.Save(order).Error; err != nil {
		return err
	}
	logger.Logger.Info().Uint("order_id", order.ID).Msg("Escrow settled, trade completed")
	svc.eventPublisher.PublishSync(&events.Event{
		Event:      "order_completed",
		Properties: order,
	})
	return nil
}

func (svc *ordersService) handleInvoiceCanceled(ctx context.Context, order *db.Order, invoices []db.HoldInvoice, invoice *db.HoldInvoice) error {
	status := Status(order.Status)
	waitingOnInvoice := (invoice.Role == constants.INVOICE_ROLE_MAKER_BOND && status == StatusWaitingMakerBond) ||
		(invoice.Role == constants.INVOICE_ROLE_TAKER_BOND && status == StatusWaitingTakerBond) ||
		(invoice.Role == constants.INVOICE_ROLE_ESCROW && status == StatusWaitingEscrow)
	if !waitingOnInvoice {
		return nil
	}
	return svc.expireOrder(ctx, order, invoices)
}

// expireOrder cancels every live hold invoice and marks the order expired.
// The caller holds the order's lock.
func (svc *ordersService) expireOrder(ctx context.Context, order *db.Order, invoices []db.HoldInvoice) error {
	svc.cancelLiveInvoices(ctx, order, invoices)

	order.Status = int(StatusExpired)
	if err := svc.db.Save(order).Error; err != nil {
		return err
	}
	logger.Logger.Info().Uint("order_id", order.ID).Msg("Order expired")
	svc.eventPublisher.PublishSync(&events.Event{
		Event:      "order_expired",
		Properties: order,
	})
	return nil
}

// markOrderFailed surfaces a degraded order after the backend failure budget
// for one of its invoices is exhausted.
func (svc *ordersService) markOrderFailed(order *db.Order, reason string) error {
	order.Status = int(StatusFailed)
	order.FailureReason = reason
	if err := svc.db.Save(order).Error; err != nil {
		return err
	}
	logger.Logger.Error().Uint("order_id", order.ID).Str("reason", reason).Msg("Order marked as failed")
	svc.eventPublisher.PublishSync(&events.Event{
		Event:      "order_failed",
		Properties: order,
	})
	return nil
}

func (svc *ordersService) validateCreateOrderRequest(req *CreateOrderRequest) error {
	if req.Type != constants.ORDER_TYPE_BUY && req.Type != constants.ORDER_TYPE_SELL {
		return NewValidationError("order type must be buy or sell")
	}
	if req.Currency == "" {
		return NewValidationError("a currency is required")
	}
	if req.PaymentMethod == "" {
		return NewValidationError("a payment method is required")
	}

	if req.HasRange {
		if req.Amount != nil {
			return NewValidationError("range orders cannot have a fixed amount")
		}
		if req.MinAmount == nil || req.MaxAmount == nil {
			return NewValidationError("range orders require min and max amounts")
		}
		if err := ValidateRange(*req.MinAmount, *req.MaxAmount); err != nil {
			return err
		}
	} else {
		if req.Amount == nil {
			return NewValidationError("a fixed amount is required")
		}
		if req.Amount.Sign() <= 0 {
			return NewValidationError("the amount must be positive")
		}
		if req.MinAmount != nil || req.MaxAmount != nil {
			return NewValidationError("fixed amount orders cannot have a range")
		}
	}

	if req.IsExplicit {
		if req.Satoshis == nil {
			return NewValidationError("explicit orders require a satoshi amount")
		}
		if req.HasRange {
			return NewValidationError("explicit orders cannot have a range")
		}
		if !req.Premium.IsZero() {
			return NewValidationError("explicit orders cannot have a premium")
		}
	} else if req.Satoshis != nil {
		return NewValidationError("relative orders cannot fix a satoshi amount")
	}

	publicDuration := time.Duration(req.PublicDuration) * time.Second
	if publicDuration < svc.cfg.MinPublicDuration || publicDuration > svc.cfg.MaxPublicDuration {
		return NewValidationError("public duration is out of bounds")
	}
	escrowDuration := time.Duration(req.EscrowDuration) * time.Second
	if escrowDuration < svc.cfg.MinEscrowDuration || escrowDuration > svc.cfg.MaxEscrowDuration {
		return NewValidationError("escrow duration is out of bounds")
	}
	if req.BondSize.LessThan(svc.cfg.MinBondSize) || req.BondSize.GreaterThan(svc.cfg.MaxBondSize) {
		return NewValidationError("bond size is out of bounds")
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return NewValidationError("latitude and longitude must be provided together")
	}

	return nil
}

// nominalSatoshis prices a not-yet-taken order for bond sizing: the fixed
// amount or the midpoint of the range, at the current market rate.
func (svc *ordersService) nominalSatoshis(req *CreateOrderRequest) (int64, error) {
	if req.IsExplicit {
		return ExplicitSatoshis(*req.Satoshis)
	}

	var amount, minAmount, maxAmount decimal.Decimal
	if req.HasRange {
		minAmount = *req.MinAmount
		maxAmount = *req.MaxAmount
	} else {
		amount = *req.Amount
	}
	nominal := NominalAmount(req.HasRange, amount, minAmount, maxAmount)

	rate, err := svc.pricesService.Get(req.Currency)
	if err != nil {
		return 0, err
	}
	return SatoshisFromFiat(nominal, rate, req.Premium, svc.cfg.RateFreshness, svc.clock.Now())
}

func (svc *ordersService) createHoldInvoice(ctx context.Context, order *db.Order, role string, amountSat int64, expiry time.Duration) (*db.HoldInvoice, error) {
	preimageBytes, err := makePreimageHex()
	if err != nil {
		return nil, err
	}
	preimage := hex.EncodeToString(preimageBytes)
	paymentHashBytes := sha256.Sum256(preimageBytes)
	paymentHash := hex.EncodeToString(paymentHashBytes[:])

	description := "RoboSats " + role + " for order " + order.Reference
	lnInvoice, err := svc.lnClient.CreateHoldInvoice(ctx, amountSat, description, int64(expiry.Seconds()), paymentHash)
	if err != nil {
		return nil, err
	}

	invoice := db.HoldInvoice{
		OrderID:        order.ID,
		Role:           role,
		Backend:        svc.lnClient.GetBackendType(),
		PaymentRequest: lnInvoice.PaymentRequest,
		PaymentHash:    paymentHash,
		Preimage:       &preimage,
		AmountSat:      amountSat,
		Status:         constants.INVOICE_STATE_REQUESTED,
		ExpiresAt:      svc.clock.Now().Add(expiry),
	}
	err = svc.db.Create(&invoice).Error
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("order_id", order.ID).
			Str("role", role).
			Msg("Failed to create DB hold invoice")
		return nil, err
	}
	return &invoice, nil
}

// settleInvoice releases an accepted hold invoice with its stored preimage.
// The invoice row stays accepted until the follower observes the settle.
func (svc *ordersService) settleInvoice(ctx context.Context, invoice *db.HoldInvoice) error {
	if invoice == nil || invoice.Preimage == nil {
		return NewValidationError("the invoice required for settlement is missing")
	}
	if invoice.Status != constants.INVOICE_STATE_ACCEPTED {
		return NewValidationError("the invoice is not locked and cannot be settled")
	}
	err := svc.lnClient.SettleHoldInvoice(ctx, *invoice.Preimage)
	if err != nil && !lnclient.IsInvoiceAlreadySettledError(err) {
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Msg("Failed to settle hold invoice")
		return err
	}
	return nil
}

func (svc *ordersService) forfeitBond(ctx context.Context, order *db.Order, invoices []db.HoldInvoice, role string) {
	invoice := findInvoice(invoices, role)
	if invoice == nil || invoice.Status != constants.INVOICE_STATE_ACCEPTED {
		return
	}
	err := svc.settleInvoice(ctx, invoice)
	if err != nil {
		logger.Logger.Error().Err(err).
			Uint("order_id", order.ID).
			Str("role", role).
			Msg("Failed to forfeit bond")
	}
}

// cancelBond returns a bond (or unwinds an escrow) by canceling its hold
// invoice. User/coordinator initiated, so the local record is marked
// canceled immediately.
func (svc *ordersService) cancelBond(ctx context.Context, order *db.Order, invoices []db.HoldInvoice, role string) {
	invoice := findInvoice(invoices, role)
	if invoice == nil || isTerminalInvoiceStatus(invoice.Status) {
		return
	}
	err := svc.lnClient.CancelHoldInvoice(ctx, invoice.PaymentHash)
	if err != nil && !lnclient.IsInvoiceAlreadyCanceledError(err) {
		logger.Logger.Error().Err(err).
			Uint("order_id", order.ID).
			Str("role", role).
			Msg("Failed to cancel hold invoice")
		return
	}
	err = svc.db.Model(invoice).Update("status", constants.INVOICE_STATE_CANCELED).Error
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("payment_hash", invoice.PaymentHash).
			Msg("Failed to mark hold invoice canceled")
	}
}

func (svc *ordersService) cancelLiveInvoices(ctx context.Context, order *db.Order, invoices []db.HoldInvoice) {
	for i := range invoices {
		if isTerminalInvoiceStatus(invoices[i].Status) {
			continue
		}
		svc.cancelBond(ctx, order, invoices, invoices[i].Role)
	}
}

func (svc *ordersService) loadOrder(orderID uint) (*db.Order, []db.HoldInvoice, error) {
	var order db.Order
	result := svc.db.Limit(1).Find(&order, &db.Order{ID: orderID})
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).Uint("order_id", orderID).Msg("Failed to load order")
		return nil, nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil, NewNotFoundError()
	}

	var invoices []db.HoldInvoice
	err := svc.db.Where(&db.HoldInvoice{OrderID: order.ID}).Find(&invoices).Error
	if err != nil {
		logger.Logger.Error().Err(err).Uint("order_id", orderID).Msg("Failed to load order invoices")
		return nil, nil, err
	}
	return &order, invoices, nil
}

func (svc *ordersService) isBuyer(order *db.Order, robotID string) bool {
	if order.Type == constants.ORDER_TYPE_BUY {
		return order.MakerID == robotID
	}
	return order.TakerID != nil && *order.TakerID == robotID
}

func (svc *ordersService) isSeller(order *db.Order, robotID string) bool {
	if order.Type == constants.ORDER_TYPE_SELL {
		return order.MakerID == robotID
	}
	return order.TakerID != nil && *order.TakerID == robotID
}

func (svc *ordersService) orderDetails(order *db.Order, invoices []db.HoldInvoice, robotID string) *OrderDetails {
	status := Status(order.Status)
	isMaker := robotID != "" && order.MakerID == robotID
	isTaker := robotID != "" && order.TakerID != nil && *order.TakerID == robotID

	details := &OrderDetails{
		ID:             order.ID,
		Reference:      order.Reference,
		Status:         status,
		StatusMessage:  status.Label(),
		CreatedAt:      order.CreatedAt,
		ExpiresAt:      order.ExpiresAt,
		Type:           order.Type,
		Currency:       order.Currency,
		HasRange:       order.HasRange,
		IsExplicit:     order.IsExplicit,
		Satoshis:       order.Satoshis,
		Premium:        order.Premium,
		PaymentMethod:  order.PaymentMethod,
		BondSize:       order.BondSize,
		PublicDuration: order.PublicDuration,
		EscrowDuration: order.EscrowDuration,
		Taker:          order.TakerID,
		IsMaker:        isMaker,
		IsTaker:        isTaker,
		IsParticipant:  isMaker || isTaker,
		IsBuyer:        robotID != "" && svc.isBuyer(order, robotID),
		IsSeller:       robotID != "" && svc.isSeller(order, robotID),
		IsFiatSent:     status == StatusFiatSent,
		IsDisputed:     status == StatusDisputed,
		LastSatoshis:   order.LastSatoshis,
		FailureReason:  order.FailureReason,
	}

	if order.Amount.Valid {
		details.Amount = &order.Amount.Decimal
	}
	if order.MinAmount.Valid {
		details.MinAmount = &order.MinAmount.Decimal
	}
	if order.MaxAmount.Valid {
		details.MaxAmount = &order.MaxAmount.Decimal
	}
	if order.Latitude.Valid && order.Longitude.Valid {
		details.Latitude = &order.Latitude.Decimal
		details.Longitude = &order.Longitude.Decimal
	}

	for i := range invoices {
		invoice := &invoices[i]
		locked := invoice.Status == constants.INVOICE_STATE_ACCEPTED || invoice.Status == constants.INVOICE_STATE_SETTLED
		switch invoice.Role {
		case constants.INVOICE_ROLE_MAKER_BOND:
			details.MakerLocked = locked
			if status == StatusWaitingMakerBond && isMaker {
				details.BondInvoice = invoice.PaymentRequest
				details.BondSatoshis = &invoice.AmountSat
			}
		case constants.INVOICE_ROLE_TAKER_BOND:
			details.TakerLocked = locked
			if status == StatusWaitingTakerBond && isTaker {
				details.BondInvoice = invoice.PaymentRequest
				details.BondSatoshis = &invoice.AmountSat
			}
		case constants.INVOICE_ROLE_ESCROW:
			details.EscrowLocked = locked
			if status == StatusWaitingEscrow && svc.isSeller(order, robotID) {
				details.EscrowInvoice = invoice.PaymentRequest
				details.EscrowSatoshis = &invoice.AmountSat
			}
		}
	}

	// live estimate for relative orders; the frozen amount never moves
	if !order.IsExplicit && order.LastSatoshis == nil {
		rate, err := svc.pricesService.Get(order.Currency)
		if err == nil {
			nominal := NominalAmount(order.HasRange, order.Amount.Decimal, order.MinAmount.Decimal, order.MaxAmount.Decimal)
			satoshisNow, err := SatoshisFromFiat(nominal, rate, order.Premium, svc.cfg.RateFreshness, svc.clock.Now())
			if err == nil {
				details.SatoshisNow = &satoshisNow
				details.PriceNow = &rate.Price
				details.PremiumNow = &order.Premium
			}
		}
	}

	// for explicit orders the effective premium drifts with the market
	if order.IsExplicit && order.Satoshis != nil && order.Amount.Valid && *order.Satoshis > 0 {
		rate, err := svc.pricesService.Get(order.Currency)
		if err == nil && rate.Price.IsPositive() {
			impliedPrice := order.Amount.Decimal.Div(decimal.NewFromInt(*order.Satoshis).Div(decimal.NewFromInt(100_000_000)))
			premiumNow := impliedPrice.Div(rate.Price).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(2)
			details.PriceNow = &rate.Price
			details.PremiumNow = &premiumNow
		}
	}

	return details
}

func findInvoice(invoices []db.HoldInvoice, role string) *db.HoldInvoice {
	for i := range invoices {
		if invoices[i].Role == role {
			return &invoices[i]
		}
	}
	return nil
}

func isTerminalInvoiceStatus(status string) bool {
	return slices.Contains([]string{
		constants.INVOICE_STATE_SETTLED,
		constants.INVOICE_STATE_CANCELED,
		constants.INVOICE_STATE_EXPIRED,
	}, status)
}

func makePreimageHex() ([]byte, error) {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
