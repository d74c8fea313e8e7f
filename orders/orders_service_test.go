package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/events"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/prices"
	"github.com/rodrigodh/robosats/tests"
)

type testClock struct {
	now time.Time
}

func (clock *testClock) Now() time.Time { return clock.now }

func (clock *testClock) Advance(d time.Duration) { clock.now = clock.now.Add(d) }

type staticRateFetcher struct {
	rates map[string]decimal.Decimal
}

func (fetcher *staticRateFetcher) FetchRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	return fetcher.rates, nil
}

func testPolicy() *Config {
	return &Config{
		BondInvoiceExpiry:   450 * time.Second,
		EscrowInvoiceExpiry: 28800 * time.Second,
		RateFreshness:       10 * time.Minute,
		MaxInvoiceFailures:  3,
		MinPublicDuration:   10 * time.Minute,
		MaxPublicDuration:   24 * time.Hour,
		MinEscrowDuration:   30 * time.Minute,
		MaxEscrowDuration:   8 * time.Hour,
		MinBondSize:         decimal.NewFromFloat(2.0),
		MaxBondSize:         decimal.NewFromFloat(15.0),
		ForfeitLoserBond:    true,
	}
}

func createTestOrdersService(t *testing.T, svc *tests.TestService) (*ordersService, *testClock) {
	t.Helper()

	fetcher := &staticRateFetcher{rates: map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(100000),
	}}
	pricesService := prices.NewPricesService(svc.DB, fetcher, []string{"USD"})
	err := pricesService.RefreshAll(context.TODO())
	require.NoError(t, err)

	ordersService := NewOrdersService(svc.DB, svc.LNClient, pricesService, svc.EventPublisher, testPolicy())
	clock := &testClock{now: time.Now()}
	ordersService.clock = clock
	return ordersService, clock
}

func rangeOrderRequest() *CreateOrderRequest {
	minAmount := decimal.NewFromFloat(21)
	maxAmount := decimal.NewFromFloat(101.7)
	return &CreateOrderRequest{
		Type:           constants.ORDER_TYPE_BUY,
		Currency:       "USD",
		HasRange:       true,
		MinAmount:      &minAmount,
		MaxAmount:      &maxAmount,
		PaymentMethod:  "Revolut",
		Premium:        decimal.NewFromFloat(3.34),
		PublicDuration: 24 * 60 * 60,
		EscrowDuration: 8 * 60 * 60,
		BondSize:       decimal.NewFromFloat(3.0),
	}
}

func fixedOrderRequest(amount float64) *CreateOrderRequest {
	fixed := decimal.NewFromFloat(amount)
	req := rangeOrderRequest()
	req.HasRange = false
	req.MinAmount = nil
	req.MaxAmount = nil
	req.Amount = &fixed
	return req
}

func TestCreateOrder_RangeOrder(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)

	details, err := ordersService.CreateOrder(context.TODO(), "maker", rangeOrderRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusWaitingMakerBond, details.Status)
	assert.True(t, details.HasRange)
	assert.Nil(t, details.Amount)
	assert.Equal(t, "21", details.MinAmount.String())
	assert.Equal(t, "101.7", details.MaxAmount.String())
	assert.Nil(t, details.Taker)
	assert.Equal(t, uint64(24*60*60), details.PublicDuration)
	assert.Equal(t, uint64(8*60*60), details.EscrowDuration)
	assert.True(t, details.IsMaker)
	assert.NotEmpty(t, details.BondInvoice)
	require.NotNil(t, details.SatoshisNow)
	assert.Greater(t, *details.SatoshisNow, int64(0))
	assert.Nil(t, details.LastSatoshis)

	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.First(&invoice).Error)
	assert.Equal(t, constants.INVOICE_ROLE_MAKER_BOND, invoice.Role)
	assert.Equal(t, constants.INVOICE_STATE_REQUESTED, invoice.Status)
	assert.GreaterOrEqual(t, invoice.AmountSat, int64(constants.MIN_BOND_SATOSHIS))
}

func TestCreateOrder_Validation(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	req := rangeOrderRequest()
	req.MinAmount, req.MaxAmount = req.MaxAmount, req.MinAmount
	_, err = ordersService.CreateOrder(ctx, "maker", req)
	assert.True(t, IsInvalidRangeError(err))

	req = rangeOrderRequest()
	req.Type = "lend"
	_, err = ordersService.CreateOrder(ctx, "maker", req)
	assert.True(t, IsValidationError(err))

	req = fixedOrderRequest(100)
	req.BondSize = decimal.NewFromFloat(50)
	_, err = ordersService.CreateOrder(ctx, "maker", req)
	assert.True(t, IsValidationError(err))

	req = fixedOrderRequest(100)
	satoshis := int64(50000)
	req.Satoshis = &satoshis
	_, err = ordersService.CreateOrder(ctx, "maker", req)
	assert.True(t, IsValidationError(err))
}

func TestCreateOrder_StaleRate(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, clock := createTestOrdersService(t, svc)
	clock.Advance(11 * time.Minute)

	_, err = ordersService.CreateOrder(context.TODO(), "maker", rangeOrderRequest())
	assert.True(t, IsStaleRateError(err))
}

func TestMakerBondAccepted_OrderBecomesPublic(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	follower := NewInvoiceFollower(svc.DB, svc.LNClient, ordersService, time.Second, 3)

	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.First(&invoice).Error)
	svc.LNClient.SetInvoiceState(invoice.PaymentHash, lnclient.INVOICE_STATE_ACCEPTED)

	follower.FollowHoldInvoices(ctx)

	var order db.Order
	require.NoError(t, svc.DB.First(&order, details.ID).Error)
	assert.Equal(t, int(StatusPublic), order.Status)

	// a second pass with no backend change writes nothing new
	follower.FollowHoldInvoices(ctx)
	require.NoError(t, svc.DB.First(&order, details.ID).Error)
	assert.Equal(t, int(StatusPublic), order.Status)

	var invoiceCount int64
	svc.DB.Model(&db.HoldInvoice{}).Count(&invoiceCount)
	assert.Equal(t, int64(1), invoiceCount)
}

func TestTakeOrder_FreezesAmount(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details := createPublicOrder(t, ctx, svc, ordersService)

	amount := decimal.NewFromInt(60)
	taken, err := ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.NoError(t, err)

	assert.Equal(t, StatusWaitingTakerBond, taken.Status)
	require.NotNil(t, taken.LastSatoshis)
	frozen := *taken.LastSatoshis
	assert.Greater(t, frozen, int64(0))
	assert.NotEmpty(t, taken.BondInvoice)

	// the frozen amount never moves once set
	reloaded, err := ordersService.GetOrder(ctx, details.ID, "taker")
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastSatoshis)
	assert.Equal(t, frozen, *reloaded.LastSatoshis)
	assert.Nil(t, reloaded.SatoshisNow)
}

func TestTakeOrder_Conflicts(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details := createPublicOrder(t, ctx, svc, ordersService)
	amount := decimal.NewFromInt(60)

	// a concurrent operation holding the order lock forces a conflict
	lock := ordersService.locks.get(details.ID)
	lock.Lock()
	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	assert.True(t, IsConflictError(err))
	lock.Unlock()

	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.NoError(t, err)

	// the order is no longer public, a second taker loses the race
	_, err = ordersService.TakeOrder(ctx, details.ID, "other-taker", &amount)
	assert.True(t, IsConflictError(err))
}

func TestTakeOrder_Validation(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details := createPublicOrder(t, ctx, svc, ordersService)

	outOfRange := decimal.NewFromInt(500)
	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &outOfRange)
	assert.True(t, IsValidationError(err))

	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", nil)
	assert.True(t, IsValidationError(err))

	amount := decimal.NewFromInt(60)
	_, err = ordersService.TakeOrder(ctx, details.ID, "maker", &amount)
	assert.True(t, IsValidationError(err))
}

func TestCancelOrder_CancelsLiveBond(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	err = ordersService.CancelOrder(ctx, details.ID, "taker")
	assert.True(t, IsUnauthorizedError(err))

	err = ordersService.CancelOrder(ctx, details.ID, "maker")
	require.NoError(t, err)

	var order db.Order
	require.NoError(t, svc.DB.First(&order, details.ID).Error)
	assert.Equal(t, int(StatusCancelled), order.Status)

	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.First(&invoice).Error)
	assert.Equal(t, constants.INVOICE_STATE_CANCELED, invoice.Status)
	assert.Contains(t, svc.LNClient.CanceledHashes, invoice.PaymentHash)

	err = ordersService.CancelOrder(ctx, details.ID, "maker")
	assert.True(t, IsValidationError(err))
}

func TestFullTradePipeline(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()
	follower := NewInvoiceFollower(svc.DB, svc.LNClient, ordersService, time.Second, 3)

	// maker buys, so the taker is the seller and deposits the collateral
	details := createPublicOrder(t, ctx, svc, ordersService)

	amount := decimal.NewFromInt(60)
	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.NoError(t, err)

	acceptInvoice(t, svc, details.ID, constants.INVOICE_ROLE_TAKER_BOND)
	follower.FollowHoldInvoices(ctx)
	assertOrderStatus(t, svc, details.ID, StatusWaitingEscrow)

	var escrow db.HoldInvoice
	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID, Role: constants.INVOICE_ROLE_ESCROW}).First(&escrow).Error)

	var order db.Order
	require.NoError(t, svc.DB.First(&order, details.ID).Error)
	assert.Equal(t, *order.LastSatoshis, escrow.AmountSat)

	// the collateral invoice is exposed to the seller only
	sellerView, err := ordersService.GetOrder(ctx, details.ID, "taker")
	require.NoError(t, err)
	assert.NotEmpty(t, sellerView.EscrowInvoice)
	buyerView, err := ordersService.GetOrder(ctx, details.ID, "maker")
	require.NoError(t, err)
	assert.Empty(t, buyerView.EscrowInvoice)

	acceptInvoice(t, svc, details.ID, constants.INVOICE_ROLE_ESCROW)
	follower.FollowHoldInvoices(ctx)
	assertOrderStatus(t, svc, details.ID, StatusChatOpen)

	// only the buyer can declare fiat sent
	_, err = ordersService.ConfirmFiatSent(ctx, details.ID, "taker")
	assert.True(t, IsUnauthorizedError(err))
	_, err = ordersService.ConfirmFiatSent(ctx, details.ID, "maker")
	require.NoError(t, err)
	assertOrderStatus(t, svc, details.ID, StatusFiatSent)

	// only the seller can declare fiat received
	_, err = ordersService.ConfirmFiatReceived(ctx, details.ID, "maker")
	assert.True(t, IsUnauthorizedError(err))
	_, err = ordersService.ConfirmFiatReceived(ctx, details.ID, "taker")
	require.NoError(t, err)
	assertOrderStatus(t, svc, details.ID, StatusSuccessful)

	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID, Role: constants.INVOICE_ROLE_ESCROW}).First(&escrow).Error)
	assert.Contains(t, svc.LNClient.SettledPreimages, *escrow.Preimage)

	// both bonds are returned
	for _, role := range []string{constants.INVOICE_ROLE_MAKER_BOND, constants.INVOICE_ROLE_TAKER_BOND} {
		var bond db.HoldInvoice
		require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID, Role: role}).First(&bond).Error)
		assert.Equal(t, constants.INVOICE_STATE_CANCELED, bond.Status)
	}

	// the follower observes the escrow settle and completes the trade
	svc.LNClient.SetInvoiceState(escrow.PaymentHash, lnclient.INVOICE_STATE_SETTLED)
	follower.FollowHoldInvoices(ctx)
	assertOrderStatus(t, svc, details.ID, StatusCompleted)
}

func TestOpenAndResolveDispute(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()
	follower := NewInvoiceFollower(svc.DB, svc.LNClient, ordersService, time.Second, 3)

	details := createPublicOrder(t, ctx, svc, ordersService)
	amount := decimal.NewFromInt(60)
	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.NoError(t, err)

	acceptInvoice(t, svc, details.ID, constants.INVOICE_ROLE_TAKER_BOND)
	follower.FollowHoldInvoices(ctx)
	acceptInvoice(t, svc, details.ID, constants.INVOICE_ROLE_ESCROW)
	follower.FollowHoldInvoices(ctx)

	_, err = ordersService.OpenDispute(ctx, details.ID, "stranger")
	assert.True(t, IsUnauthorizedError(err))

	_, err = ordersService.OpenDispute(ctx, details.ID, "maker")
	require.NoError(t, err)
	assertOrderStatus(t, svc, details.ID, StatusDisputed)

	err = ordersService.ResolveDispute(ctx, details.ID, "nobody")
	assert.True(t, IsValidationError(err))

	// maker buys, so a buyer win settles the escrow and forfeits the
	// seller-side (taker) bond
	err = ordersService.ResolveDispute(ctx, details.ID, constants.DISPUTE_WINNER_BUYER)
	require.NoError(t, err)
	assertOrderStatus(t, svc, details.ID, StatusSuccessful)

	var escrow db.HoldInvoice
	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID, Role: constants.INVOICE_ROLE_ESCROW}).First(&escrow).Error)
	assert.Contains(t, svc.LNClient.SettledPreimages, *escrow.Preimage)

	var takerBond db.HoldInvoice
	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID, Role: constants.INVOICE_ROLE_TAKER_BOND}).First(&takerBond).Error)
	assert.Contains(t, svc.LNClient.SettledPreimages, *takerBond.Preimage)

	var makerBond db.HoldInvoice
	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID, Role: constants.INVOICE_ROLE_MAKER_BOND}).First(&makerBond).Error)
	assert.Equal(t, constants.INVOICE_STATE_CANCELED, makerBond.Status)
}

func TestTransitionGuards(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details := createPublicOrder(t, ctx, svc, ordersService)

	// chat operations are rejected before the chat stage is reached
	_, err = ordersService.ConfirmFiatSent(ctx, details.ID, "maker")
	assert.True(t, IsUnauthorizedError(err) || IsValidationError(err))
	_, err = ordersService.ConfirmFiatReceived(ctx, details.ID, "maker")
	assert.True(t, IsUnauthorizedError(err) || IsValidationError(err))
	_, err = ordersService.OpenDispute(ctx, details.ID, "maker")
	assert.True(t, IsValidationError(err))
	err = ordersService.ResolveDispute(ctx, details.ID, constants.DISPUTE_WINNER_BUYER)
	assert.True(t, IsValidationError(err))

	// cancellation stops being available once the order is taken
	amount := decimal.NewFromInt(60)
	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.NoError(t, err)
	err = ordersService.CancelOrder(ctx, details.ID, "maker")
	assert.True(t, IsValidationError(err))
}

func TestGetOrder_Visibility(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	// a pre-public order is invisible to strangers
	_, err = ordersService.GetOrder(ctx, details.ID, "stranger")
	assert.True(t, IsNotFoundError(err))

	_, err = ordersService.GetOrder(ctx, 9999, "maker")
	assert.True(t, IsNotFoundError(err))

	// the bond payment request is shown to the maker only
	makerView, err := ordersService.GetOrder(ctx, details.ID, "maker")
	require.NoError(t, err)
	assert.NotEmpty(t, makerView.BondInvoice)
}

func TestListPublicOrders(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	// one public order, one still waiting for its bond
	public := createPublicOrder(t, ctx, svc, ordersService)
	_, err = ordersService.CreateOrder(ctx, "other-maker", rangeOrderRequest())
	require.NoError(t, err)

	book, err := ordersService.ListPublicOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, book, 1)
	assert.Equal(t, public.ID, book[0].ID)
	require.NotNil(t, book[0].SatoshisNow)
	// every public order has an accepted maker bond behind it
	assert.True(t, book[0].MakerLocked)
	assert.Empty(t, book[0].BondInvoice)

	book, err = ordersService.ListPublicOrders(ctx, "EUR")
	require.NoError(t, err)
	assert.Empty(t, book)
}

func TestTakeOrder_BondFailureRestoresOrder(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details := createPublicOrder(t, ctx, svc, ordersService)

	svc.LNClient.CreateError = lnclient.NewBackendUnavailableError(errors.New("connection refused"))
	amount := decimal.NewFromFloat(60)
	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.Error(t, err)

	// the order goes back on the book with no trace of the failed take
	var order db.Order
	require.NoError(t, svc.DB.First(&order, details.ID).Error)
	assert.Equal(t, int(StatusPublic), order.Status)
	assert.Nil(t, order.TakerID)
	assert.Nil(t, order.LastSatoshis)
	assert.False(t, order.TakenRate.Valid)
	assert.False(t, order.Amount.Valid)

	svc.LNClient.CreateError = nil
	taken, err := ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingTakerBond, taken.Status)
}

func TestCanceledInvoiceStaysCanceled(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	// copy loaded before the cancel lands, the way a reconciliation pass
	// holds one while waiting for the order lock
	var stale db.HoldInvoice
	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID}).First(&stale).Error)

	require.NoError(t, ordersService.CancelOrder(ctx, details.ID, "maker"))

	err = ordersService.handleInvoiceUpdate(ctx, &stale, constants.INVOICE_STATE_ACCEPTED, "", nil)
	require.Error(t, err)
	assert.True(t, IsInvoiceTerminalMismatchError(err))

	var current db.HoldInvoice
	require.NoError(t, svc.DB.First(&current, stale.ID).Error)
	assert.Equal(t, constants.INVOICE_STATE_CANCELED, current.Status)
}

type eventSink struct {
	mtx  sync.Mutex
	seen []string
}

func (sink *eventSink) ConsumeEvent(ctx context.Context, event *events.Event, globalProperties map[string]interface{}) {
	sink.mtx.Lock()
	defer sink.mtx.Unlock()
	sink.seen = append(sink.seen, event.Event)
}

func (sink *eventSink) names() []string {
	sink.mtx.Lock()
	defer sink.mtx.Unlock()
	return append([]string{}, sink.seen...)
}

func TestOrderLifecycleEvents(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, _ := createTestOrdersService(t, svc)
	ctx := context.TODO()

	sink := &eventSink{}
	svc.EventPublisher.RegisterSubscriber(sink)

	details := createPublicOrder(t, ctx, svc, ordersService)
	assert.Contains(t, sink.names(), "order_published")

	follower := NewInvoiceFollower(svc.DB, svc.LNClient, ordersService, time.Second, 3)
	amount := decimal.NewFromFloat(60)
	_, err = ordersService.TakeOrder(ctx, details.ID, "taker", &amount)
	require.NoError(t, err)
	acceptInvoice(t, svc, details.ID, constants.INVOICE_ROLE_TAKER_BOND)
	follower.FollowHoldInvoices(ctx)
	acceptInvoice(t, svc, details.ID, constants.INVOICE_ROLE_ESCROW)
	follower.FollowHoldInvoices(ctx)

	assert.Contains(t, sink.names(), "order_chat_open")
	assert.NotContains(t, sink.names(), "order_completed")

	_, err = ordersService.ConfirmFiatSent(ctx, details.ID, "maker")
	require.NoError(t, err)
	_, err = ordersService.ConfirmFiatReceived(ctx, details.ID, "taker")
	require.NoError(t, err)

	var escrow db.HoldInvoice
	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: details.ID, Role: constants.INVOICE_ROLE_ESCROW}).First(&escrow).Error)
	svc.LNClient.SetInvoiceState(escrow.PaymentHash, lnclient.INVOICE_STATE_SETTLED)
	follower.FollowHoldInvoices(ctx)

	assert.Contains(t, sink.names(), "order_completed")
}

func createPublicOrder(t *testing.T, ctx context.Context, svc *tests.TestService, ordersService *ordersService) *OrderDetails {
	t.Helper()

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	follower := NewInvoiceFollower(svc.DB, svc.LNClient, ordersService, time.Second, 3)
	acceptInvoice(t, svc, details.ID, constants.INVOICE_ROLE_MAKER_BOND)
	follower.FollowHoldInvoices(ctx)

	assertOrderStatus(t, svc, details.ID, StatusPublic)
	return details
}

func acceptInvoice(t *testing.T, svc *tests.TestService, orderID uint, role string) {
	t.Helper()

	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.Where(&db.HoldInvoice{OrderID: orderID, Role: role}).First(&invoice).Error)
	svc.LNClient.SetInvoiceState(invoice.PaymentHash, lnclient.INVOICE_STATE_ACCEPTED)
}

func assertOrderStatus(t *testing.T, svc *tests.TestService, orderID uint, expected Status) {
	t.Helper()

	var order db.Order
	require.NoError(t, svc.DB.First(&order, orderID).Error)
	assert.Equal(t, int(expected), order.Status)
}
