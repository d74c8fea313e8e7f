package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodrigodh/robosats/constants"
	"github.com/rodrigodh/robosats/db"
	"github.com/rodrigodh/robosats/lnclient"
	"github.com/rodrigodh/robosats/tests"
)

func createTestFollower(t *testing.T, svc *tests.TestService, ordersService *ordersService, clock *testClock) *InvoiceFollower {
	t.Helper()

	follower := NewInvoiceFollower(svc.DB, svc.LNClient, ordersService, time.Second, 3)
	follower.clock = clock
	return follower
}

func TestFollower_ExpiresUnpaidMakerBond(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, clock := createTestOrdersService(t, svc)
	ctx := context.TODO()
	follower := createTestFollower(t, svc, ordersService, clock)

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	// within the bond window nothing happens
	follower.FollowHoldInvoices(ctx)
	assertOrderStatus(t, svc, details.ID, StatusWaitingMakerBond)

	clock.Advance(8 * time.Minute)
	follower.FollowHoldInvoices(ctx)

	assertOrderStatus(t, svc, details.ID, StatusExpired)

	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.First(&invoice).Error)
	assert.Equal(t, constants.INVOICE_STATE_EXPIRED, invoice.Status)
	assert.Contains(t, svc.LNClient.CanceledHashes, invoice.PaymentHash)
}

func TestFollower_ExpiresUntakenPublicOrder(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, clock := createTestOrdersService(t, svc)
	ctx := context.TODO()
	follower := createTestFollower(t, svc, ordersService, clock)

	details := createPublicOrder(t, ctx, svc, ordersService)

	clock.Advance(25 * time.Hour)
	follower.FollowHoldInvoices(ctx)

	assertOrderStatus(t, svc, details.ID, StatusExpired)

	// the maker bond was returned, not kept
	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.First(&invoice).Error)
	assert.Equal(t, constants.INVOICE_STATE_CANCELED, invoice.Status)
}

func TestFollower_FailureBudget(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, clock := createTestOrdersService(t, svc)
	ctx := context.TODO()
	follower := createTestFollower(t, svc, ordersService, clock)

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	svc.LNClient.LookupError = lnclient.NewBackendUnavailableError(errors.New("connection refused"))

	follower.FollowHoldInvoices(ctx)
	follower.FollowHoldInvoices(ctx)
	assertOrderStatus(t, svc, details.ID, StatusWaitingMakerBond)

	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.First(&invoice).Error)
	assert.Equal(t, uint(2), invoice.ConsecutiveFailures)

	// the third consecutive failure exhausts the budget
	follower.FollowHoldInvoices(ctx)
	assertOrderStatus(t, svc, details.ID, StatusFailed)

	var order db.Order
	require.NoError(t, svc.DB.First(&order, details.ID).Error)
	assert.NotEmpty(t, order.FailureReason)
}

func TestFollower_FailureCounterResets(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, clock := createTestOrdersService(t, svc)
	ctx := context.TODO()
	follower := createTestFollower(t, svc, ordersService, clock)

	details, err := ordersService.CreateOrder(ctx, "maker", rangeOrderRequest())
	require.NoError(t, err)

	svc.LNClient.LookupError = lnclient.NewBackendUnavailableError(errors.New("connection refused"))
	follower.FollowHoldInvoices(ctx)
	follower.FollowHoldInvoices(ctx)

	// the backend recovers before the budget runs out
	svc.LNClient.LookupError = nil
	follower.FollowHoldInvoices(ctx)

	var invoice db.HoldInvoice
	require.NoError(t, svc.DB.First(&invoice).Error)
	assert.Equal(t, uint(0), invoice.ConsecutiveFailures)
	assertOrderStatus(t, svc, details.ID, StatusWaitingMakerBond)
}

func TestFollower_PassSurvivesBackendErrors(t *testing.T) {
	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	ordersService, clock := createTestOrdersService(t, svc)
	ctx := context.TODO()
	follower := createTestFollower(t, svc, ordersService, clock)

	first, err := ordersService.CreateOrder(ctx, "maker-1", rangeOrderRequest())
	require.NoError(t, err)
	second, err := ordersService.CreateOrder(ctx, "maker-2", rangeOrderRequest())
	require.NoError(t, err)

	// the first invoice lapses on the backend; the pass must still
	// reconcile the second one
	var invoices []db.HoldInvoice
	require.NoError(t, svc.DB.Order("id asc").Find(&invoices).Error)
	require.Len(t, invoices, 2)
	svc.LNClient.CancelHoldInvoice(ctx, invoices[0].PaymentHash)

	svc.LNClient.SetInvoiceState(invoices[1].PaymentHash, lnclient.INVOICE_STATE_ACCEPTED)
	follower.FollowHoldInvoices(ctx)

	assertOrderStatus(t, svc, first.ID, StatusExpired)
	assertOrderStatus(t, svc, second.ID, StatusPublic)
}
