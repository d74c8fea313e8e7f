package tests

import (
	"context"
	"fmt"
	"sync"

	"github.com/rodrigodh/robosats/lnclient"
)

// MockLNClient is a stateful in-memory payment backend. Tests flip invoice
// states between reconciliation passes to simulate payers locking, the
// backend settling, or invoices lapsing.
type MockLNClient struct {
	mtx      sync.Mutex
	invoices map[string]*lnclient.Invoice

	// when set, lookups fail with a transient backend error
	LookupError error

	// when set, invoice creation fails
	CreateError error

	CreatedInvoices  int
	SettledPreimages []string
	CanceledHashes   []string
}

func NewMockLNClient() *MockLNClient {
	return &MockLNClient{
		invoices: map[string]*lnclient.Invoice{},
	}
}

func (mock *MockLNClient) CreateHoldInvoice(ctx context.Context, amountSat int64, description string, expiry int64, paymentHash string) (*lnclient.Invoice, error) {
	mock.mtx.Lock()
	defer mock.mtx.Unlock()

	if mock.CreateError != nil {
		return nil, mock.CreateError
	}
	mock.CreatedInvoices++
	invoice := &lnclient.Invoice{
		PaymentRequest: fmt.Sprintf("lntest%d_%s", amountSat, paymentHash[:8]),
		PaymentHash:    paymentHash,
		AmountSat:      amountSat,
		State:          lnclient.INVOICE_STATE_OPEN,
	}
	mock.invoices[paymentHash] = invoice
	return invoice, nil
}

func (mock *MockLNClient) LookupHoldInvoice(ctx context.Context, paymentHash string) (*lnclient.Invoice, error) {
	mock.mtx.Lock()
	defer mock.mtx.Unlock()

	if mock.LookupError != nil {
		return nil, mock.LookupError
	}
	invoice, ok := mock.invoices[paymentHash]
	if !ok {
		return nil, lnclient.NewInvalidParametersError("unknown invoice")
	}
	copied := *invoice
	return &copied, nil
}

func (mock *MockLNClient) SettleHoldInvoice(ctx context.Context, preimage string) error {
	mock.mtx.Lock()
	defer mock.mtx.Unlock()

	mock.SettledPreimages = append(mock.SettledPreimages, preimage)
	return nil
}

func (mock *MockLNClient) CancelHoldInvoice(ctx context.Context, paymentHash string) error {
	mock.mtx.Lock()
	defer mock.mtx.Unlock()

	invoice, ok := mock.invoices[paymentHash]
	if ok {
		if invoice.State == lnclient.INVOICE_STATE_CANCELED {
			return lnclient.NewInvoiceAlreadyCanceledError()
		}
		invoice.State = lnclient.INVOICE_STATE_CANCELED
	}
	mock.CanceledHashes = append(mock.CanceledHashes, paymentHash)
	return nil
}

func (mock *MockLNClient) GetInfo(ctx context.Context) (*lnclient.NodeInfo, error) {
	return &lnclient.NodeInfo{
		Alias:   "test-coordinator",
		Pubkey:  "02abcdef",
		Network: "regtest",
	}, nil
}

func (mock *MockLNClient) GetBackendType() string {
	return "MOCK"
}

func (mock *MockLNClient) Shutdown() error {
	return nil
}

// SetInvoiceState scripts the backend-side state of an invoice, e.g. a payer
// locking a bond (accepted) or the invoice being released (settled).
func (mock *MockLNClient) SetInvoiceState(paymentHash string, state string) {
	mock.mtx.Lock()
	defer mock.mtx.Unlock()

	invoice, ok := mock.invoices[paymentHash]
	if ok {
		invoice.State = state
	}
}

// InvoiceState reports the backend-side state of an invoice.
func (mock *MockLNClient) InvoiceState(paymentHash string) string {
	mock.mtx.Lock()
	defer mock.mtx.Unlock()

	invoice, ok := mock.invoices[paymentHash]
	if !ok {
		return ""
	}
	return invoice.State
}
