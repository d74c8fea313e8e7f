package lnclient

import (
	"context"
	"errors"
	"fmt"
)

const DEFAULT_INVOICE_EXPIRY = 86400

// hold invoice states as observed on the backend
const (
	INVOICE_STATE_OPEN     = "OPEN"
	INVOICE_STATE_ACCEPTED = "ACCEPTED"
	INVOICE_STATE_SETTLED  = "SETTLED"
	INVOICE_STATE_CANCELED = "CANCELED"
)

type Invoice struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
	Preimage       string `json:"preimage,omitempty"`
	AmountSat      int64  `json:"amount_sat"`
	State          string `json:"state"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"`
	SettledAt      *int64 `json:"settled_at,omitempty"`
}

type NodeInfo struct {
	Alias       string
	Pubkey      string
	Network     string
	BlockHeight uint32
}

// LNClient is the capability interface over heterogeneous payment-network
// node backends. The order engine and the invoice follower depend only on
// this interface, never on a concrete backend.
type LNClient interface {
	CreateHoldInvoice(ctx context.Context, amountSat int64, description string, expiry int64, paymentHash string) (*Invoice, error)
	LookupHoldInvoice(ctx context.Context, paymentHash string) (*Invoice, error)
	SettleHoldInvoice(ctx context.Context, preimage string) error
	CancelHoldInvoice(ctx context.Context, paymentHash string) error
	GetInfo(ctx context.Context) (*NodeInfo, error)
	GetBackendType() string
	Shutdown() error
}

// BackendUnavailableError marks transient backend failures. Callers retry on
// the next reconciliation cycle instead of failing the order outright.
type BackendUnavailableError struct {
	Err error
}

func NewBackendUnavailableError(err error) error {
	return &BackendUnavailableError{Err: err}
}

func (err *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", err.Err)
}

func (err *BackendUnavailableError) Unwrap() error {
	return err.Err
}

func IsBackendUnavailableError(err error) bool {
	var unavailableErr *BackendUnavailableError
	return errors.As(err, &unavailableErr)
}

type invoiceAlreadySettledError struct {
}

func NewInvoiceAlreadySettledError() error {
	return &invoiceAlreadySettledError{}
}

func (err *invoiceAlreadySettledError) Error() string {
	return "the invoice has already been settled"
}

func IsInvoiceAlreadySettledError(err error) bool {
	var settledErr *invoiceAlreadySettledError
	return errors.As(err, &settledErr)
}

type invoiceAlreadyCanceledError struct {
}

func NewInvoiceAlreadyCanceledError() error {
	return &invoiceAlreadyCanceledError{}
}

func (err *invoiceAlreadyCanceledError) Error() string {
	return "the invoice has already been canceled"
}

func IsInvoiceAlreadyCanceledError(err error) bool {
	var canceledErr *invoiceAlreadyCanceledError
	return errors.As(err, &canceledErr)
}

type invalidParametersError struct {
	message string
}

func NewInvalidParametersError(message string) error {
	return &invalidParametersError{message: message}
}

func (err *invalidParametersError) Error() string {
	return err.message
}
