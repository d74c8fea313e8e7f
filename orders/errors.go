package orders

import (
	"errors"
	"fmt"
)

type validationError struct {
	message string
}

func NewValidationError(message string) error {
	return &validationError{message: message}
}

func (err *validationError) Error() string {
	return err.message
}

func IsValidationError(err error) bool {
	var vErr *validationError
	return errors.As(err, &vErr)
}

type invalidRangeError struct {
	message string
}

func NewInvalidRangeError(message string) error {
	return &invalidRangeError{message: message}
}

func (err *invalidRangeError) Error() string {
	return err.message
}

func IsInvalidRangeError(err error) bool {
	var rErr *invalidRangeError
	return errors.As(err, &rErr)
}

type conflictError struct {
}

func NewConflictError() error {
	return &conflictError{}
}

func (err *conflictError) Error() string {
	return "another operation is mutating this order, retry shortly"
}

func IsConflictError(err error) bool {
	var cErr *conflictError
	return errors.As(err, &cErr)
}

type staleRateError struct {
	currency string
}

func NewStaleRateError(currency string) error {
	return &staleRateError{currency: currency}
}

func (err *staleRateError) Error() string {
	return fmt.Sprintf("the cached exchange rate for %s is too old to price this order", err.currency)
}

func IsStaleRateError(err error) bool {
	var sErr *staleRateError
	return errors.As(err, &sErr)
}

type notFoundError struct {
}

func NewNotFoundError() error {
	return &notFoundError{}
}

func (err *notFoundError) Error() string {
	return "the order requested was not found"
}

func IsNotFoundError(err error) bool {
	var nErr *notFoundError
	return errors.As(err, &nErr)
}

type unauthorizedError struct {
	message string
}

func NewUnauthorizedError(message string) error {
	return &unauthorizedError{message: message}
}

func (err *unauthorizedError) Error() string {
	return err.message
}

func IsUnauthorizedError(err error) bool {
	var uErr *unauthorizedError
	return errors.As(err, &uErr)
}

// invoiceTerminalMismatchError marks a programming-invariant violation:
// an attempt to transition an invoice that is already settled or canceled.
// It is fatal for the affected order only.
type invoiceTerminalMismatchError struct {
	paymentHash string
	status      string
}

func NewInvoiceTerminalMismatchError(paymentHash string, status string) error {
	return &invoiceTerminalMismatchError{paymentHash: paymentHash, status: status}
}

func (err *invoiceTerminalMismatchError) Error() string {
	return fmt.Sprintf("invoice %s is already terminal (%s) and cannot transition", err.paymentHash, err.status)
}

func IsInvoiceTerminalMismatchError(err error) bool {
	var tErr *invoiceTerminalMismatchError
	return errors.As(err, &tErr)
}
