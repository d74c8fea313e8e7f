package constants

import "time"

// shared constants used by multiple packages

const (
	ORDER_TYPE_BUY  = "buy"
	ORDER_TYPE_SELL = "sell"
)

const (
	INVOICE_ROLE_MAKER_BOND = "maker_bond"
	INVOICE_ROLE_TAKER_BOND = "taker_bond"
	INVOICE_ROLE_ESCROW     = "escrow"
)

const (
	INVOICE_STATE_REQUESTED = "REQUESTED"
	INVOICE_STATE_ACCEPTED  = "ACCEPTED"
	INVOICE_STATE_SETTLED   = "SETTLED"
	INVOICE_STATE_CANCELED  = "CANCELED"
	INVOICE_STATE_EXPIRED   = "EXPIRED"
)

const (
	LN_BACKEND_TYPE_LND = "LND"
	LN_BACKEND_TYPE_CLN = "CLN"
)

// errors surfaced by the API layer
const (
	ERROR_INTERNAL     = "INTERNAL"
	ERROR_BAD_REQUEST  = "BAD_REQUEST"
	ERROR_NOT_FOUND    = "NOT_FOUND"
	ERROR_CONFLICT     = "CONFLICT"
	ERROR_STALE_RATE   = "STALE_RATE"
	ERROR_UNAVAILABLE  = "UNAVAILABLE"
	ERROR_UNAUTHORIZED = "UNAUTHORIZED"
)

const (
	DISPUTE_WINNER_BUYER  = "buyer"
	DISPUTE_WINNER_SELLER = "seller"
)

const (
	DEFAULT_INVOICE_FOLLOW_INTERVAL = 5 * time.Second
	DEFAULT_RATE_REFRESH_INTERVAL   = 1 * time.Minute

	// rate snapshots older than this are refused by the amount calculator
	DEFAULT_RATE_FRESHNESS = 10 * time.Minute

	// consecutive backend lookup failures tolerated per invoice before the
	// order is marked degraded
	DEFAULT_MAX_INVOICE_FAILURES = 20
)

// lower bound for any bond invoice, per payment-network minimum unit handling
const MIN_BOND_SATOSHIS = 2000

const MIN_TRADE_SATOSHIS = 20000
