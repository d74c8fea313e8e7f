package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the order lifecycle stage. The set is closed; labels are derived,
// never stored.
type Status int

const (
	StatusWaitingMakerBond Status = iota
	StatusPublic
	StatusTaken
	StatusWaitingTakerBond
	StatusWaitingEscrow
	StatusChatOpen
	StatusFiatSent
	StatusDisputed
	StatusSuccessful
	StatusCompleted
	StatusExpired
	StatusCancelled
	StatusFailed
)

var statusLabels = map[Status]string{
	StatusWaitingMakerBond: "Waiting for maker bond",
	StatusPublic:           "Public",
	StatusTaken:            "Taken",
	StatusWaitingTakerBond: "Waiting for taker bond",
	StatusWaitingEscrow:    "Waiting for trade collateral",
	StatusChatOpen:         "Sending fiat - In chatroom",
	StatusFiatSent:         "Fiat sent - In chatroom",
	StatusDisputed:         "In dispute",
	StatusSuccessful:       "Sucessful trade",
	StatusCompleted:        "Trade completed",
	StatusExpired:          "Expired",
	StatusCancelled:        "Cancelled",
	StatusFailed:           "Failed",
}

func (s Status) Label() string {
	label, ok := statusLabels[s]
	if !ok {
		return "Unknown"
	}
	return label
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// statuses whose expiry timer may lapse into Expired
func (s Status) ExpiresWithTimer() bool {
	switch s {
	case StatusWaitingMakerBond, StatusPublic, StatusTaken, StatusWaitingTakerBond, StatusWaitingEscrow:
		return true
	}
	return false
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type CreateOrderRequest struct {
	Type           string           `json:"type"`
	Currency       string           `json:"currency"`
	HasRange       bool             `json:"has_range"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	MinAmount      *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount      *decimal.Decimal `json:"max_amount,omitempty"`
	PaymentMethod  string           `json:"payment_method"`
	IsExplicit     bool             `json:"is_explicit"`
	Satoshis       *int64           `json:"satoshis,omitempty"`
	Premium        decimal.Decimal  `json:"premium"`
	PublicDuration uint64           `json:"public_duration"`
	EscrowDuration uint64           `json:"escrow_duration"`
	BondSize       decimal.Decimal  `json:"bond_size"`
	Latitude       *decimal.Decimal `json:"latitude,omitempty"`
	Longitude      *decimal.Decimal `json:"longitude,omitempty"`
}

// OrderDetails is the order read model exposed to collaborators. Fields are
// filtered by the caller's role before marshalling.
type OrderDetails struct {
	ID            uint             `json:"id"`
	Reference     string           `json:"reference"`
	Status        Status           `json:"status"`
	StatusMessage string           `json:"status_message"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Type          string           `json:"type"`
	Currency      string           `json:"currency"`
	HasRange      bool             `json:"has_range"`
	Amount        *decimal.Decimal `json:"amount"`
	MinAmount     *decimal.Decimal `json:"min_amount"`
	MaxAmount     *decimal.Decimal `json:"max_amount"`
	IsExplicit    bool             `json:"is_explicit"`
	Satoshis      *int64           `json:"satoshis"`
	Premium       decimal.Decimal  `json:"premium"`
	PaymentMethod string           `json:"payment_method"`
	BondSize      decimal.Decimal  `json:"bond_size"`
	Latitude      *decimal.Decimal `json:"latitude,omitempty"`
	Longitude     *decimal.Decimal `json:"longitude,omitempty"`

	PublicDuration uint64 `json:"public_duration"`
	EscrowDuration uint64 `json:"escrow_duration"`

	Taker *string `json:"taker"`

	IsMaker       bool `json:"is_maker"`
	IsTaker       bool `json:"is_taker"`
	IsParticipant bool `json:"is_participant"`
	IsBuyer       bool `json:"is_buyer"`
	IsSeller      bool `json:"is_seller"`
	IsFiatSent    bool `json:"is_fiat_sent"`
	IsDisputed    bool `json:"is_disputed"`

	MakerLocked  bool `json:"maker_locked"`
	TakerLocked  bool `json:"taker_locked"`
	EscrowLocked bool `json:"escrow_locked"`

	// live price estimate for relative orders; frozen amount once taken
	SatoshisNow  *int64           `json:"satoshis_now,omitempty"`
	PriceNow     *decimal.Decimal `json:"price_now,omitempty"`
	PremiumNow   *decimal.Decimal `json:"premium_now,omitempty"`
	LastSatoshis *int64           `json:"last_satoshis,omitempty"`

	// payment request the caller is expected to pay in the current status
	BondInvoice    string `json:"bond_invoice,omitempty"`
	BondSatoshis   *int64 `json:"bond_satoshis,omitempty"`
	EscrowInvoice  string `json:"escrow_invoice,omitempty"`
	EscrowSatoshis *int64 `json:"escrow_satoshis,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

// Config carries the coordinator policy knobs the engine needs. Dispute
// payout and escrow-depositor rules are deliberately inputs, not constants.
type Config struct {
	BondInvoiceExpiry   time.Duration
	EscrowInvoiceExpiry time.Duration
	RateFreshness       time.Duration
	MaxInvoiceFailures  uint

	MinPublicDuration time.Duration
	MaxPublicDuration time.Duration
	MinEscrowDuration time.Duration
	MaxEscrowDuration time.Duration
	MinBondSize       decimal.Decimal
	MaxBondSize       decimal.Decimal

	// when true the losing party of a dispute forfeits its bond
	ForfeitLoserBond bool
}
