package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type UserConfig struct {
	ID        uint
	Key       string `gorm:"unique;not null"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order is one proposed or active trade. Amounts denominated in the order's
// fiat currency are decimals; base-asset quantities are satoshis.
type Order struct {
	ID        uint
	Reference string `gorm:"unique;not null"`
	MakerID   string `validate:"required" gorm:"index;not null"`
	TakerID   *string

	Type          string `validate:"required"`
	Currency      string `validate:"required"`
	HasRange      bool
	Amount        decimal.NullDecimal `gorm:"type:numeric"`
	MinAmount     decimal.NullDecimal `gorm:"type:numeric"`
	MaxAmount     decimal.NullDecimal `gorm:"type:numeric"`
	IsExplicit    bool
	Satoshis      *int64
	Premium       decimal.Decimal `gorm:"type:numeric"`
	PaymentMethod string
	BondSize      decimal.Decimal     `gorm:"type:numeric"`
	Latitude      decimal.NullDecimal `gorm:"type:numeric"`
	Longitude     decimal.NullDecimal `gorm:"type:numeric"`

	// seconds the order stays listed / seconds allowed per escrow step
	PublicDuration uint64
	EscrowDuration uint64

	Status int `gorm:"index"`

	// frozen at take-time, never recomputed
	LastSatoshis *int64
	TakenRate    decimal.NullDecimal `gorm:"type:numeric"`

	ExpiresAt     time.Time
	FailureReason string
	Metadata      datatypes.JSON

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HoldInvoice is a conditional payment claim bound to one order and one role.
// Status is written only by the invoice follower, except for user-initiated
// cancellation through the order service.
type HoldInvoice struct {
	ID      uint
	OrderID uint   `validate:"required" gorm:"uniqueIndex:idx_order_role"`
	Order   Order  `gorm:"constraint:OnDelete:CASCADE;"`
	Role    string `validate:"required" gorm:"uniqueIndex:idx_order_role"`

	Backend        string
	PaymentRequest string
	PaymentHash    string `gorm:"unique;not null"`
	Preimage       *string
	AmountSat      int64
	Status         string `gorm:"index"`

	ConsecutiveFailures uint

	ExpiresAt time.Time
	SettledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CurrencyRate struct {
	ID        uint
	Currency  string          `gorm:"unique;not null"`
	Price     decimal.Decimal `gorm:"type:numeric"`
	Timestamp time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
