package config

type AppConfig struct {
	LNBackendType   string `envconfig:"LN_BACKEND_TYPE" default:"LND"`
	LNDAddress      string `envconfig:"LND_ADDRESS"`
	LNDCertFile     string `envconfig:"LND_CERT_FILE"`
	LNDMacaroonFile string `envconfig:"LND_MACAROON_FILE"`
	CLNRestUrl      string `envconfig:"CLN_REST_URL"`
	CLNRestRune     string `envconfig:"CLN_REST_RUNE"`

	Workdir      string `envconfig:"WORK_DIR"`
	Port         string `envconfig:"PORT" default:"8000"`
	DatabaseUri  string `envconfig:"DATABASE_URI" default:"robosats.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"4"`
	LogToFile    bool   `envconfig:"LOG_TO_FILE" default:"true"`
	LogDBQueries bool   `envconfig:"LOG_DB_QUERIES" default:"false"`
	JWTSecret    string `envconfig:"JWT_SECRET"`

	Network     string `envconfig:"NETWORK" default:"mainnet"`
	PriceApiUrl string `envconfig:"PRICE_API_URL" default:"https://blockchain.info/ticker"`
	Currencies  string `envconfig:"CURRENCIES" default:"USD,EUR,JPY,GBP"`

	InvoiceFollowIntervalSeconds uint64 `envconfig:"INVOICE_FOLLOW_INTERVAL_SECONDS" default:"5"`
	RateRefreshIntervalSeconds   uint64 `envconfig:"RATE_REFRESH_INTERVAL_SECONDS" default:"60"`
	RateFreshnessSeconds         uint64 `envconfig:"RATE_FRESHNESS_SECONDS" default:"600"`
	MaxInvoiceFailures           uint   `envconfig:"MAX_INVOICE_FAILURES" default:"20"`

	// hold invoice windows, in seconds
	BondInvoiceExpiry   uint64 `envconfig:"BOND_INVOICE_EXPIRY" default:"450"`
	EscrowInvoiceExpiry uint64 `envconfig:"ESCROW_INVOICE_EXPIRY" default:"28800"`

	// coordinator policy: which side of a resolved dispute forfeits its bond
	// is decided per dispute; these knobs bound order terms
	MinPublicDuration uint64  `envconfig:"MIN_PUBLIC_DURATION" default:"600"`
	MaxPublicDuration uint64  `envconfig:"MAX_PUBLIC_DURATION" default:"86400"`
	MinEscrowDuration uint64  `envconfig:"MIN_ESCROW_DURATION" default:"1800"`
	MaxEscrowDuration uint64  `envconfig:"MAX_ESCROW_DURATION" default:"28800"`
	MinBondSize       float64 `envconfig:"MIN_BOND_SIZE" default:"2.0"`
	MaxBondSize       float64 `envconfig:"MAX_BOND_SIZE" default:"15.0"`
	ForfeitLoserBond  bool    `envconfig:"FORFEIT_LOSER_BOND" default:"true"`
}

type Config interface {
	Get(key string) (string, error)
	SetIgnore(key string, value string) error
	SetUpdate(key string, value string) error
	GetJWTSecret() string
	GetEnv() *AppConfig
	GetDefaultWorkDir() string
}
