package config

// Borrower holds the loan terms applied by the borrower ledger.
type Borrower struct {
	CollateralRatioBps uint64
	LoanFeeBps         uint64
	MaxDurationSeconds uint64
}

// Logging controls the structured logger and its optional file sink.
type Logging struct {
	Env        string
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Telemetry configures the OTLP exporters. Disabled unless Endpoint is set.
type Telemetry struct {
	Endpoint    string
	Insecure    bool
	Traces      bool
	Metrics     bool
	SampleRatio float64
	Headers     map[string]string
}

// Auth gates the RPC endpoint behind HMAC signed bearer tokens.
type Auth struct {
	Enabled   bool
	SecretEnv string
	Issuer    string
	Audience  []string
}

type Pauses struct {
	Token    bool
	Lender   bool
	Borrower bool
}

// Quota defines per-sender limits for submitted transactions.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxValueGwei      uint64
	WindowSeconds     uint32
}

// Indexer persists published events for history queries. Disabled when DSN
// is empty.
type Indexer struct {
	DSN       string
	QueueSize int
}
