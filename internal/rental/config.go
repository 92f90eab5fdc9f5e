package rental

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Cache backends for the laptop availability cache.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// VNPayEnv is read from VNPAY_* variables.
type VNPayEnv struct {
	TmnCode     string        `envconfig:"TMN_CODE"`
	HashSecret  string        `envconfig:"HASH_SECRET"`
	PayURL      string        `envconfig:"PAY_URL"`
	ReturnURL   string        `envconfig:"RETURN_URL"`
	Locale      string        `envconfig:"LOCALE" default:"vn"`
	ExpireAfter time.Duration `envconfig:"EXPIRE_AFTER" default:"15m"`
}

// Enabled reports whether any VNPay setting is present.
func (v VNPayEnv) Enabled() bool {
	return v.TmnCode != "" || v.HashSecret != "" || v.ReturnURL != ""
}

// PayOSEnv is read from PAYOS_* variables.
type PayOSEnv struct {
	ClientID    string `envconfig:"CLIENT_ID"`
	APIKey      string `envconfig:"API_KEY"`
	ChecksumKey string `envconfig:"CHECKSUM_KEY"`
	BaseURL     string `envconfig:"BASE_URL"`
	ReturnURL   string `envconfig:"RETURN_URL"`
	CancelURL   string `envconfig:"CANCEL_URL"`
}

func (p PayOSEnv) Enabled() bool {
	return p.ClientID != "" || p.APIKey != "" || p.ChecksumKey != ""
}

// SePayEnv is read from SEPAY_* variables.
type SePayEnv struct {
	APIKey        string `envconfig:"API_KEY"`
	Keyword       string `envconfig:"KEYWORD" default:"RENT"`
	AccountNumber string `envconfig:"ACCOUNT_NUMBER"`
	BankCode      string `envconfig:"BANK_CODE"`
	QRURL         string `envconfig:"QR_URL"`
}

func (s SePayEnv) Enabled() bool {
	return s.APIKey != "" || s.AccountNumber != ""
}

// RentalConfig holds runtime configuration for the rental module.
type RentalConfig struct {
	AmountTolerance    int64         `envconfig:"PAYMENT_AMOUNT_TOLERANCE" default:"1000"`
	ReconcileRetries   int           `envconfig:"PAYMENT_RECONCILE_RETRIES" default:"3"`
	AvailabilityTTL    time.Duration `envconfig:"LAPTOP_AVAILABILITY_TTL" default:"30s"`
	CacheBackend       string        `envconfig:"LAPTOP_AVAILABILITY_CACHE" default:"redis"`
	RequireDocuments   bool          `envconfig:"REQUIRE_DOCUMENTS" default:"true"`
	MaxRentalDays      int           `envconfig:"MAX_RENTAL_DAYS" default:"180"`
	MaxReturnExtension time.Duration `envconfig:"MAX_RETURN_EXTENSION" default:"720h"`
	FrontendResultURL  string        `envconfig:"FRONTEND_PAYMENT_RESULT_URL"`
	RequestTimeout     time.Duration `envconfig:"RENTAL_REQUEST_TIMEOUT" default:"5s"`

	VNPay VNPayEnv `envconfig:"VNPAY"`
	PayOS PayOSEnv `envconfig:"PAYOS"`
	SePay SePayEnv `envconfig:"SEPAY"`
}

// LoadRentalConfig reads configuration from environment variables and applies defaults.
func LoadRentalConfig() (RentalConfig, error) {
	var cfg RentalConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return RentalConfig{}, fmt.Errorf("rental config: %w", err)
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	if err := cfg.Validate(); err != nil {
		return RentalConfig{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and that every enabled provider is complete.
func (c RentalConfig) Validate() error {
	if c.AmountTolerance < 0 {
		return fmt.Errorf("PAYMENT_AMOUNT_TOLERANCE must be >= 0")
	}
	if c.ReconcileRetries < 0 {
		return fmt.Errorf("PAYMENT_RECONCILE_RETRIES must be >= 0")
	}
	if c.AvailabilityTTL <= 0 {
		return fmt.Errorf("LAPTOP_AVAILABILITY_TTL must be positive")
	}
	if c.MaxRentalDays < 0 {
		return fmt.Errorf("MAX_RENTAL_DAYS must be >= 0")
	}
	switch c.CacheBackend {
	case CacheRedis, CacheMemory:
	default:
		return fmt.Errorf("LAPTOP_AVAILABILITY_CACHE must be %q or %q", CacheRedis, CacheMemory)
	}
	if c.VNPay.Enabled() && (c.VNPay.TmnCode == "" || c.VNPay.HashSecret == "" || c.VNPay.ReturnURL == "") {
		return fmt.Errorf("VNPAY configuration incomplete")
	}
	if c.PayOS.Enabled() && (c.PayOS.ClientID == "" || c.PayOS.APIKey == "" || c.PayOS.ChecksumKey == "" ||
		c.PayOS.ReturnURL == "" || c.PayOS.CancelURL == "") {
		return fmt.Errorf("PAYOS configuration incomplete")
	}
	if c.SePay.Enabled() && (c.SePay.APIKey == "" || c.SePay.Keyword == "" || c.SePay.AccountNumber == "" || c.SePay.BankCode == "") {
		return fmt.Errorf("SEPAY configuration incomplete")
	}
	return nil
}
