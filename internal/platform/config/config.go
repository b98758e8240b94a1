package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAPIVersion        = "v1"
	defaultClientTimeout     = 15 * time.Second
	defaultCurrency          = "USD"
	defaultFreeShipThreshold = "50"
	defaultFlatShippingFee   = "5.99"
	defaultTaxRate           = "0.08"
	defaultContinueDelay     = 5 * time.Second
)

// Config captures runtime configuration for the engine organised by concern.
type Config struct {
	Store        StoreConfig
	Pricing      PricingConfig
	Verification VerificationConfig
}

// StoreConfig locates the remote store API. The base address and version
// segment are used only to construct request targets.
type StoreConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// PricingConfig carries the local pricing policy knobs.
type PricingConfig struct {
	DefaultCurrency       string
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRate               decimal.Decimal
}

// VerificationConfig tunes the payment verification gate.
type VerificationConfig struct {
	// AutoContinueDelay is how long the success screen waits before
	// continuing to the account dashboard on its own.
	AutoContinueDelay time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load builds the Config from process environment variables.
func Load() (Config, error) {
	return LoadFromEnv(os.Getenv)
}

// LoadFromEnv builds the Config using the provided lookup, applying defaults
// and collecting every invalid field before failing.
func LoadFromEnv(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var invalid []string

	cfg := Config{
		Store: StoreConfig{
			BaseURL:    strings.TrimRight(strings.TrimSpace(getenv("STORE_API_BASE_URL")), "/"),
			APIVersion: valueOrDefault(getenv("STORE_API_VERSION"), defaultAPIVersion),
			Timeout:    defaultClientTimeout,
		},
		Pricing: PricingConfig{
			DefaultCurrency: strings.ToUpper(valueOrDefault(getenv("STORE_DEFAULT_CURRENCY"), defaultCurrency)),
		},
		Verification: VerificationConfig{
			AutoContinueDelay: defaultContinueDelay,
		},
	}

	if cfg.Store.BaseURL == "" {
		invalid = append(invalid, "STORE_API_BASE_URL")
	} else if parsed, err := url.Parse(cfg.Store.BaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		invalid = append(invalid, "STORE_API_BASE_URL")
	}

	if raw := strings.TrimSpace(getenv("STORE_CLIENT_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			invalid = append(invalid, "STORE_CLIENT_TIMEOUT")
		} else {
			cfg.Store.Timeout = d
		}
	}

	cfg.Pricing.FreeShippingThreshold = parseDecimal(getenv("STORE_FREE_SHIPPING_THRESHOLD"), defaultFreeShipThreshold, &invalid, "STORE_FREE_SHIPPING_THRESHOLD")
	cfg.Pricing.FlatShippingFee = parseDecimal(getenv("STORE_FLAT_SHIPPING_FEE"), defaultFlatShippingFee, &invalid, "STORE_FLAT_SHIPPING_FEE")
	cfg.Pricing.TaxRate = parseDecimal(getenv("STORE_TAX_RATE"), defaultTaxRate, &invalid, "STORE_TAX_RATE")

	if raw := strings.TrimSpace(getenv("STORE_VERIFY_CONTINUE_DELAY")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			invalid = append(invalid, "STORE_VERIFY_CONTINUE_DELAY")
		} else {
			cfg.Verification.AutoContinueDelay = d
		}
	}

	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

func valueOrDefault(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func parseDecimal(raw, fallback string, invalid *[]string, field string) decimal.Decimal {
	value := valueOrDefault(raw, fallback)
	parsed, err := decimal.NewFromString(value)
	if err != nil || parsed.IsNegative() {
		*invalid = append(*invalid, field)
		return decimal.Zero
	}
	return parsed
}
