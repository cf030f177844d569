package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// CommerceConfig holds the platform-wide commercial settings. Commission,
// tax and delivery fee changes apply to the next transaction that reads
// them; ledger and order services must read a fresh snapshot inside each
// transaction instead of caching values across calls.
type CommerceConfig struct {
	CommissionRate decimal.Decimal
	TaxRate        decimal.Decimal
	DeliveryFee    int64
	Currency       string
}

func DefaultCommerceConfig() CommerceConfig {
	return CommerceConfig{
		CommissionRate: decimal.NewFromFloat(0.10),
		TaxRate:        decimal.NewFromFloat(0.05),
		DeliveryFee:    4000,
		Currency:       "INR",
	}
}

type commerceFile struct {
	CommissionRate string `mapstructure:"commissionRate"`
	TaxRate        string `mapstructure:"taxRate"`
	DeliveryFee    int64  `mapstructure:"deliveryFee"`
	Currency       string `mapstructure:"currency"`
}

// CommerceConfigHolder exposes the current commerce settings with hot
// reload from a mounted yml file.
type CommerceConfigHolder struct {
	current atomic.Value // holds CommerceConfig
}

func NewCommerceConfigHolder() (*CommerceConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("commerce")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/kirana/config") // Volume-mounted config
	v.AddConfigPath("/etc/kirana")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("KIRANA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &CommerceConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultCommerceConfig())
		return holder, nil
	}

	holder.current.Store(parseCommerce(v))

	v.OnConfigChange(func(_ fsnotify.Event) {
		holder.current.Store(parseCommerce(v))
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticCommerceHolder returns a holder pinned to the given config.
// Used in tests and seed tooling.
func NewStaticCommerceHolder(cfg CommerceConfig) *CommerceConfigHolder {
	holder := &CommerceConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Current returns the active commerce settings snapshot.
func (h *CommerceConfigHolder) Current() CommerceConfig {
	if h == nil {
		return DefaultCommerceConfig()
	}
	value := h.current.Load()
	cfg, ok := value.(CommerceConfig)
	if !ok {
		return DefaultCommerceConfig()
	}
	return cfg
}

// Store replaces the active settings. Exposed for admin rate updates.
func (h *CommerceConfigHolder) Store(cfg CommerceConfig) {
	h.current.Store(normalizeCommerce(cfg))
}

func parseCommerce(v *viper.Viper) CommerceConfig {
	var raw commerceFile
	if err := v.UnmarshalKey("commerce", &raw); err != nil {
		return DefaultCommerceConfig()
	}

	defaults := DefaultCommerceConfig()
	cfg := CommerceConfig{
		CommissionRate: parseRate(raw.CommissionRate, defaults.CommissionRate),
		TaxRate:        parseRate(raw.TaxRate, defaults.TaxRate),
		DeliveryFee:    raw.DeliveryFee,
		Currency:       strings.ToUpper(strings.TrimSpace(raw.Currency)),
	}
	return normalizeCommerce(cfg)
}

func normalizeCommerce(cfg CommerceConfig) CommerceConfig {
	defaults := DefaultCommerceConfig()
	if cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		cfg.CommissionRate = defaults.CommissionRate
	}
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		cfg.TaxRate = defaults.TaxRate
	}
	if cfg.DeliveryFee < 0 {
		cfg.DeliveryFee = defaults.DeliveryFee
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	return cfg
}

func parseRate(raw string, def decimal.Decimal) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return def
	}
	return parsed
}
