// Package config содержит логику чтения конфигурации сервисов.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/retailmesh/pricing-system/internal/ledger"
	"github.com/retailmesh/pricing-system/internal/model"
	"github.com/retailmesh/pricing-system/internal/sharding"
)

// OrderingConfig содержит параметры сервиса заказов.
type OrderingConfig struct {
	RunAddress            string        `env:"RUN_ADDRESS"`
	ShardDatabaseURIs     string        `env:"SHARD_DATABASE_URIS"`
	LoyaltyAddress        string        `env:"LOYALTY_ADDRESS"`
	InternalSecret        string        `env:"INTERNAL_SECRET"`
	RoutingPolicy         string        `env:"ROUTING_POLICY"`
	DiscountTimeout       time.Duration `env:"DISCOUNT_TIMEOUT"`
	DegradeOnLoyaltyError bool          `env:"DEGRADE_ON_LOYALTY_ERROR"`
}

// ParseOrdering читает конфигурацию сервиса заказов из флагов и переменных
// окружения; окружение имеет приоритет.
func ParseOrdering(args []string) (*OrderingConfig, error) {
	cfg := &OrderingConfig{}

	fs := flag.NewFlagSet("ordering", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	fs.StringVar(&cfg.ShardDatabaseURIs, "d", "", "comma-separated shard database DSNs")
	fs.StringVar(&cfg.LoyaltyAddress, "l", "", "loyalty service address")
	fs.StringVar(&cfg.InternalSecret, "s", "pricing-internal-secret", "secret for internal request signatures")
	fs.StringVar(&cfg.RoutingPolicy, "p", string(sharding.PolicyStrict), "routing policy: strict or lenient")
	fs.DurationVar(&cfg.DiscountTimeout, "t", 10*time.Second, "discount calculation timeout")
	fs.BoolVar(&cfg.DegradeOnLoyaltyError, "degrade", false, "degrade to local discounts on loyalty failure")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch sharding.Policy(cfg.RoutingPolicy) {
	case sharding.PolicyStrict, sharding.PolicyLenient:
	default:
		return nil, fmt.Errorf("unknown routing policy %q", cfg.RoutingPolicy)
	}

	return cfg, nil
}

// ShardDSNs возвращает список DSN шардов заказов.
func (c *OrderingConfig) ShardDSNs() []string {
	if c.ShardDatabaseURIs == "" {
		return nil
	}

	parts := strings.Split(c.ShardDatabaseURIs, ",")
	dsns := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			dsns = append(dsns, p)
		}
	}
	return dsns
}

// Policy возвращает политику маршрутизации шардов.
func (c *OrderingConfig) Policy() sharding.Policy {
	return sharding.Policy(c.RoutingPolicy)
}

// LoyaltyConfig содержит параметры сервиса лояльности.
type LoyaltyConfig struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	OrderingAddress string `env:"ORDERING_ADDRESS"`
	InternalSecret  string `env:"INTERNAL_SECRET"`
	TierThresholds  string `env:"TIER_THRESHOLDS"`
}

// ParseLoyalty читает конфигурацию сервиса лояльности из флагов и переменных
// окружения; окружение имеет приоритет.
func ParseLoyalty(args []string) (*LoyaltyConfig, error) {
	cfg := &LoyaltyConfig{}

	fs := flag.NewFlagSet("loyalty", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8081", "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	fs.StringVar(&cfg.OrderingAddress, "o", "", "ordering service address")
	fs.StringVar(&cfg.InternalSecret, "s", "pricing-internal-secret", "secret for internal request signatures")
	fs.StringVar(&cfg.TierThresholds, "tiers", "", "tier thresholds as floor:name pairs")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// TierScaleThresholds разбирает переопределение шкалы уровней в формате
// "0:BRONZE,500:SILVER,...". Пустая строка означает стандартную шкалу.
func (c *LoyaltyConfig) TierScaleThresholds() ([]ledger.TierThreshold, error) {
	if c.TierThresholds == "" {
		return ledger.DefaultTierThresholds(), nil
	}

	var thresholds []ledger.TierThreshold
	for _, pair := range strings.Split(c.TierThresholds, ",") {
		floorStr, name, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed tier threshold %q", pair)
		}

		floor, err := strconv.ParseInt(floorStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed tier floor %q: %w", floorStr, err)
		}

		thresholds = append(thresholds, ledger.TierThreshold{
			Floor: floor,
			Tier:  model.Tier(strings.ToUpper(name)),
		})
	}

	return thresholds, nil
}
