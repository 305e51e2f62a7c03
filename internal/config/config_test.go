package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailmesh/pricing-system/internal/ledger"
	"github.com/retailmesh/pricing-system/internal/model"
	"github.com/retailmesh/pricing-system/internal/sharding"
)

func TestParseOrderingDefaults(t *testing.T) {
	cfg, err := ParseOrdering(nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.RunAddress)
	assert.Equal(t, sharding.PolicyStrict, cfg.Policy())
	assert.Equal(t, 10*time.Second, cfg.DiscountTimeout)
	assert.False(t, cfg.DegradeOnLoyaltyError)
	assert.Nil(t, cfg.ShardDSNs())
}

func TestParseOrderingFlags(t *testing.T) {
	cfg, err := ParseOrdering([]string{
		"-a", ":9090",
		"-d", "postgres://localhost/shard0, postgres://localhost/shard1",
		"-l", "localhost:8081",
		"-p", "lenient",
		"-t", "3s",
		"-degrade",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.RunAddress)
	assert.Equal(t, []string{"postgres://localhost/shard0", "postgres://localhost/shard1"}, cfg.ShardDSNs())
	assert.Equal(t, "localhost:8081", cfg.LoyaltyAddress)
	assert.Equal(t, sharding.PolicyLenient, cfg.Policy())
	assert.Equal(t, 3*time.Second, cfg.DiscountTimeout)
	assert.True(t, cfg.DegradeOnLoyaltyError)
}

func TestParseOrderingEnvOverridesFlags(t *testing.T) {
	t.Setenv("RUN_ADDRESS", ":7070")
	t.Setenv("ROUTING_POLICY", "lenient")

	cfg, err := ParseOrdering([]string{"-a", ":9090", "-p", "strict"})
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.RunAddress)
	assert.Equal(t, sharding.PolicyLenient, cfg.Policy())
}

func TestParseOrderingRejectsUnknownPolicy(t *testing.T) {
	_, err := ParseOrdering([]string{"-p", "adaptive"})
	require.Error(t, err)
}

func TestParseLoyaltyDefaults(t *testing.T) {
	cfg, err := ParseLoyalty(nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8081", cfg.RunAddress)
	assert.Equal(t, "pricing-internal-secret", cfg.InternalSecret)

	thresholds, err := cfg.TierScaleThresholds()
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultTierThresholds(), thresholds)
}

func TestTierScaleThresholdsOverride(t *testing.T) {
	cfg := &LoyaltyConfig{TierThresholds: "0:bronze, 300:silver,1000:GOLD"}

	thresholds, err := cfg.TierScaleThresholds()
	require.NoError(t, err)

	assert.Equal(t, []ledger.TierThreshold{
		{Floor: 0, Tier: model.TierBronze},
		{Floor: 300, Tier: model.TierSilver},
		{Floor: 1000, Tier: model.TierGold},
	}, thresholds)
}

func TestTierScaleThresholdsMalformed(t *testing.T) {
	for _, raw := range []string{"500", "abc:SILVER", "500:"} {
		cfg := &LoyaltyConfig{TierThresholds: raw}
		_, err := cfg.TierScaleThresholds()
		assert.Error(t, err, "input %q", raw)
	}
}
