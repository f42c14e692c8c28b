package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/chain"
	"github.com/paybyt/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubOracle struct {
	rates chain.FeeRates
	err   error
}

func (o stubOracle) RecommendedSatsPerByte(context.Context) (chain.FeeRates, error) {
	return o.rates, o.err
}

func TestPlatformFee(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil, zap.NewNop())

	tests := []struct {
		amount int64
		want   int64
	}{
		{1, 1000},
		{50_000, 1000},
		{100_000, 1000},
		{5_000_000, 50_000},
		{123_456_789, 1_234_567},
	}
	for _, tt := range tests {
		got := c.PlatformFee(tt.amount)
		assert.Equal(t, tt.want, got, "amount %d", tt.amount)
		assert.GreaterOrEqual(t, got, int64(1000))
	}
}

func TestEstimateNetworkFee(t *testing.T) {
	ctx := context.Background()

	t.Run("oracle tier", func(t *testing.T) {
		c := NewCalculator(DefaultConfig(), stubOracle{rates: chain.FeeRates{Fast: 40, Medium: 25, Slow: 12}}, zap.NewNop())
		fee, err := c.EstimateNetworkFee(ctx, models.PaymentTypeOnChain, 0, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(12*(148+68+10)), fee)
	})

	t.Run("oracle down falls back", func(t *testing.T) {
		c := NewCalculator(DefaultConfig(), stubOracle{err: errors.New("timeout")}, zap.NewNop())
		fee, err := c.EstimateNetworkFee(ctx, models.PaymentTypeOnChain, 0, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(10*(296+34+10)), fee)
	})

	t.Run("routed", func(t *testing.T) {
		c := NewCalculator(DefaultConfig(), nil, zap.NewNop())
		fee, err := c.EstimateNetworkFee(ctx, models.PaymentTypeLightning, 1_000_000, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), fee)

		fee, err = c.EstimateNetworkFee(ctx, models.PaymentTypeLightning, 50, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), fee)
	})

	t.Run("unknown channel", func(t *testing.T) {
		c := NewCalculator(DefaultConfig(), nil, zap.NewNop())
		_, err := c.EstimateNetworkFee(ctx, "carrier-pigeon", 1, 1, 1)
		assert.ErrorIs(t, err, apperr.ErrInvalidChannel)
	})
}

func TestQuote(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil, zap.NewNop())
	q, err := c.Quote(context.Background(), models.PaymentTypeOnChain, 5_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), q.PlatformFee)
	assert.Equal(t, TxSize(1, PayoutOutputs)*10, q.NetworkFee)
	assert.Equal(t, q.Amount+q.PlatformFee+q.NetworkFee, q.Total)
	assert.Zero(t, q.RoutingFee)

	_, err = c.Quote(context.Background(), models.PaymentTypeOnChain, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = c.Quote(context.Background(), models.PaymentTypeOnChain, models.MaxAmount+1)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = c.Quote(context.Background(), "carrier-pigeon", 1000)
	assert.ErrorIs(t, err, apperr.ErrInvalidChannel)
}

func TestLightningQuoteCoversOnChainPayout(t *testing.T) {
	c := NewCalculator(DefaultConfig(), nil, zap.NewNop())
	ctx := context.Background()

	on, err := c.Quote(ctx, models.PaymentTypeOnChain, 100_000)
	require.NoError(t, err)
	ln, err := c.Quote(ctx, models.PaymentTypeLightning, 100_000)
	require.NoError(t, err)

	// the payout is the same multisig spend either way
	assert.Equal(t, on.NetworkFee, ln.NetworkFee)
	assert.Equal(t, on.Total, ln.Total)
	assert.Equal(t, int64(100), ln.RoutingFee)
	assert.Greater(t, ln.NetworkFee, ln.RoutingFee)
}

func TestApplyBPSDoesNotOverflow(t *testing.T) {
	tests := []struct {
		amount, bps, want int64
	}{
		{0, 5000, 0},
		{9999, 1, 0},
		{10_000, 1, 1},
		{12_345, 5000, 6172},
		{123_456_789, 100, 1_234_567},
		{models.MaxAmount, 9999, 2_099_790_000_000_000},
		{models.MaxAmount, 10_000, models.MaxAmount},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ApplyBPS(tt.amount, tt.bps), "%d * %d bps", tt.amount, tt.bps)
	}

	c := NewCalculator(DefaultConfig(), nil, zap.NewNop())
	assert.Equal(t, models.MaxAmount/100, c.PlatformFee(models.MaxAmount))
	assert.Positive(t, c.RoutingFee(models.MaxAmount))
}

func TestDistributeSumsExactly(t *testing.T) {
	d, err := NewDistributor(DefaultDistribution())
	require.NoError(t, err)

	for _, total := range []int64{0, 1, 3, 7, 99, 1000, 1001, 123_457, 9_999_999} {
		dist, err := d.Distribute(total)
		require.NoError(t, err)
		var sum int64
		for _, v := range dist.Buckets {
			assert.GreaterOrEqual(t, v, int64(0))
			sum += v
		}
		assert.Equal(t, total, sum, "total %d", total)
	}

	dist, err := d.Distribute(1001)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"platform": 401, "development": 300, "security": 200, "community": 100}, dist.Buckets)
}

func TestSetConfigValidation(t *testing.T) {
	d, err := NewDistributor(DefaultDistribution())
	require.NoError(t, err)

	bad := []DistributionConfig{
		{Buckets: []Bucket{{"a", 50}, {"b", 25}, {"c", 15}, {"d", 9}}, RemainderBucket: "a"},
		{Buckets: []Bucket{{"a", 110}, {"b", -10}}, RemainderBucket: "a"},
		{Buckets: []Bucket{{"a", 50}, {"a", 50}}, RemainderBucket: "a"},
		{Buckets: []Bucket{{"", 100}}, RemainderBucket: ""},
		{Buckets: []Bucket{{"a", 100}}, RemainderBucket: "z"},
		{},
	}
	for _, cfg := range bad {
		assert.ErrorIs(t, d.SetConfig(cfg), apperr.ErrInvalidDistributionConfig)
	}
	assert.Equal(t, DefaultDistribution(), d.Config())

	good := DistributionConfig{Buckets: []Bucket{{"ops", 70}, {"reserve", 30}}, RemainderBucket: "reserve"}
	require.NoError(t, d.SetConfig(good))
	dist, err := d.Distribute(11)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ops": 7, "reserve": 4}, dist.Buckets)
}

func TestParseDistribution(t *testing.T) {
	cfg, err := ParseDistribution("platform:40, development:30,security:20,community:10", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultDistribution(), cfg)

	_, err = ParseDistribution("platform:50,development:25,security:15,community:9", "platform")
	assert.ErrorIs(t, err, apperr.ErrInvalidDistributionConfig)

	_, err = ParseDistribution("platform", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidDistributionConfig)
}
