// Package fees prices escrows and splits collected platform fees.
package fees

import (
	"context"
	"fmt"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/chain"
	"github.com/paybyt/escrowd/internal/models"
	"go.uber.org/zap"
)

// Linear size model for legacy P2SH multisig spends, in bytes.
const (
	bytesPerInput  = 148
	bytesPerOutput = 34
	bytesOverhead  = 10
)

// PayoutOutputs is the output count quoted for a settlement: a split pays
// buyer and seller, and the platform fee is a third output.
const PayoutOutputs = 3

type Config struct {
	PlatformFeeBPS     int64
	MinPlatformFee     int64
	RoutingFeeBPS      int64
	MinRoutingFee      int64
	DefaultSatsPerByte int64
	RateTier           string
}

func DefaultConfig() Config {
	return Config{
		PlatformFeeBPS:     100,
		MinPlatformFee:     1000,
		RoutingFeeBPS:      10,
		MinRoutingFee:      1,
		DefaultSatsPerByte: 10,
		RateTier:           "slow",
	}
}

type Quote struct {
	Channel     string `json:"channel"`
	Amount      int64  `json:"amount"`
	PlatformFee int64  `json:"platform_fee"`
	NetworkFee  int64  `json:"network_fee"`
	RoutingFee  int64  `json:"routing_fee,omitempty"`
	Total       int64  `json:"total"`
}

type Calculator struct {
	cfg    Config
	oracle chain.FeeOracle
	log    *zap.Logger
}

// NewCalculator uses oracle for on-chain rates; oracle may be nil, in which
// case the default rate is always used.
func NewCalculator(cfg Config, oracle chain.FeeOracle, log *zap.Logger) *Calculator {
	def := DefaultConfig()
	if cfg.DefaultSatsPerByte <= 0 {
		cfg.DefaultSatsPerByte = def.DefaultSatsPerByte
	}
	if cfg.MinRoutingFee <= 0 {
		cfg.MinRoutingFee = def.MinRoutingFee
	}
	if cfg.RateTier == "" {
		cfg.RateTier = def.RateTier
	}
	return &Calculator{cfg: cfg, oracle: oracle, log: log}
}

func (c *Calculator) Config() Config { return c.cfg }

// ApplyBPS returns floor(amount*bps/10000) without forming the full product,
// so it cannot overflow for any amount up to models.MaxAmount.
func ApplyBPS(amount, bps int64) int64 {
	return amount/10000*bps + amount%10000*bps/10000
}

// PlatformFee is max(amount*bps/10000, min).
func (c *Calculator) PlatformFee(amount int64) int64 {
	return max(ApplyBPS(amount, c.cfg.PlatformFeeBPS), c.cfg.MinPlatformFee)
}

// RoutingFee is what a lightning route would charge for amount. Payouts
// settle on chain, so it is informational only.
func (c *Calculator) RoutingFee(amount int64) int64 {
	return max(ApplyBPS(amount, c.cfg.RoutingFeeBPS), c.cfg.MinRoutingFee)
}

func TxSize(inputs, outputs int) int64 {
	return int64(inputs*bytesPerInput + outputs*bytesPerOutput + bytesOverhead)
}

// EstimateNetworkFee prices a spend on the given channel. On-chain fees use
// the oracle rate for the configured tier, falling back to the default rate
// when the oracle is unavailable.
func (c *Calculator) EstimateNetworkFee(ctx context.Context, channel string, amount int64, inputs, outputs int) (int64, error) {
	switch channel {
	case models.PaymentTypeOnChain:
		return c.SatsPerByte(ctx) * TxSize(inputs, outputs), nil
	case models.PaymentTypeLightning:
		return c.RoutingFee(amount), nil
	default:
		return 0, fmt.Errorf("%w: %q", apperr.ErrInvalidChannel, channel)
	}
}

// SatsPerByte returns the current rate for the configured tier.
func (c *Calculator) SatsPerByte(ctx context.Context) int64 {
	if c.oracle == nil {
		return c.cfg.DefaultSatsPerByte
	}
	rates, err := c.oracle.RecommendedSatsPerByte(ctx)
	if err != nil {
		c.log.Warn("fee oracle unavailable, using default rate",
			zap.Int64("sats_per_byte", c.cfg.DefaultSatsPerByte), zap.Error(err))
		return c.cfg.DefaultSatsPerByte
	}
	rate := rates.Tier(c.cfg.RateTier)
	if rate <= 0 {
		c.log.Warn("fee oracle returned non-positive rate, using default",
			zap.String("tier", c.cfg.RateTier), zap.Int64("rate", rate))
		return c.cfg.DefaultSatsPerByte
	}
	return rate
}

// Quote prices the payout an escrow will need. Every escrow settles on chain
// from its multisig address, whatever channel funded it, so the network fee
// is always an on-chain estimate for one input and the widest payout shape:
// buyer, seller and platform legs. Lightning quotes carry the routing fee as
// a separate figure that is not part of Total.
func (c *Calculator) Quote(ctx context.Context, channel string, amount int64) (*Quote, error) {
	if amount <= 0 || amount > models.MaxAmount {
		return nil, fmt.Errorf("%w: %d", apperr.ErrInvalidAmount, amount)
	}
	if !models.IsValidPaymentType(channel) {
		return nil, fmt.Errorf("%w: %q", apperr.ErrInvalidChannel, channel)
	}
	network, err := c.EstimateNetworkFee(ctx, models.PaymentTypeOnChain, amount, 1, PayoutOutputs)
	if err != nil {
		return nil, err
	}
	platform := c.PlatformFee(amount)
	q := &Quote{
		Channel:     channel,
		Amount:      amount,
		PlatformFee: platform,
		NetworkFee:  network,
		Total:       amount + platform + network,
	}
	if channel == models.PaymentTypeLightning {
		q.RoutingFee = c.RoutingFee(amount)
	}
	return q, nil
}
