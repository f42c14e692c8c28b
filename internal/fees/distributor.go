package fees

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/paybyt/escrowd/internal/apperr"
)

type Bucket struct {
	Name    string `json:"name"`
	Percent int64  `json:"percent"`
}

type DistributionConfig struct {
	Buckets         []Bucket `json:"buckets"`
	RemainderBucket string   `json:"remainder_bucket"`
}

type Distribution struct {
	Total   int64            `json:"total"`
	Buckets map[string]int64 `json:"buckets"`
}

func DefaultDistribution() DistributionConfig {
	return DistributionConfig{
		Buckets: []Bucket{
			{Name: "platform", Percent: 40},
			{Name: "development", Percent: 30},
			{Name: "security", Percent: 20},
			{Name: "community", Percent: 10},
		},
		RemainderBucket: "platform",
	}
}

// Validate requires non-negative percentages summing to exactly 100, unique
// non-empty names and a remainder bucket that is one of them.
func (c DistributionConfig) Validate() error {
	if len(c.Buckets) == 0 {
		return fmt.Errorf("%w: no buckets", apperr.ErrInvalidDistributionConfig)
	}
	seen := make(map[string]bool, len(c.Buckets))
	var sum int64
	for _, b := range c.Buckets {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("%w: empty bucket name", apperr.ErrInvalidDistributionConfig)
		}
		if seen[b.Name] {
			return fmt.Errorf("%w: duplicate bucket %q", apperr.ErrInvalidDistributionConfig, b.Name)
		}
		if b.Percent < 0 {
			return fmt.Errorf("%w: negative percent for %q", apperr.ErrInvalidDistributionConfig, b.Name)
		}
		seen[b.Name] = true
		sum += b.Percent
	}
	if sum != 100 {
		return fmt.Errorf("%w: percentages sum to %d", apperr.ErrInvalidDistributionConfig, sum)
	}
	if !seen[c.RemainderBucket] {
		return fmt.Errorf("%w: remainder bucket %q not configured", apperr.ErrInvalidDistributionConfig, c.RemainderBucket)
	}
	return nil
}

func (c DistributionConfig) clone() DistributionConfig {
	return DistributionConfig{
		Buckets:         append([]Bucket(nil), c.Buckets...),
		RemainderBucket: c.RemainderBucket,
	}
}

// ParseDistribution reads "name:percent,name:percent". An empty remainder
// defaults to the first bucket.
func ParseDistribution(table, remainder string) (DistributionConfig, error) {
	var cfg DistributionConfig
	for _, part := range strings.Split(table, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, pct, ok := strings.Cut(part, ":")
		if !ok {
			return cfg, fmt.Errorf("%w: malformed entry %q", apperr.ErrInvalidDistributionConfig, part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(pct), 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("%w: percent for %q: %v", apperr.ErrInvalidDistributionConfig, name, err)
		}
		cfg.Buckets = append(cfg.Buckets, Bucket{Name: strings.TrimSpace(name), Percent: n})
	}
	cfg.RemainderBucket = strings.TrimSpace(remainder)
	if cfg.RemainderBucket == "" && len(cfg.Buckets) > 0 {
		cfg.RemainderBucket = cfg.Buckets[0].Name
	}
	return cfg, cfg.Validate()
}

type Distributor struct {
	mu  sync.RWMutex
	cfg DistributionConfig
}

func NewDistributor(cfg DistributionConfig) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{cfg: cfg.clone()}, nil
}

func (d *Distributor) Config() DistributionConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.clone()
}

// SetConfig replaces the table only if it validates.
func (d *Distributor) SetConfig(cfg DistributionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg.clone()
	d.mu.Unlock()
	return nil
}

// Distribute floors every share and gives the rounding remainder to the
// remainder bucket, so the shares always sum to total.
func (d *Distributor) Distribute(total int64) (Distribution, error) {
	if total < 0 {
		return Distribution{}, fmt.Errorf("%w: %d", apperr.ErrInvalidAmount, total)
	}
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	out := Distribution{Total: total, Buckets: make(map[string]int64, len(cfg.Buckets))}
	var assigned int64
	for _, b := range cfg.Buckets {
		share := total * b.Percent / 100
		out.Buckets[b.Name] = share
		assigned += share
	}
	out.Buckets[cfg.RemainderBucket] += total - assigned
	return out, nil
}
