package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MempoolFeeOracle reads /v1/fees/recommended from a mempool.space style API.
type MempoolFeeOracle struct {
	baseURL    string
	httpClient *http.Client
}

func NewMempoolFeeOracle(baseURL string, timeout time.Duration) *MempoolFeeOracle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MempoolFeeOracle{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type mempoolFees struct {
	FastestFee  int64 `json:"fastestFee"`
	HalfHourFee int64 `json:"halfHourFee"`
	HourFee     int64 `json:"hourFee"`
}

func (o *MempoolFeeOracle) RecommendedSatsPerByte(ctx context.Context) (FeeRates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/v1/fees/recommended", nil)
	if err != nil {
		return FeeRates{}, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return FeeRates{}, fmt.Errorf("%w: fee oracle: %v", apperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return FeeRates{}, fmt.Errorf("%w: fee oracle returned %d: %s", apperr.ErrNetwork, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var fees mempoolFees
	if err := json.NewDecoder(resp.Body).Decode(&fees); err != nil {
		return FeeRates{}, fmt.Errorf("decode fee rates: %w", err)
	}
	return FeeRates{Fast: fees.FastestFee, Medium: fees.HalfHourFee, Slow: fees.HourFee}, nil
}

const feeRatesCacheKey = "escrowd:fee_rates"

// CachedFeeOracle keeps the last good oracle answer in Redis so every API
// replica does not hit the upstream on each quote.
type CachedFeeOracle struct {
	next   FeeOracle
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedFeeOracle(next FeeOracle, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedFeeOracle {
	return &CachedFeeOracle{next: next, client: client, ttl: ttl, log: log}
}

func (o *CachedFeeOracle) RecommendedSatsPerByte(ctx context.Context) (FeeRates, error) {
	var rates FeeRates

	raw, err := o.client.Get(ctx, feeRatesCacheKey).Bytes()
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &rates); err == nil {
			return rates, nil
		}
	case !errors.Is(err, redis.Nil):
		o.log.Warn("fee rate cache read failed", zap.Error(err))
	}

	rates, err = o.next.RecommendedSatsPerByte(ctx)
	if err != nil {
		return FeeRates{}, err
	}

	data, _ := json.Marshal(rates)
	if err := o.client.Set(ctx, feeRatesCacheKey, data, o.ttl).Err(); err != nil {
		o.log.Warn("fee rate cache write failed", zap.Error(err))
	}
	return rates, nil
}
