package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// EsploraClient talks to any Esplora-compatible REST API (Blockstream,
// mempool.space, a self-hosted electrs).
type EsploraClient struct {
	baseURL          string
	httpClient       *http.Client
	limiter          *rate.Limiter
	countUnconfirmed bool
	metrics          *metrics.Metrics
	log              *zap.Logger
}

type EsploraOptions struct {
	Timeout          time.Duration
	RequestsPerSec   float64
	CountUnconfirmed bool
	Metrics          *metrics.Metrics
}

func NewEsploraClient(baseURL string, opts EsploraOptions, log *zap.Logger) *EsploraClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	return &EsploraClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter:          rate.NewLimiter(limit, 1),
		countUnconfirmed: opts.CountUnconfirmed,
		metrics:          opts.Metrics,
		log:              log,
	}
}

type esploraStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type esploraAddress struct {
	ChainStats   esploraStats `json:"chain_stats"`
	MempoolStats esploraStats `json:"mempool_stats"`
}

type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

type esploraUTXO struct {
	TxID   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Value  int64         `json:"value"`
	Status esploraStatus `json:"status"`
}

func (c *EsploraClient) GetUTXOs(ctx context.Context, address string) (utxos []UTXO, err error) {
	defer func(start time.Time) { c.metrics.ChainCall("get_utxos", start, err) }(time.Now())

	var raw []esploraUTXO
	if err := c.getJSON(ctx, "/address/"+address+"/utxo", &raw); err != nil {
		return nil, err
	}
	for _, u := range raw {
		if !u.Status.Confirmed && !c.countUnconfirmed {
			continue
		}
		utxos = append(utxos, UTXO{TxID: u.TxID, Vout: u.Vout, Value: u.Value, Confirmed: u.Status.Confirmed})
	}
	return utxos, nil
}

func (c *EsploraClient) GetBalance(ctx context.Context, address string) (balance int64, err error) {
	defer func(start time.Time) { c.metrics.ChainCall("get_balance", start, err) }(time.Now())

	var addr esploraAddress
	if err := c.getJSON(ctx, "/address/"+address, &addr); err != nil {
		return 0, err
	}
	balance = addr.ChainStats.FundedTxoSum - addr.ChainStats.SpentTxoSum
	if c.countUnconfirmed {
		balance += addr.MempoolStats.FundedTxoSum - addr.MempoolStats.SpentTxoSum
	}
	return balance, nil
}

func (c *EsploraClient) Broadcast(ctx context.Context, txHex string) (txid string, err error) {
	defer func(start time.Time) { c.metrics.ChainCall("broadcast", start, err) }(time.Now())

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(txHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: broadcast: %v", apperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode == http.StatusOK:
		return msg, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: broadcast returned %d: %s", apperr.ErrNetwork, resp.StatusCode, msg)
	default:
		c.log.Warn("broadcast rejected", zap.Int("status", resp.StatusCode), zap.String("reason", msg))
		return "", fmt.Errorf("%w: %s", apperr.ErrRejectedByNetwork, msg)
	}
}

func (c *EsploraClient) GetTxStatus(ctx context.Context, txid string) (st *TxStatus, err error) {
	defer func(start time.Time) { c.metrics.ChainCall("get_tx_status", start, err) }(time.Now())

	var raw esploraStatus
	if err := c.getJSON(ctx, "/tx/"+txid+"/status", &raw); err != nil {
		return nil, err
	}
	st = &TxStatus{TxID: txid, Confirmed: raw.Confirmed, BlockHeight: raw.BlockHeight}
	if !raw.Confirmed {
		return st, nil
	}

	tip, err := c.tipHeight(ctx)
	if err != nil {
		return nil, err
	}
	if tip >= raw.BlockHeight {
		st.Confirmations = tip - raw.BlockHeight + 1
	}
	return st, nil
}

func (c *EsploraClient) tipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}
	return h, nil
}

func (c *EsploraClient) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *EsploraClient) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", apperr.ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: GET %s returned %d", apperr.ErrNetwork, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("GET %s: %w", path, apperr.ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
