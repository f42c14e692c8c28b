package chain

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc, countUnconfirmed bool) *EsploraClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewEsploraClient(srv.URL, EsploraOptions{CountUnconfirmed: countUnconfirmed}, zap.NewNop())
}

func TestGetBalance(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/address/2Nabc", r.URL.Path)
		_, _ = io.WriteString(w, `{"chain_stats":{"funded_txo_sum":6000000,"spent_txo_sum":1000000},
			"mempool_stats":{"funded_txo_sum":250000,"spent_txo_sum":0}}`)
	}

	confirmedOnly := newTestClient(t, h, false)
	bal, err := confirmedOnly.GetBalance(context.Background(), "2Nabc")
	require.NoError(t, err)
	assert.Equal(t, int64(5000000), bal)

	withMempool := newTestClient(t, h, true)
	bal, err = withMempool.GetBalance(context.Background(), "2Nabc")
	require.NoError(t, err)
	assert.Equal(t, int64(5250000), bal)
}

func TestGetUTXOsSkipsUnconfirmed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"txid":"aa","vout":0,"value":100000,"status":{"confirmed":true,"block_height":10}},
			{"txid":"bb","vout":1,"value":5000,"status":{"confirmed":false}}
		]`)
	}, false)

	utxos, err := c.GetUTXOs(context.Background(), "2Nabc")
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, UTXO{TxID: "aa", Vout: 0, Value: 100000, Confirmed: true}, utxos[0])
}

func TestBroadcastErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
	}{
		{"server error", http.StatusBadGateway, apperr.ErrNetwork},
		{"rate limited", http.StatusTooManyRequests, apperr.ErrNetwork},
		{"rejected", http.StatusBadRequest, apperr.ErrRejectedByNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, "sendrawtransaction RPC error")
			}, false)
			_, err := c.Broadcast(context.Background(), "0100")
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestBroadcastReturnsTxID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "0100abcd", string(body))
		_, _ = io.WriteString(w, "deadbeef\n")
	}, false)

	txid, err := c.Broadcast(context.Background(), "0100abcd")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", txid)
}

func TestGetTxStatusConfirmations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tx/ff/status":
			_, _ = io.WriteString(w, `{"confirmed":true,"block_height":100}`)
		case "/blocks/tip/height":
			_, _ = io.WriteString(w, "102")
		default:
			http.NotFound(w, r)
		}
	}, false)

	st, err := c.GetTxStatus(context.Background(), "ff")
	require.NoError(t, err)
	assert.True(t, st.Confirmed)
	assert.Equal(t, int64(3), st.Confirmations)

	_, err = c.GetTxStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMempoolFeeOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/fees/recommended", r.URL.Path)
		_, _ = io.WriteString(w, `{"fastestFee":30,"halfHourFee":20,"hourFee":12,"economyFee":5,"minimumFee":1}`)
	}))
	defer srv.Close()

	rates, err := NewMempoolFeeOracle(srv.URL, 0).RecommendedSatsPerByte(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FeeRates{Fast: 30, Medium: 20, Slow: 12}, rates)
	assert.Equal(t, int64(12), rates.Tier("slow"))
	assert.Equal(t, int64(20), rates.Tier("unknown"))
}
