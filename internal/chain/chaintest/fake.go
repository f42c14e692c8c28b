// Package chaintest provides an in-memory chain.Provider for tests.
package chaintest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/chain"
)

// FakeChain is a deterministic Provider and FeeOracle. Broadcasts are
// recorded in order; UTXO sets are left as configured.
type FakeChain struct {
	mu sync.Mutex

	balances map[string]int64
	utxos    map[string][]chain.UTXO
	statuses map[string]*chain.TxStatus

	Rates        chain.FeeRates
	RatesErr     error
	BalanceErr   error
	UTXOErr      error
	BroadcastErr []error // consumed one per Broadcast call

	Broadcasts []string
}

func New() *FakeChain {
	return &FakeChain{
		balances: make(map[string]int64),
		utxos:    make(map[string][]chain.UTXO),
		statuses: make(map[string]*chain.TxStatus),
		Rates:    chain.FeeRates{Fast: 10, Medium: 10, Slow: 10},
	}
}

func (f *FakeChain) SetBalance(address string, sats int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = sats
}

// Fund adds a confirmed UTXO to address and raises its balance.
func (f *FakeChain) Fund(address string, sats int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.utxos[address])
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", address, n)))
	f.utxos[address] = append(f.utxos[address], chain.UTXO{
		TxID:      hex.EncodeToString(sum[:]),
		Vout:      uint32(n),
		Value:     sats,
		Confirmed: true,
	})
	f.balances[address] += sats
}

func (f *FakeChain) SetTxStatus(st chain.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[st.TxID] = &st
}

func (f *FakeChain) BroadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Broadcasts)
}

func (f *FakeChain) GetUTXOs(_ context.Context, address string) ([]chain.UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UTXOErr != nil {
		return nil, f.UTXOErr
	}
	return append([]chain.UTXO(nil), f.utxos[address]...), nil
}

func (f *FakeChain) GetBalance(_ context.Context, address string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return 0, f.BalanceErr
	}
	return f.balances[address], nil
}

// Broadcast decodes txHex and returns its real txid.
func (f *FakeChain) Broadcast(_ context.Context, txHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.BroadcastErr) > 0 {
		err := f.BroadcastErr[0]
		f.BroadcastErr = f.BroadcastErr[1:]
		if err != nil {
			return "", err
		}
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrRejectedByNetwork, err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrRejectedByNetwork, err)
	}
	f.Broadcasts = append(f.Broadcasts, txHex)
	txid := tx.TxHash().String()
	f.statuses[txid] = &chain.TxStatus{TxID: txid}
	return txid, nil
}

func (f *FakeChain) GetTxStatus(_ context.Context, txid string) (*chain.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[txid]
	if !ok {
		return &chain.TxStatus{TxID: txid}, nil
	}
	cp := *st
	return &cp, nil
}

func (f *FakeChain) RecommendedSatsPerByte(context.Context) (chain.FeeRates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RatesErr != nil {
		return chain.FeeRates{}, f.RatesErr
	}
	return f.Rates, nil
}
