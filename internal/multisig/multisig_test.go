package multisig

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/chain/chaintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var net = &chaincfg.RegressionNetParams

type flatRate int64

func (r flatRate) EstimateNetworkFee(_ context.Context, _ string, _ int64, inputs, outputs int) (int64, error) {
	return int64(r) * int64(inputs*148+outputs*34+10), nil
}

func testKey(b byte) *btcec.PrivateKey {
	seed := bytes.Repeat([]byte{b}, 32)
	priv, _ := btcec.PrivKeyFromBytes(seed)
	return priv
}

func pubHex(k *btcec.PrivateKey) string {
	return hex.EncodeToString(k.PubKey().SerializeCompressed())
}

func TestDeriveMultisigIsOrderIndependent(t *testing.T) {
	b, s, m := pubHex(testKey(1)), pubHex(testKey(2)), pubHex(testKey(3))

	want, err := DeriveMultisig(b, s, m, net)
	require.NoError(t, err)
	assert.Len(t, want.SortedKeys, 3)

	perms := [][3]string{
		{b, s, m}, {b, m, s}, {s, b, m}, {s, m, b}, {m, b, s}, {m, s, b},
	}
	for _, p := range perms {
		got, err := DeriveMultisig(p[0], p[1], p[2], net)
		require.NoError(t, err)
		assert.Equal(t, want.Address, got.Address)
		assert.Equal(t, want.RedeemScript, got.RedeemScript)
	}

	for i := 1; i < len(want.SortedKeys); i++ {
		assert.Negative(t, bytes.Compare(want.SortedKeys[i-1], want.SortedKeys[i]))
	}
}

func TestDeriveMultisigRejectsBadKeys(t *testing.T) {
	good := pubHex(testKey(1))
	uncompressed := hex.EncodeToString(testKey(2).PubKey().SerializeUncompressed())

	tests := []struct {
		name string
		key  string
	}{
		{"not hex", "zz"},
		{"empty", ""},
		{"uncompressed", uncompressed},
		{"bad prefix", "04" + good[2:]},
		{"x beyond field", "02" + strings.Repeat("ff", 32)},
		{"duplicate", good},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveMultisig(good, pubHex(testKey(3)), tt.key, net)
			assert.ErrorIs(t, err, apperr.ErrInvalidPublicKey)
		})
	}
}

func TestPayoutAddressAndValidate(t *testing.T) {
	addr, err := PayoutAddress(pubHex(testKey(1)), net)
	require.NoError(t, err)
	require.NoError(t, ValidateAddress(addr, net))

	assert.ErrorIs(t, ValidateAddress(addr, &chaincfg.MainNetParams), apperr.ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress("not-an-address", net), apperr.ErrInvalidAddress)
}

func TestParseWIF(t *testing.T) {
	k := testKey(7)
	wif, err := btcutil.NewWIF(k, net, true)
	require.NoError(t, err)

	got, err := ParseWIF(wif.String(), net)
	require.NoError(t, err)
	assert.True(t, got.PubKey().IsEqual(k.PubKey()))

	_, err = ParseWIF(wif.String(), &chaincfg.MainNetParams)
	assert.ErrorIs(t, err, apperr.ErrInvalidSigner)
}

type fixture struct {
	ms      *Multisig
	fc      *chaintest.FakeChain
	builder *Builder
	buyer   *btcec.PrivateKey
	seller  *btcec.PrivateKey
	med     *btcec.PrivateKey
	dest    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{buyer: testKey(1), seller: testKey(2), med: testKey(3)}
	ms, err := DeriveMultisig(pubHex(f.buyer), pubHex(f.seller), pubHex(f.med), net)
	require.NoError(t, err)
	f.ms = ms
	f.fc = chaintest.New()
	f.builder = NewBuilder(f.fc, flatRate(10), net, nil, zap.NewNop())
	f.dest, err = PayoutAddress(pubHex(testKey(9)), net)
	require.NoError(t, err)
	return f
}

func (f *fixture) request(amount int64, signers ...*btcec.PrivateKey) SpendRequest {
	return SpendRequest{
		Address:      f.ms.Address,
		RedeemScript: f.ms.RedeemScript,
		Payments:     []Payment{{Address: f.dest, Amount: amount}},
		Signers:      [2]*btcec.PrivateKey{signers[0], signers[1]},
	}
}

func (f *fixture) verify(t *testing.T, signed *SignedTx) *wire.MsgTx {
	t.Helper()
	raw, err := hex.DecodeString(signed.Hex)
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

	utxos, err := f.fc.GetUTXOs(context.Background(), f.ms.Address)
	require.NoError(t, err)
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		require.NoError(t, err)
		prevOuts.AddPrevOut(*wire.NewOutPoint(hash, u.Vout), wire.NewTxOut(u.Value, f.ms.ScriptPubKey))
	}
	hashes := txscript.NewTxSigHashes(&tx, prevOuts)
	for i, in := range tx.TxIn {
		prev := prevOuts.FetchPrevOutput(in.PreviousOutPoint)
		vm, err := txscript.NewEngine(prev.PkScript, &tx, i, txscript.StandardVerifyFlags, nil, hashes, prev.Value, prevOuts)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
	return &tx
}

func TestBuildAndSignExactAmountHasNoChange(t *testing.T) {
	f := newFixture(t)
	f.fc.Fund(f.ms.Address, 100_000)

	fee := int64(10 * (148 + 34 + 10))
	signed, err := f.builder.BuildAndSign(context.Background(), f.request(100_000-fee, f.buyer, f.med))
	require.NoError(t, err)

	tx := f.verify(t, signed)
	require.Len(t, tx.TxOut, 1)
	assert.Equal(t, int64(0), signed.ChangeValue)
	assert.Equal(t, fee, signed.Fee)
	assert.Equal(t, tx.TxHash().String(), signed.TxID)
}

func TestBuildAndSignProducesOneChangeOutput(t *testing.T) {
	f := newFixture(t)
	f.fc.Fund(f.ms.Address, 150_000)

	fee := int64(10 * (148 + 34 + 10))
	extra := int64(10 * 34)
	signed, err := f.builder.BuildAndSign(context.Background(), f.request(100_000-fee, f.seller, f.buyer))
	require.NoError(t, err)

	tx := f.verify(t, signed)
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, 50_000-extra, signed.ChangeValue)
	assert.Equal(t, signed.ChangeValue, tx.TxOut[1].Value)
	assert.Equal(t, f.ms.ScriptPubKey, tx.TxOut[1].PkScript)
}

func TestBuildAndSignSpendsAllInputs(t *testing.T) {
	f := newFixture(t)
	f.fc.Fund(f.ms.Address, 60_000)
	f.fc.Fund(f.ms.Address, 40_000)

	signed, err := f.builder.BuildAndSign(context.Background(), f.request(90_000, f.med, f.seller))
	require.NoError(t, err)
	assert.Equal(t, 2, signed.Inputs)
	assert.Equal(t, int64(100_000), signed.InputValue)
	f.verify(t, signed)
}

func TestBuildAndSignFeeOutputTakesOnlySurplus(t *testing.T) {
	platform, err := PayoutAddress(pubHex(testKey(8)), net)
	require.NoError(t, err)
	decoded, err := btcutil.DecodeAddress(platform, net)
	require.NoError(t, err)
	platformScript, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)

	tests := []struct {
		name       string
		pay        int64
		wantSkim   int64
		wantFee    int64
		wantOuts   int
		wantChange int64
	}{
		// fee for 1 in / 3 out is 2600; change 100000-90000-1000-2600
		{name: "full fee with change", pay: 90_000, wantSkim: 1000, wantFee: 2600, wantOuts: 3, wantChange: 6400},
		// only 100000-97000-2260 is left after the payment
		{name: "capped by surplus", pay: 97_000, wantSkim: 740, wantFee: 2260, wantOuts: 2},
		{name: "dropped below dust", pay: 98_000, wantSkim: 0, wantFee: 2000, wantOuts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fc.Fund(f.ms.Address, 100_000)
			req := f.request(tt.pay, f.buyer, f.seller)
			req.FeeOutput = &Payment{Address: platform, Amount: 1000}

			signed, err := f.builder.BuildAndSign(context.Background(), req)
			require.NoError(t, err)
			tx := f.verify(t, signed)

			require.Len(t, tx.TxOut, tt.wantOuts)
			assert.Equal(t, tt.wantSkim, signed.FeeOutputValue)
			assert.Equal(t, tt.wantFee, signed.Fee)
			assert.Equal(t, tt.wantChange, signed.ChangeValue)
			assert.Equal(t, int64(100_000), tt.pay+signed.FeeOutputValue+signed.ChangeValue+signed.Fee)
			if tt.wantSkim > 0 {
				assert.Equal(t, platformScript, tx.TxOut[1].PkScript)
				assert.Equal(t, tt.wantSkim, tx.TxOut[1].Value)
			}
		})
	}
}

func TestBuildAndSignErrors(t *testing.T) {
	t.Run("no funds", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.builder.BuildAndSign(context.Background(), f.request(10_000, f.buyer, f.med))
		assert.ErrorIs(t, err, apperr.ErrNoFundsAvailable)
	})

	t.Run("insufficient", func(t *testing.T) {
		f := newFixture(t)
		f.fc.Fund(f.ms.Address, 100_000)
		_, err := f.builder.BuildAndSign(context.Background(), f.request(99_000, f.buyer, f.med))
		assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	})

	t.Run("same signer twice", func(t *testing.T) {
		f := newFixture(t)
		f.fc.Fund(f.ms.Address, 100_000)
		_, err := f.builder.BuildAndSign(context.Background(), f.request(10_000, f.buyer, f.buyer))
		assert.ErrorIs(t, err, apperr.ErrInvalidSigner)
	})

	t.Run("foreign signer", func(t *testing.T) {
		f := newFixture(t)
		f.fc.Fund(f.ms.Address, 100_000)
		_, err := f.builder.BuildAndSign(context.Background(), f.request(10_000, f.buyer, testKey(42)))
		assert.ErrorIs(t, err, apperr.ErrInvalidSigner)
	})
}

func TestBroadcastAlreadyKnownReturnsLocalTxID(t *testing.T) {
	f := newFixture(t)
	f.fc.Fund(f.ms.Address, 100_000)
	signed, err := f.builder.BuildAndSign(context.Background(), f.request(50_000, f.buyer, f.med))
	require.NoError(t, err)

	f.fc.BroadcastErr = []error{
		apperr.ErrNetwork,
	}
	_, err = f.builder.Broadcast(context.Background(), signed.Hex)
	assert.ErrorIs(t, err, apperr.ErrNetwork)

	f.fc.BroadcastErr = []error{
		wrapRejected("sendrawtransaction RPC error: txn-already-known"),
	}
	txid, err := f.builder.Broadcast(context.Background(), signed.Hex)
	require.NoError(t, err)
	assert.Equal(t, signed.TxID, txid)

	f.fc.BroadcastErr = []error{wrapRejected("bad-txns-inputs-missingorspent")}
	_, err = f.builder.Broadcast(context.Background(), signed.Hex)
	assert.ErrorIs(t, err, apperr.ErrRejectedByNetwork)
}

func wrapRejected(msg string) error {
	return fmt.Errorf("%w: %s", apperr.ErrRejectedByNetwork, msg)
}
