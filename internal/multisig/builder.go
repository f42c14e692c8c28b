package multisig

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/chain"
	"github.com/paybyt/escrowd/internal/metrics"
	"github.com/paybyt/escrowd/internal/models"
	"go.uber.org/zap"
)

// DustLimit is the smallest change output worth creating.
const DustLimit int64 = 546

// NetworkFeeEstimator prices a transaction of a given shape.
type NetworkFeeEstimator interface {
	EstimateNetworkFee(ctx context.Context, channel string, amount int64, inputs, outputs int) (int64, error)
}

// Payment is one transaction output: Amount satoshis to Address.
type Payment struct {
	Address string
	Amount  int64
}

// SpendRequest describes a spend of every UTXO at a multisig address.
type SpendRequest struct {
	Address      string
	RedeemScript []byte
	Payments     []Payment
	// FeeOutput is paid after Payments and the network fee are covered, up to
	// its Amount. It is left out when the remainder is below dust.
	FeeOutput *Payment
	Signers   [2]*btcec.PrivateKey
}

// SignedTx is a fully signed transaction ready to broadcast.
type SignedTx struct {
	Hex            string
	TxID           string
	Fee            int64
	Inputs         int
	InputValue     int64
	FeeOutputValue int64
	ChangeValue    int64
}

// Builder assembles and co-signs 2-of-3 P2SH spends.
type Builder struct {
	provider chain.Provider
	fees     NetworkFeeEstimator
	net      *chaincfg.Params
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewBuilder returns a Builder for net. m may be nil.
func NewBuilder(provider chain.Provider, fees NetworkFeeEstimator, net *chaincfg.Params, m *metrics.Metrics, log *zap.Logger) *Builder {
	return &Builder{provider: provider, fees: fees, net: net, metrics: m, log: log}
}

// BuildAndSign spends every UTXO at the escrow address to the requested
// payments and the optional fee output, sending change back to the escrow
// address when it clears dust.
func (b *Builder) BuildAndSign(ctx context.Context, req SpendRequest) (*SignedTx, error) {
	if len(req.Payments) == 0 {
		return nil, fmt.Errorf("%w: no payments", apperr.ErrInvalidAmount)
	}
	var total int64
	for _, p := range req.Payments {
		if p.Amount <= 0 {
			return nil, fmt.Errorf("%w: payment of %d sats", apperr.ErrInvalidAmount, p.Amount)
		}
		total += p.Amount
	}

	sigOrder, err := signerOrder(req.RedeemScript, req.Signers)
	if err != nil {
		return nil, err
	}

	utxos, err := b.provider.GetUTXOs(ctx, req.Address)
	if err != nil {
		return nil, fmt.Errorf("fetch utxos: %w", err)
	}
	if len(utxos) == 0 {
		return nil, apperr.ErrNoFundsAvailable
	}

	var inputValue int64
	for _, u := range utxos {
		inputValue += u.Value
	}

	fee, err := b.fees.EstimateNetworkFee(ctx, models.PaymentTypeOnChain, total, len(utxos), len(req.Payments))
	if err != nil {
		return nil, err
	}
	if inputValue < total+fee {
		return nil, fmt.Errorf("%w: have %d, need %d + %d fee", apperr.ErrInsufficientFunds, inputValue, total, fee)
	}

	outputs := len(req.Payments)
	var skim int64
	if req.FeeOutput != nil && req.FeeOutput.Amount > 0 {
		feeWithSkim, err := b.fees.EstimateNetworkFee(ctx, models.PaymentTypeOnChain, total, len(utxos), outputs+1)
		if err != nil {
			return nil, err
		}
		if v := min(req.FeeOutput.Amount, inputValue-total-feeWithSkim); v >= DustLimit {
			skim = v
			outputs++
			fee = feeWithSkim
		}
	}

	feeWithChange, err := b.fees.EstimateNetworkFee(ctx, models.PaymentTypeOnChain, total, len(utxos), outputs+1)
	if err != nil {
		return nil, err
	}
	var change int64
	if c := inputValue - total - skim - feeWithChange; c >= DustLimit {
		change = c
		fee = feeWithChange
	} else {
		fee = inputValue - total - skim
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("utxo txid %q: %w", u.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}
	for _, p := range req.Payments {
		script, err := b.payToAddr(p.Address)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(p.Amount, script))
	}
	if skim > 0 {
		script, err := b.payToAddr(req.FeeOutput.Address)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(skim, script))
	}
	if change > 0 {
		script, err := b.payToAddr(req.Address)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(change, script))
	}

	for i := range tx.TxIn {
		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, key := range sigOrder {
			sig, err := txscript.RawTxInSignature(tx, i, req.RedeemScript, txscript.SigHashAll, key)
			if err != nil {
				return nil, fmt.Errorf("sign input %d: %w", i, err)
			}
			builder.AddData(sig)
		}
		sigScript, err := builder.AddData(req.RedeemScript).Script()
		if err != nil {
			return nil, fmt.Errorf("build sigscript %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize tx: %w", err)
	}

	return &SignedTx{
		Hex:            hex.EncodeToString(buf.Bytes()),
		TxID:           tx.TxHash().String(),
		Fee:            fee,
		Inputs:         len(utxos),
		InputValue:     inputValue,
		FeeOutputValue: skim,
		ChangeValue:    change,
	}, nil
}

// Broadcast submits a signed transaction. A rejection saying the network
// already has it resolves to the locally computed txid.
func (b *Builder) Broadcast(ctx context.Context, txHex string) (string, error) {
	txid, err := b.provider.Broadcast(ctx, txHex)
	switch {
	case err == nil:
		b.metrics.Broadcast("ok")
		return txid, nil
	case errors.Is(err, apperr.ErrRejectedByNetwork) && alreadyKnown(err):
		local, derr := TxIDFromHex(txHex)
		if derr != nil {
			return "", err
		}
		b.log.Info("transaction already known to network", zap.String("txid", local))
		b.metrics.Broadcast("already_known")
		return local, nil
	case errors.Is(err, apperr.ErrRejectedByNetwork):
		b.metrics.Broadcast("rejected")
		return "", err
	default:
		b.metrics.Broadcast("network_error")
		if !errors.Is(err, apperr.ErrNetwork) {
			err = fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
		}
		return "", err
	}
}

// TxIDFromHex returns the txid of a serialized transaction.
func TxIDFromHex(txHex string) (string, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already in block chain") ||
		strings.Contains(msg, "txn-already-known") ||
		strings.Contains(msg, "txn-already-in-mempool") ||
		strings.Contains(msg, "already have transaction")
}

func (b *Builder) payToAddr(addr string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, b.net)
	if err != nil || !decoded.IsForNet(b.net) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidAddress, addr)
	}
	return txscript.PayToAddrScript(decoded)
}

// signerOrder returns the two signers in the order their public keys appear
// in the redeem script, as OP_CHECKMULTISIG requires.
func signerOrder(redeemScript []byte, signers [2]*btcec.PrivateKey) ([]*btcec.PrivateKey, error) {
	if signers[0] == nil || signers[1] == nil {
		return nil, fmt.Errorf("%w: two signers required", apperr.ErrInvalidSigner)
	}
	a := signers[0].PubKey().SerializeCompressed()
	c := signers[1].PubKey().SerializeCompressed()
	if bytes.Equal(a, c) {
		return nil, fmt.Errorf("%w: signers must be distinct", apperr.ErrInvalidSigner)
	}

	keys, err := ScriptKeys(redeemScript)
	if err != nil {
		return nil, err
	}
	ordered := make([]*btcec.PrivateKey, 0, 2)
	for _, k := range keys {
		switch {
		case bytes.Equal(k, a):
			ordered = append(ordered, signers[0])
		case bytes.Equal(k, c):
			ordered = append(ordered, signers[1])
		}
	}
	if len(ordered) != 2 {
		return nil, fmt.Errorf("%w: signer is not a key of this escrow", apperr.ErrInvalidSigner)
	}
	return ordered, nil
}

// ScriptKeys extracts the public keys of a multisig redeem script in order.
func ScriptKeys(redeemScript []byte) ([][]byte, error) {
	var keys [][]byte
	tok := txscript.MakeScriptTokenizer(0, redeemScript)
	for tok.Next() {
		if len(tok.Data()) == btcec.PubKeyBytesLenCompressed {
			keys = append(keys, tok.Data())
		}
	}
	if err := tok.Err(); err != nil {
		return nil, fmt.Errorf("parse redeem script: %w", err)
	}
	if len(keys) != 3 {
		return nil, fmt.Errorf("redeem script has %d keys, want 3", len(keys))
	}
	return keys, nil
}

// HasKey reports whether pub is one of the redeem script's keys.
func HasKey(redeemScript []byte, pub *btcec.PublicKey) bool {
	keys, err := ScriptKeys(redeemScript)
	if err != nil {
		return false
	}
	ser := pub.SerializeCompressed()
	for _, k := range keys {
		if bytes.Equal(k, ser) {
			return true
		}
	}
	return false
}
