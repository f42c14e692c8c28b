// Package multisig derives 2-of-3 P2SH escrow addresses and builds, signs
// and broadcasts spends from them.
package multisig

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/paybyt/escrowd/internal/apperr"
)

// RequiredSigs is the M in M-of-N.
const RequiredSigs = 2

// Multisig is a derived 2-of-3 P2SH escrow address with its redeem script.
type Multisig struct {
	Address      string
	RedeemScript []byte
	ScriptPubKey []byte
	SortedKeys   [][]byte
}

// DeriveMultisig builds the 2-of-3 address for three hex-encoded compressed
// public keys. Keys are sorted lexicographically, so argument order does not
// affect the result.
func DeriveMultisig(buyer, seller, mediator string, net *chaincfg.Params) (*Multisig, error) {
	var pubs []*btcec.PublicKey
	for _, role := range []struct{ name, key string }{
		{"buyer", buyer}, {"seller", seller}, {"mediator", mediator},
	} {
		pub, err := ParsePubKey(role.key)
		if err != nil {
			return nil, fmt.Errorf("%s key: %w", role.name, err)
		}
		pubs = append(pubs, pub)
	}

	sort.Slice(pubs, func(i, j int) bool {
		return bytes.Compare(pubs[i].SerializeCompressed(), pubs[j].SerializeCompressed()) < 0
	})
	for i := 1; i < len(pubs); i++ {
		if pubs[i].IsEqual(pubs[i-1]) {
			return nil, fmt.Errorf("%w: duplicate key", apperr.ErrInvalidPublicKey)
		}
	}

	addrPubs := make([]*btcutil.AddressPubKey, 0, len(pubs))
	sorted := make([][]byte, 0, len(pubs))
	for _, pub := range pubs {
		ser := pub.SerializeCompressed()
		ap, err := btcutil.NewAddressPubKey(ser, net)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidPublicKey, err)
		}
		addrPubs = append(addrPubs, ap)
		sorted = append(sorted, ser)
	}

	redeem, err := txscript.MultiSigScript(addrPubs, RequiredSigs)
	if err != nil {
		return nil, fmt.Errorf("build redeem script: %w", err)
	}
	addr, err := btcutil.NewAddressScriptHash(redeem, net)
	if err != nil {
		return nil, fmt.Errorf("build p2sh address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("build p2sh script: %w", err)
	}

	return &Multisig{
		Address:      addr.EncodeAddress(),
		RedeemScript: redeem,
		ScriptPubKey: pkScript,
		SortedKeys:   sorted,
	}, nil
}

// ParsePubKey accepts only 33-byte compressed secp256k1 keys.
func ParsePubKey(keyHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", apperr.ErrInvalidPublicKey)
	}
	if len(raw) != btcec.PubKeyBytesLenCompressed || (raw[0] != 0x02 && raw[0] != 0x03) {
		return nil, fmt.Errorf("%w: must be a 33-byte compressed key", apperr.ErrInvalidPublicKey)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// PayoutAddress is the P2PKH address of a party's compressed key.
func PayoutAddress(keyHex string, net *chaincfg.Params) (string, error) {
	pub, err := ParsePubKey(keyHex)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), net)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrInvalidAddress, err)
	}
	return addr.EncodeAddress(), nil
}

// ValidateAddress checks that addr decodes and belongs to net.
func ValidateAddress(addr string, net *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidAddress, err)
	}
	if !decoded.IsForNet(net) {
		return fmt.Errorf("%w: %s is not a %s address", apperr.ErrInvalidAddress, addr, net.Name)
	}
	return nil
}

// ParseWIF decodes a signer key and checks it was encoded for net.
func ParseWIF(wif string, net *chaincfg.Params) (*btcec.PrivateKey, error) {
	w, err := btcutil.DecodeWIF(strings.TrimSpace(wif))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSigner, err)
	}
	if !w.IsForNet(net) {
		return nil, fmt.Errorf("%w: key is not for %s", apperr.ErrInvalidSigner, net.Name)
	}
	return w.PrivKey, nil
}

// NetParams maps a configured network name to chain parameters.
func NetParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}
