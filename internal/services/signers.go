package services

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/models"
)

// SignerSet is the two private keys that co-sign a spend.
type SignerSet [2]*btcec.PrivateKey

// roles maps each signer to its escrow role. Unknown or repeated keys are
// rejected so nothing reaches the chain with a bad quorum.
func (s SignerSet) roles(e *models.Escrow) (map[string]bool, error) {
	byKey := map[string]string{
		e.BuyerPubKey:    models.RoleBuyer,
		e.SellerPubKey:   models.RoleSeller,
		e.MediatorPubKey: models.RoleMediator,
	}
	out := make(map[string]bool, 2)
	for i, k := range s {
		if k == nil {
			return nil, fmt.Errorf("%w: signer %d missing", apperr.ErrInvalidSigner, i+1)
		}
		role, ok := byKey[hex.EncodeToString(k.PubKey().SerializeCompressed())]
		if !ok {
			return nil, fmt.Errorf("%w: signer %d is not a party to this escrow", apperr.ErrInvalidSigner, i+1)
		}
		if out[role] {
			return nil, fmt.Errorf("%w: %s signed twice", apperr.ErrInvalidSigner, role)
		}
		out[role] = true
	}
	return out, nil
}

// require checks that every role in need is present in the set.
func (s SignerSet) require(e *models.Escrow, need ...string) error {
	roles, err := s.roles(e)
	if err != nil {
		return err
	}
	for _, r := range need {
		if !roles[r] {
			return fmt.Errorf("%w: %s signature required", apperr.ErrInvalidSigner, r)
		}
	}
	return nil
}

// requireAny checks that at least one of the roles is present.
func (s SignerSet) requireAny(e *models.Escrow, oneOf ...string) error {
	roles, err := s.roles(e)
	if err != nil {
		return err
	}
	for _, r := range oneOf {
		if roles[r] {
			return nil
		}
	}
	return fmt.Errorf("%w: one of %v must sign", apperr.ErrInvalidSigner, oneOf)
}
