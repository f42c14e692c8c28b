package services

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/paybyt/escrowd/internal/models"
	"github.com/paybyt/escrowd/internal/multisig"
	"github.com/paybyt/escrowd/internal/retry"
	"go.uber.org/zap"
)

// settler builds, signs and broadcasts the single transaction that moves an
// escrow's funds out. Network errors are retried; everything else is not.
type settler struct {
	builder *multisig.Builder
	retry   retry.Policy
	log     *zap.Logger
}

type settlement struct {
	TxID        string
	Fee         int64
	PlatformFee int64
	Change      int64
	Payments    []multisig.Payment
}

// settle pays payments and, when platform is non-nil, as much of the
// platform fee as the escrow balance covers beyond them.
func (st *settler) settle(ctx context.Context, e *models.Escrow, payments []multisig.Payment, platform *multisig.Payment, signers SignerSet) (*settlement, error) {
	redeem, err := hex.DecodeString(e.RedeemScript)
	if err != nil {
		return nil, fmt.Errorf("decode redeem script: %w", err)
	}
	req := multisig.SpendRequest{
		Address:      e.Address,
		RedeemScript: redeem,
		Payments:     payments,
		FeeOutput:    platform,
		Signers:      signers,
	}

	var signed *multisig.SignedTx
	err = st.retry.Do(ctx, "build_and_sign", func(ctx context.Context) error {
		var err error
		signed, err = st.builder.BuildAndSign(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	var txid string
	err = st.retry.Do(ctx, "broadcast", func(ctx context.Context) error {
		var err error
		txid, err = st.builder.Broadcast(ctx, signed.Hex)
		return err
	})
	if err != nil {
		st.log.Error("broadcast failed",
			zap.String("escrow_id", e.ID.String()),
			zap.String("local_txid", signed.TxID),
			zap.Error(err),
		)
		return nil, err
	}

	st.log.Info("escrow settlement broadcast",
		zap.String("escrow_id", e.ID.String()),
		zap.String("txid", txid),
		zap.Int64("fee", signed.Fee),
		zap.Int64("platform_fee", signed.FeeOutputValue),
		zap.Int("outputs", len(payments)),
		zap.Int64("change", signed.ChangeValue),
	)
	if platform != nil && signed.FeeOutputValue < platform.Amount {
		st.log.Warn("platform fee short paid",
			zap.String("escrow_id", e.ID.String()),
			zap.Int64("due", platform.Amount),
			zap.Int64("paid", signed.FeeOutputValue),
		)
	}
	return &settlement{
		TxID:        txid,
		Fee:         signed.Fee,
		PlatformFee: signed.FeeOutputValue,
		Change:      signed.ChangeValue,
		Payments:    payments,
	}, nil
}
