package bootstrap

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Transferer is an identity that can pay out funds.
type Transferer interface {
	Address() common.Address
	Transfer(ctx context.Context, token common.Address, amount *uint256.Int, recipient common.Address) (common.Hash, error)
}

type FundingConfig struct {
	// Native is the amount of gas currency each recipient receives.
	Native *uint256.Int
	// Token is the ERC20 recipients also receive TokenAmount of, if set.
	Token       common.Address
	TokenAmount *uint256.Int
}

// Fund pays every recipient from the funder, one transfer at a time so the
// funder's nonces are used in order. It keeps going after a failed transfer
// and returns all failures together.
func Fund(ctx context.Context, logger log.Logger, funder Transferer, cfg FundingConfig, recipients []common.Address) error {
	var result *multierror.Error
	for i, to := range recipients {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if cfg.Native != nil && !cfg.Native.IsZero() {
			tx, err := funder.Transfer(ctx, common.Address{}, cfg.Native, to)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("native funding of %s: %w", to, err))
				continue
			}
			logger.Debug("Funded gas", "index", i, "recipient", to, "amount", cfg.Native, "tx", tx)
		}
		if cfg.Token != (common.Address{}) && cfg.TokenAmount != nil && !cfg.TokenAmount.IsZero() {
			tx, err := funder.Transfer(ctx, cfg.Token, cfg.TokenAmount, to)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("token funding of %s: %w", to, err))
				continue
			}
			logger.Debug("Funded tokens", "index", i, "recipient", to, "amount", cfg.TokenAmount, "tx", tx)
		}
	}
	logger.Info("Funded identities", "count", len(recipients), "failed", errCount(result))
	return result.ErrorOrNil()
}

func errCount(err *multierror.Error) int {
	if err == nil {
		return 0
	}
	return len(err.Errors)
}
