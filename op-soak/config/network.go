package config

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// DefaultMaxFee is the fee ceiling in wei of a single submission.
var DefaultMaxFee = uint256.MustFromHex("0x6efb28c75a0000")

// Network holds the chain parameters shared by every identity and the orchestrator.
type Network struct {
	ChainID *big.Int
	// MaxFee is the fee ceiling in wei attached to every submission.
	MaxFee *uint256.Int
}

func (n Network) Check() error {
	if n.ChainID == nil || n.ChainID.Sign() <= 0 {
		return errors.New("chain ID must be positive")
	}
	if n.MaxFee == nil || n.MaxFee.IsZero() {
		return errors.New("max fee must be positive")
	}
	return nil
}
