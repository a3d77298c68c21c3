package bootstrap

import (
	"crypto/ecdsa"
	"fmt"

	hdwallet "github.com/ethereum-optimism/go-ethereum-hdwallet"
	"github.com/tyler-smith/go-bip39"
)

// DefaultHDPathPrefix is the BIP-44 path of Ethereum accounts, without the index.
const DefaultHDPathPrefix = "m/44'/60'/0'/0/"

// NewMnemonic generates a fresh 12-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveKeys derives count private keys starting at index from.
func DeriveKeys(mnemonic string, from, count int) ([]*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to open HD wallet: %w", err)
	}
	keys := make([]*ecdsa.PrivateKey, 0, count)
	for i := from; i < from+count; i++ {
		path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("%s%d", DefaultHDPathPrefix, i))
		if err != nil {
			return nil, err
		}
		acc, err := wallet.Derive(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to derive account %d: %w", i, err)
		}
		pk, err := wallet.PrivateKey(acc)
		if err != nil {
			return nil, fmt.Errorf("failed to get key of account %d: %w", i, err)
		}
		keys = append(keys, pk)
	}
	return keys, nil
}
