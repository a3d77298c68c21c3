package txinclude

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Gateway submits state-changing operations to a remote execution endpoint.
// Every call blocks until the endpoint accepted or rejected the operation.
// Implementations do not retry. Execute with several calls may reject calls
// that would not run with the signer as msg.sender.
type Gateway interface {
	DeclareClass(ctx context.Context, signer Signer, artifact *Artifact, opts TxOpts) (ClassID, error)
	DeployContract(ctx context.Context, signer Signer, class ClassID, args []any, salt common.Hash, opts TxOpts) (common.Address, error)
	Execute(ctx context.Context, signer Signer, calls []Call, opts TxOpts) (common.Hash, error)
}

// TxOpts carries the sender-side parameters of a single submission.
type TxOpts struct {
	Nonce uint64
	// MaxFee is the total fee ceiling in wei the sender accepts for the submission.
	MaxFee *uint256.Int
}

// ClassID identifies declared contract code.
type ClassID = common.Hash

// Artifact is compiled contract code together with its ABI.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

// ID returns the class identifier the artifact is declared under.
func (a *Artifact) ID() ClassID {
	return crypto.Keccak256Hash(a.Bytecode)
}

// Call is a single contract invocation. A zero Selector with an empty Payload
// is a plain value transfer.
type Call struct {
	Target   common.Address
	Selector [4]byte
	Payload  []byte
	Value    *uint256.Int
}

// Calldata returns the selector followed by the payload.
func (c Call) Calldata() []byte {
	if c.Selector == ([4]byte{}) && len(c.Payload) == 0 {
		return nil
	}
	out := make([]byte, 0, 4+len(c.Payload))
	out = append(out, c.Selector[:]...)
	return append(out, c.Payload...)
}

// Selector returns the 4-byte function selector of a solidity signature,
// e.g. "transfer(address,uint256)".
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature)))
	return sel
}

// EL represents an EVM execution layer.
// It is responsible for handling transport errors, such as HTTP 429s.
type EL interface {
	Sender
	NonceSource
}

type Sender interface {
	SendTransaction(context.Context, *types.Transaction) error
}

type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type Budget interface {
	Credit(*uint256.Int)
	Debit(*uint256.Int) error
}

type Signer interface {
	Address() common.Address
	Sign(context.Context, *types.Transaction) (*types.Transaction, error)
}

type PkSigner struct {
	pk      *ecdsa.PrivateKey
	addr    common.Address
	chainID *big.Int
}

var _ Signer = (*PkSigner)(nil)

func (s *PkSigner) Sign(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.pk)
}

func (s *PkSigner) Address() common.Address {
	return s.addr
}

func NewPkSigner(pk *ecdsa.PrivateKey, chainID *big.Int) *PkSigner {
	return &PkSigner{
		pk:      pk,
		addr:    crypto.PubkeyToAddress(pk.PublicKey),
		chainID: chainID,
	}
}
