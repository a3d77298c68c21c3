// Package account wraps a signing identity with its nonce ledger and submits
// operations on its behalf.
package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/yhl125/op-soak/op-service/nonce"
	"github.com/yhl125/op-soak/op-service/txinclude"
	"github.com/yhl125/op-soak/op-soak/config"
	"github.com/yhl125/op-soak/op-soak/metrics"
)

const (
	OpDeclare  = "declare"
	OpDeploy   = "deploy"
	OpExecute  = "execute"
	OpTransfer = "transfer"
)

var transferSelector = txinclude.Selector("transfer(address,uint256)")

var transferArgs = func() abi.Arguments {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256T, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: addressT}, {Type: uint256T}}
}()

// SubmissionError is returned when an operation was not accepted by the gateway.
type SubmissionError struct {
	Op     string
	Sender common.Address
	// Nonce is only meaningful if Reserved is set.
	Nonce    uint64
	Reserved bool
	Err      error
}

func (e *SubmissionError) Error() string {
	if !e.Reserved {
		return fmt.Sprintf("%s from %s: %v", e.Op, e.Sender, e.Err)
	}
	return fmt.Sprintf("%s from %s with nonce %d: %v", e.Op, e.Sender, e.Nonce, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Account is an identity that can submit operations. It is safe for
// concurrent use: every operation reserves its own nonce.
type Account struct {
	log     log.Logger
	m       metrics.Metricer
	signer  txinclude.Signer
	gateway txinclude.Gateway
	nonce   *nonce.Ledger
	maxFee  *uint256.Int
	budget  txinclude.Budget
	strict  bool
}

type Option func(*Account)

// WithBudget debits the fee ceiling of every submission from budget and
// credits it back when the submission is rejected.
func WithBudget(budget txinclude.Budget) Option {
	return func(a *Account) {
		a.budget = budget
	}
}

// WithStrictRollback only gives a nonce back if no later reservation exists.
func WithStrictRollback(strict bool) Option {
	return func(a *Account) {
		a.strict = strict
	}
}

func WithMetrics(m metrics.Metricer) Option {
	return func(a *Account) {
		a.m = m
	}
}

func WithLogger(logger log.Logger) Option {
	return func(a *Account) {
		a.log = logger
	}
}

func New(cfg config.Network, signer txinclude.Signer, gateway txinclude.Gateway, startNonce uint64, opts ...Option) *Account {
	a := &Account{
		log:     log.Root(),
		m:       metrics.NoopMetrics,
		signer:  signer,
		gateway: gateway,
		nonce:   nonce.NewLedger(startNonce),
		maxFee:  new(uint256.Int).Set(cfg.MaxFee),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.New("account", signer.Address())
	return a
}

// FromKey creates an account that signs for the configured chain with pk.
func FromKey(cfg config.Network, pk *ecdsa.PrivateKey, gateway txinclude.Gateway, startNonce uint64, opts ...Option) *Account {
	return New(cfg, txinclude.NewPkSigner(pk, cfg.ChainID), gateway, startNonce, opts...)
}

func (a *Account) Address() common.Address {
	return a.signer.Address()
}

// Nonce returns the nonce the next submission will use.
func (a *Account) Nonce() uint64 {
	return a.nonce.Current()
}

// SetNonce overwrites the nonce ledger. Only use it when no submission is in flight.
func (a *Account) SetNonce(n uint64) {
	a.nonce.Set(n)
}

// Resync sets the nonce ledger to the pending nonce reported by the network.
func (a *Account) Resync(ctx context.Context, src txinclude.NonceSource) error {
	n, err := src.PendingNonceAt(ctx, a.Address())
	if err != nil {
		return fmt.Errorf("failed to fetch pending nonce of %s: %w", a.Address(), err)
	}
	if cur := a.nonce.Current(); cur != n {
		a.log.Debug("Resynced nonce", "local", cur, "pending", n)
	}
	a.nonce.Set(n)
	return nil
}

func (a *Account) DeclareClass(ctx context.Context, artifact *txinclude.Artifact) (txinclude.ClassID, error) {
	return submit(a, OpDeclare, func(opts txinclude.TxOpts) (txinclude.ClassID, error) {
		return a.gateway.DeclareClass(ctx, a.signer, artifact, opts)
	})
}

func (a *Account) DeployContract(ctx context.Context, class txinclude.ClassID, args []any, salt common.Hash) (common.Address, error) {
	return submit(a, OpDeploy, func(opts txinclude.TxOpts) (common.Address, error) {
		return a.gateway.DeployContract(ctx, a.signer, class, args, salt, opts)
	})
}

func (a *Account) Execute(ctx context.Context, calls []txinclude.Call) (common.Hash, error) {
	return submit(a, OpExecute, func(opts txinclude.TxOpts) (common.Hash, error) {
		return a.gateway.Execute(ctx, a.signer, calls, opts)
	})
}

// Transfer sends amount of token to recipient. The zero token address
// transfers the native currency.
func (a *Account) Transfer(ctx context.Context, token common.Address, amount *uint256.Int, recipient common.Address) (common.Hash, error) {
	call, err := transferCall(token, amount, recipient)
	if err != nil {
		return common.Hash{}, &SubmissionError{Op: OpTransfer, Sender: a.Address(), Err: err}
	}
	return submit(a, OpTransfer, func(opts txinclude.TxOpts) (common.Hash, error) {
		return a.gateway.Execute(ctx, a.signer, []txinclude.Call{call}, opts)
	})
}

func transferCall(token common.Address, amount *uint256.Int, recipient common.Address) (txinclude.Call, error) {
	if token == (common.Address{}) {
		return txinclude.Call{Target: recipient, Value: amount}, nil
	}
	payload, err := transferArgs.Pack(recipient, amount.ToBig())
	if err != nil {
		return txinclude.Call{}, fmt.Errorf("failed to encode transfer: %w", err)
	}
	return txinclude.Call{
		Target:   token,
		Selector: transferSelector,
		Payload:  payload,
	}, nil
}

// submit runs fn with a freshly reserved nonce. A rejected submission gives
// the nonce and the budgeted fee back and is never retried.
func submit[T any](a *Account, op string, fn func(opts txinclude.TxOpts) (T, error)) (T, error) {
	var zero T
	if a.budget != nil {
		if err := a.budget.Debit(a.maxFee); err != nil {
			a.m.RecordSubmission(op, false, 0)
			return zero, &SubmissionError{Op: op, Sender: a.Address(), Err: err}
		}
	}
	n := a.nonce.Reserve()

	a.m.RecordInFlight(1)
	start := time.Now()
	res, err := fn(txinclude.TxOpts{Nonce: n, MaxFee: a.maxFee})
	a.m.RecordInFlight(-1)
	a.m.RecordSubmission(op, err == nil, time.Since(start))
	if err == nil {
		return res, nil
	}

	a.rollback(n)
	if a.budget != nil {
		a.budget.Credit(a.maxFee)
	}
	return zero, &SubmissionError{Op: op, Sender: a.Address(), Nonce: n, Reserved: true, Err: err}
}

func (a *Account) rollback(n uint64) {
	if !a.strict {
		a.nonce.Rollback()
		a.m.RecordNonceRollback(false)
		return
	}
	if a.nonce.Release(n) {
		a.m.RecordNonceRollback(true)
		return
	}
	a.log.Warn("Nonce not released, a later reservation is in flight", "nonce", n, "next", a.nonce.Current())
}
