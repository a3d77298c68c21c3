package txinclude

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

var (
	// DeterministicDeployer is the keyless CREATE2 factory deployed on most EVM chains.
	// Calldata is the 32-byte salt followed by the init code.
	DeterministicDeployer = common.HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c")
	// Multicall3 batches several calls into one transaction.
	Multicall3 = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
)

var (
	ErrUnknownClass      = errors.New("class was not declared through this gateway")
	ErrNoCalls           = errors.New("no calls to execute")
	ErrFeeCeilingTooLow  = errors.New("fee ceiling does not cover the gas limit")
	ErrClassCodeTooLarge = errors.New("class code too large to declare")
	// ErrBatchNotSenderPreserving is returned for a batch of several calls that
	// carries calldata. Multicall3 is msg.sender of batched calls, so only plain
	// value transfers keep their meaning.
	ErrBatchNotSenderPreserving = errors.New("batched calls with calldata do not preserve msg.sender")
)

const multicall3ABI = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3Value[]","name":"calls","type":"tuple[]"}],"name":"aggregate3Value","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

var multicall = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(multicall3ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type call3Value struct {
	Target       common.Address
	AllowFailure bool
	Value        *big.Int
	CallData     []byte
}

type EVMConfig struct {
	ChainID *big.Int
	// GasLimit is used for Execute.
	GasLimit uint64
	// DeployGasLimit is used for DeclareClass and DeployContract.
	DeployGasLimit uint64
	// TipCap is the priority fee per gas. It is lowered to the fee cap when the
	// fee ceiling does not allow for it.
	TipCap *uint256.Int
	// ClassCacheSize bounds how many declared artifacts are remembered for deployment.
	ClassCacheSize int
}

// EVMGateway signs dynamic-fee transactions and sends them to an execution layer.
type EVMGateway struct {
	log     log.Logger
	el      Sender
	cfg     EVMConfig
	classes *lru.Cache[ClassID, *Artifact]
}

var _ Gateway = (*EVMGateway)(nil)

func NewEVMGateway(logger log.Logger, el Sender, cfg EVMConfig) (*EVMGateway, error) {
	if cfg.ChainID == nil {
		return nil, errors.New("chain ID is required")
	}
	if cfg.GasLimit == 0 || cfg.DeployGasLimit == 0 {
		return nil, errors.New("gas limits must be non-zero")
	}
	if cfg.TipCap == nil {
		cfg.TipCap = new(uint256.Int)
	}
	if cfg.ClassCacheSize <= 0 {
		cfg.ClassCacheSize = 16
	}
	classes, err := lru.New[ClassID, *Artifact](cfg.ClassCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create class cache: %w", err)
	}
	return &EVMGateway{
		log:     logger,
		el:      el,
		cfg:     cfg,
		classes: classes,
	}, nil
}

// DeclareClass publishes the artifact's init code as the runtime code of a data
// contract, deployed through the deterministic deployer with a zero salt.
func (g *EVMGateway) DeclareClass(ctx context.Context, signer Signer, artifact *Artifact, opts TxOpts) (ClassID, error) {
	code, err := dataContractInitCode(artifact.Bytecode)
	if err != nil {
		return ClassID{}, err
	}
	data := append(common.Hash{}.Bytes(), code...)
	if _, err := g.send(ctx, signer, DeterministicDeployer, data, nil, g.cfg.DeployGasLimit, opts); err != nil {
		return ClassID{}, err
	}
	id := artifact.ID()
	g.classes.Add(id, artifact)
	g.log.Debug("Declared class", "name", artifact.Name, "class", id,
		"address", crypto.CreateAddress2(DeterministicDeployer, common.Hash{}, crypto.Keccak256(code)))
	return id, nil
}

// DeployContract deploys a declared class with ABI-encoded constructor args.
func (g *EVMGateway) DeployContract(ctx context.Context, signer Signer, class ClassID, args []any, salt common.Hash, opts TxOpts) (common.Address, error) {
	artifact, ok := g.classes.Get(class)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	packed, err := artifact.ABI.Pack("", args...)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to encode constructor args of %s: %w", artifact.Name, err)
	}
	initCode := append(append([]byte(nil), artifact.Bytecode...), packed...)
	data := append(salt.Bytes(), initCode...)
	if _, err := g.send(ctx, signer, DeterministicDeployer, data, nil, g.cfg.DeployGasLimit, opts); err != nil {
		return common.Address{}, err
	}
	return crypto.CreateAddress2(DeterministicDeployer, salt, crypto.Keccak256(initCode)), nil
}

// Execute sends a single call directly, or several calls through Multicall3.
// A batch of several calls may only carry value transfers: inside the batch
// Multicall3 is msg.sender, not the signer.
func (g *EVMGateway) Execute(ctx context.Context, signer Signer, calls []Call, opts TxOpts) (common.Hash, error) {
	switch len(calls) {
	case 0:
		return common.Hash{}, ErrNoCalls
	case 1:
		c := calls[0]
		return g.send(ctx, signer, c.Target, c.Calldata(), c.Value, g.cfg.GasLimit, opts)
	}
	batch := make([]call3Value, 0, len(calls))
	total := new(uint256.Int)
	for i, c := range calls {
		if c.Calldata() != nil {
			return common.Hash{}, fmt.Errorf("%w: call %d to %s", ErrBatchNotSenderPreserving, i, c.Target)
		}
		value := new(big.Int)
		if c.Value != nil {
			value = c.Value.ToBig()
			total.Add(total, c.Value)
		}
		batch = append(batch, call3Value{
			Target:   c.Target,
			Value:    value,
			CallData: c.Calldata(),
		})
	}
	data, err := multicall.Pack("aggregate3Value", batch)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode multicall: %w", err)
	}
	return g.send(ctx, signer, Multicall3, data, total, g.cfg.GasLimit, opts)
}

func (g *EVMGateway) send(ctx context.Context, signer Signer, to common.Address, data []byte, value *uint256.Int, gas uint64, opts TxOpts) (common.Hash, error) {
	feeCap, tipCap, err := g.feeCaps(opts.MaxFee, gas)
	if err != nil {
		return common.Hash{}, err
	}
	if value == nil {
		value = new(uint256.Int)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.cfg.ChainID,
		Nonce:     opts.Nonce,
		GasTipCap: tipCap.ToBig(),
		GasFeeCap: feeCap.ToBig(),
		Gas:       gas,
		To:        &to,
		Value:     value.ToBig(),
		Data:      data,
	})
	if cost := maxGasCost(tx); cost.Gt(opts.MaxFee) {
		return common.Hash{}, fmt.Errorf("%w: gas may cost %s wei, ceiling is %s wei", ErrFeeCeilingTooLow, cost.Dec(), opts.MaxFee.Dec())
	}
	signed, err := signer.Sign(ctx, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign tx: %w", err)
	}
	if err := g.el.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send tx %s: %w", signed.Hash(), err)
	}
	return signed.Hash(), nil
}

// feeCaps spreads the fee ceiling over the gas limit.
func (g *EVMGateway) feeCaps(maxFee *uint256.Int, gas uint64) (feeCap, tipCap *uint256.Int, err error) {
	if maxFee == nil {
		return nil, nil, fmt.Errorf("%w: no fee ceiling", ErrFeeCeilingTooLow)
	}
	feeCap = new(uint256.Int).Div(maxFee, uint256.NewInt(gas))
	if feeCap.IsZero() {
		return nil, nil, fmt.Errorf("%w: %s wei for %d gas", ErrFeeCeilingTooLow, maxFee.Dec(), gas)
	}
	tipCap = new(uint256.Int).Set(g.cfg.TipCap)
	if tipCap.Gt(feeCap) {
		tipCap.Set(feeCap)
	}
	return feeCap, tipCap, nil
}

// maxGasCost is the most a transaction can spend on gas, excluding its value.
func maxGasCost(tx *types.Transaction) *uint256.Int {
	total, _ := uint256.FromBig(tx.GasFeeCap())
	return total.Mul(total, uint256.NewInt(tx.Gas()))
}

// dataContractInitCode returns init code that deploys data as runtime code:
// PUSH2 len, DUP1, PUSH1 10, RETURNDATASIZE, CODECOPY, RETURNDATASIZE, RETURN.
func dataContractInitCode(data []byte) ([]byte, error) {
	if len(data) > 0xffff {
		return nil, fmt.Errorf("%w: %d bytes", ErrClassCodeTooLarge, len(data))
	}
	prefix := []byte{0x61, byte(len(data) >> 8), byte(len(data)), 0x80, 0x60, 0x0a, 0x3d, 0x39, 0x3d, 0xf3}
	return append(prefix, data...), nil
}
