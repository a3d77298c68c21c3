package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	oplog "github.com/yhl125/op-soak/op-service/log"
	opmetrics "github.com/yhl125/op-soak/op-service/metrics"
	"github.com/yhl125/op-soak/op-soak/flags"
)

var (
	ErrTooFewAccounts    = errors.New("at least two accounts are required")
	ErrTokenAndArtifact  = errors.New("token and erc20-artifact are mutually exclusive")
	ErrNoFundingIdentity = errors.New("either a private key or a mnemonic is required to fund the identities")
)

type CLIConfig struct {
	RPCURLs []string

	// FunderKey is nil if the funding identity is derived from the mnemonic.
	FunderKey *ecdsa.PrivateKey
	Mnemonic  string

	Accounts    int
	Concurrency int
	Iterations  int

	// ChainID is 0 if it must be fetched from the endpoint.
	ChainID        uint64
	MaxFee         *uint256.Int
	Tip            *uint256.Int
	GasLimit       uint64
	DeployGasLimit uint64

	ERC20Artifact string
	Token         common.Address
	TokenName     string
	TokenSymbol   string
	TokenDecimals uint8
	TokenSupply   *uint256.Int
	Salt          common.Hash

	FundAmount      *uint256.Int
	TokenFundAmount *uint256.Int
	TransferAmount  *uint256.Int
	SkipFunding     bool

	SettleDelay time.Duration
	CallTimeout time.Duration
	RateLimit   float64
	RateBurst   int

	StrictRollback bool
	// FeeBudget is nil for no per-identity budget.
	FeeBudget *uint256.Int

	ArtifactsDir string
	Profile      string

	LogConfig     oplog.CLIConfig
	MetricsConfig opmetrics.CLIConfig
}

// NewConfig applies the run profile, if any, and parses the flags.
func NewConfig(ctx *cli.Context) (*CLIConfig, error) {
	return NewConfigFromFs(ctx, afero.NewOsFs())
}

// NewConfigFromFs is NewConfig with the run profile read from fs.
func NewConfigFromFs(ctx *cli.Context, fs afero.Fs) (*CLIConfig, error) {
	if path := ctx.Path(flags.ConfigFlag.Name); path != "" {
		if _, err := ApplyProfile(ctx, fs, path); err != nil {
			return nil, err
		}
	}
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, err
	}

	cfg := &CLIConfig{
		RPCURLs:        ctx.StringSlice(flags.RPCURLsFlag.Name),
		Mnemonic:       ctx.String(flags.MnemonicFlag.Name),
		Accounts:       ctx.Int(flags.AccountsFlag.Name),
		Concurrency:    ctx.Int(flags.ConcurrencyFlag.Name),
		Iterations:     ctx.Int(flags.IterationsFlag.Name),
		ChainID:        ctx.Uint64(flags.ChainIDFlag.Name),
		GasLimit:       ctx.Uint64(flags.GasLimitFlag.Name),
		DeployGasLimit: ctx.Uint64(flags.DeployGasLimitFlag.Name),
		ERC20Artifact:  ctx.Path(flags.ERC20ArtifactFlag.Name),
		TokenName:      ctx.String(flags.TokenNameFlag.Name),
		TokenSymbol:    ctx.String(flags.TokenSymbolFlag.Name),
		SkipFunding:    ctx.Bool(flags.SkipFundingFlag.Name),
		SettleDelay:    ctx.Duration(flags.SettleDelayFlag.Name),
		CallTimeout:    ctx.Duration(flags.CallTimeoutFlag.Name),
		RateLimit:      ctx.Float64(flags.RateLimitFlag.Name),
		RateBurst:      ctx.Int(flags.RateBurstFlag.Name),
		StrictRollback: ctx.Bool(flags.StrictRollbackFlag.Name),
		ArtifactsDir:   ctx.Path(flags.ArtifactsDirFlag.Name),
		Profile:        ctx.String(flags.ProfileFlag.Name),
		LogConfig:      oplog.ReadCLIConfig(ctx),
		MetricsConfig:  opmetrics.ReadCLIConfig(ctx),
	}

	var result *multierror.Error
	amount := func(flag *cli.StringFlag) *uint256.Int {
		v, err := ParseAmount(ctx.String(flag.Name))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid %s: %w", flag.Name, err))
		}
		return v
	}
	cfg.MaxFee = amount(flags.MaxFeeFlag)
	cfg.Tip = amount(flags.TipFlag)
	cfg.TokenSupply = amount(flags.TokenSupplyFlag)
	cfg.FundAmount = amount(flags.FundAmountFlag)
	cfg.TokenFundAmount = amount(flags.TokenFundAmountFlag)
	cfg.TransferAmount = amount(flags.TransferAmountFlag)
	if ctx.String(flags.FeeBudgetFlag.Name) != "" {
		cfg.FeeBudget = amount(flags.FeeBudgetFlag)
	}

	if s := ctx.String(flags.PrivateKeyFlag.Name); s != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid %s: %w", flags.PrivateKeyFlag.Name, err))
		}
		cfg.FunderKey = pk
	}
	if s := ctx.String(flags.TokenFlag.Name); s != "" {
		if !common.IsHexAddress(s) {
			result = multierror.Append(result, fmt.Errorf("invalid %s: %q", flags.TokenFlag.Name, s))
		}
		cfg.Token = common.HexToAddress(s)
	}
	if s := ctx.String(flags.SaltFlag.Name); s != "" {
		b := common.FromHex(s)
		if len(b) > common.HashLength {
			result = multierror.Append(result, fmt.Errorf("invalid %s: longer than 32 bytes", flags.SaltFlag.Name))
		}
		cfg.Salt = common.BytesToHash(b)
	}
	decimals := ctx.Uint(flags.TokenDecimalsFlag.Name)
	if decimals > 255 {
		result = multierror.Append(result, fmt.Errorf("invalid %s: %d", flags.TokenDecimalsFlag.Name, decimals))
	}
	cfg.TokenDecimals = uint8(decimals)

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAmount parses a decimal or 0x-prefixed hex amount.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex amount %q", s)
		}
		v, overflow := uint256.FromBig(b)
		if overflow {
			return nil, fmt.Errorf("amount %q out of range", s)
		}
		return v, nil
	}
	return uint256.FromDecimal(s)
}

func (c *CLIConfig) Check() error {
	var result *multierror.Error
	if len(c.RPCURLs) == 0 {
		result = multierror.Append(result, errors.New("at least one RPC URL is required"))
	}
	if c.Accounts < 2 {
		result = multierror.Append(result, ErrTooFewAccounts)
	}
	if c.Concurrency < 1 {
		result = multierror.Append(result, errors.New("concurrency must be at least 1"))
	}
	if c.Iterations < 1 {
		result = multierror.Append(result, errors.New("iterations must be at least 1"))
	}
	if c.MaxFee == nil || c.MaxFee.IsZero() {
		result = multierror.Append(result, errors.New("max fee must be positive"))
	}
	if c.GasLimit == 0 || c.DeployGasLimit == 0 {
		result = multierror.Append(result, errors.New("gas limits must be positive"))
	}
	if c.ERC20Artifact != "" && c.Token != (common.Address{}) {
		result = multierror.Append(result, ErrTokenAndArtifact)
	}
	if c.FunderKey == nil && c.Mnemonic == "" && !c.SkipFunding {
		result = multierror.Append(result, ErrNoFundingIdentity)
	}
	if c.SkipFunding && c.Mnemonic == "" {
		result = multierror.Append(result, errors.New("skip-funding requires a mnemonic of funded identities"))
	}
	if c.RateLimit < 0 {
		result = multierror.Append(result, errors.New("rate limit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		result = multierror.Append(result, errors.New("rate burst must be at least 1"))
	}
	switch c.Profile {
	case "", "cpu", "mem":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown profile mode %q", c.Profile))
	}
	if err := c.MetricsConfig.Check(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Network returns the chain parameters shared by all identities.
func (c *CLIConfig) Network(chainID *big.Int) Network {
	return Network{ChainID: chainID, MaxFee: c.MaxFee}
}
