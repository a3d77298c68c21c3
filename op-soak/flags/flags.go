package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/yhl125/op-soak/op-service"
	oplog "github.com/yhl125/op-soak/op-service/log"
	opmetrics "github.com/yhl125/op-soak/op-service/metrics"
)

const EnvVarPrefix = "OP_SOAK"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	// Required Flags
	RPCURLsFlag = &cli.StringSliceFlag{
		Name:    "rpc-url",
		Usage:   "RPC URLs of the execution endpoints. Identities are spread over them round-robin",
		EnvVars: prefixEnvVars("RPC_URL"),
	}

	// Optional Flags
	ConfigFlag = &cli.PathFlag{
		Name:    "config",
		Usage:   "TOML or YAML (.yaml, .yml) run profile keyed by flag name. Flags that are set explicitly override its values",
		EnvVars: prefixEnvVars("CONFIG"),
	}
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "Private key of the funding identity. Defaults to index 0 of the mnemonic",
		EnvVars: prefixEnvVars("PRIVATE_KEY"),
	}
	MnemonicFlag = &cli.StringFlag{
		Name:    "mnemonic",
		Usage:   "Mnemonic the identities are derived from (indices 1..N). A fresh one is generated if empty",
		EnvVars: prefixEnvVars("MNEMONIC"),
	}
	AccountsFlag = &cli.IntFlag{
		Name:    "accounts",
		Usage:   "Number of identities to transfer between",
		Value:   10,
		EnvVars: prefixEnvVars("ACCOUNTS"),
	}
	ConcurrencyFlag = &cli.IntFlag{
		Name:    "concurrency",
		Usage:   "Maximum number of transfers in flight, and the batch size",
		Value:   10,
		EnvVars: prefixEnvVars("CONCURRENCY"),
	}
	IterationsFlag = &cli.IntFlag{
		Name:    "iterations",
		Usage:   "Number of transfers every identity sends",
		Value:   10,
		EnvVars: prefixEnvVars("ITERATIONS"),
	}
	ChainIDFlag = &cli.Uint64Flag{
		Name:    "chain-id",
		Usage:   "Chain ID to sign for. Fetched from the first endpoint if unset",
		EnvVars: prefixEnvVars("CHAIN_ID"),
	}
	MaxFeeFlag = &cli.StringFlag{
		Name:    "max-fee",
		Usage:   "Fee ceiling in wei of every submission (decimal or 0x hex)",
		Value:   "0x6efb28c75a0000",
		EnvVars: prefixEnvVars("MAX_FEE"),
	}
	GasLimitFlag = &cli.Uint64Flag{
		Name:    "gas-limit",
		Usage:   "Gas limit of execute and transfer transactions",
		Value:   100_000,
		EnvVars: prefixEnvVars("GAS_LIMIT"),
	}
	DeployGasLimitFlag = &cli.Uint64Flag{
		Name:    "deploy-gas-limit",
		Usage:   "Gas limit of declare and deploy transactions",
		Value:   5_000_000,
		EnvVars: prefixEnvVars("DEPLOY_GAS_LIMIT"),
	}
	TipFlag = &cli.StringFlag{
		Name:    "tip",
		Usage:   "Priority fee per gas in wei, capped by the fee ceiling",
		Value:   "1000000",
		EnvVars: prefixEnvVars("TIP"),
	}
	ERC20ArtifactFlag = &cli.PathFlag{
		Name:    "erc20-artifact",
		Usage:   "Forge or hardhat artifact of an ERC20 to declare and deploy before the run",
		EnvVars: prefixEnvVars("ERC20_ARTIFACT"),
	}
	TokenFlag = &cli.StringFlag{
		Name:    "token",
		Usage:   "Address of an existing ERC20 to transfer. Native transfers are used if neither this nor an artifact is set",
		EnvVars: prefixEnvVars("TOKEN"),
	}
	TokenNameFlag = &cli.StringFlag{
		Name:    "token-name",
		Value:   "SoakToken",
		EnvVars: prefixEnvVars("TOKEN_NAME"),
	}
	TokenSymbolFlag = &cli.StringFlag{
		Name:    "token-symbol",
		Value:   "SOAK",
		EnvVars: prefixEnvVars("TOKEN_SYMBOL"),
	}
	TokenDecimalsFlag = &cli.UintFlag{
		Name:    "token-decimals",
		Value:   18,
		EnvVars: prefixEnvVars("TOKEN_DECIMALS"),
	}
	TokenSupplyFlag = &cli.StringFlag{
		Name:    "token-supply",
		Usage:   "Initial token supply minted to the funding identity, in base units",
		Value:   "1000000000000000000000000000",
		EnvVars: prefixEnvVars("TOKEN_SUPPLY"),
	}
	SaltFlag = &cli.StringFlag{
		Name:    "salt",
		Usage:   "CREATE2 salt of the token deployment",
		Value:   "0x0000000000000000000000000000000000000000000000000000000000000000",
		EnvVars: prefixEnvVars("SALT"),
	}
	FundAmountFlag = &cli.StringFlag{
		Name:    "fund-amount",
		Usage:   "Wei of gas currency sent to every identity",
		Value:   "100000000000000000",
		EnvVars: prefixEnvVars("FUND_AMOUNT"),
	}
	TokenFundAmountFlag = &cli.StringFlag{
		Name:    "token-fund-amount",
		Usage:   "Token base units sent to every identity",
		Value:   "1000000000000000000000",
		EnvVars: prefixEnvVars("TOKEN_FUND_AMOUNT"),
	}
	TransferAmountFlag = &cli.StringFlag{
		Name:    "transfer-amount",
		Usage:   "Amount moved by every transfer",
		Value:   "1",
		EnvVars: prefixEnvVars("TRANSFER_AMOUNT"),
	}
	SettleDelayFlag = &cli.DurationFlag{
		Name:    "settle-delay",
		Usage:   "Pause between the setup phases to let transactions land",
		Value:   5 * time.Second,
		EnvVars: prefixEnvVars("SETTLE_DELAY"),
	}
	CallTimeoutFlag = &cli.DurationFlag{
		Name:    "call-timeout",
		Usage:   "Timeout of a single submission. 0 disables it",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVars("CALL_TIMEOUT"),
	}
	RateLimitFlag = &cli.Float64Flag{
		Name:    "rate-limit",
		Usage:   "Maximum submissions per second per endpoint. 0 disables it",
		EnvVars: prefixEnvVars("RATE_LIMIT"),
	}
	RateBurstFlag = &cli.IntFlag{
		Name:    "rate-burst",
		Usage:   "Submissions allowed at once per endpoint when rate-limit is set",
		Value:   1,
		EnvVars: prefixEnvVars("RATE_BURST"),
	}
	StrictRollbackFlag = &cli.BoolFlag{
		Name:    "strict-rollback",
		Usage:   "Only give a rejected nonce back if no later nonce was reserved",
		EnvVars: prefixEnvVars("STRICT_ROLLBACK"),
	}
	FeeBudgetFlag = &cli.StringFlag{
		Name:    "fee-budget",
		Usage:   "Per-identity cap on the sum of fee ceilings of accepted submissions. Empty means unlimited",
		EnvVars: prefixEnvVars("FEE_BUDGET"),
	}
	SkipFundingFlag = &cli.BoolFlag{
		Name:    "skip-funding",
		Usage:   "Assume the identities are already funded",
		EnvVars: prefixEnvVars("SKIP_FUNDING"),
	}
	ArtifactsDirFlag = &cli.PathFlag{
		Name:    "artifacts-dir",
		Usage:   "Directory the TPS graph is written to. Empty disables graphs",
		Value:   "artifacts",
		EnvVars: prefixEnvVars("ARTIFACTS_DIR"),
	}
	ProfileFlag = &cli.StringFlag{
		Name:    "profile",
		Usage:   "Profile the harness itself: cpu, mem or empty",
		EnvVars: prefixEnvVars("PROFILE"),
	}
)

var requiredFlags = []cli.Flag{
	RPCURLsFlag,
}

var optionalFlags = []cli.Flag{
	ConfigFlag,
	PrivateKeyFlag,
	MnemonicFlag,
	AccountsFlag,
	ConcurrencyFlag,
	IterationsFlag,
	ChainIDFlag,
	MaxFeeFlag,
	GasLimitFlag,
	DeployGasLimitFlag,
	TipFlag,
	ERC20ArtifactFlag,
	TokenFlag,
	TokenNameFlag,
	TokenSymbolFlag,
	TokenDecimalsFlag,
	TokenSupplyFlag,
	SaltFlag,
	FundAmountFlag,
	TokenFundAmountFlag,
	TransferAmountFlag,
	SettleDelayFlag,
	CallTimeoutFlag,
	RateLimitFlag,
	RateBurstFlag,
	StrictRollbackFlag,
	FeeBudgetFlag,
	SkipFundingFlag,
	ArtifactsDirFlag,
	ProfileFlag,
}

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

var Flags []cli.Flag

// CheckRequired must run after the run profile was applied, required values
// may come from it.
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
