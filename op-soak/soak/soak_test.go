package soak

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	oplog "github.com/yhl125/op-soak/op-service/log"
	"github.com/yhl125/op-soak/op-service/testlog"
	"github.com/yhl125/op-soak/op-service/txinclude"
	"github.com/yhl125/op-soak/op-soak/config"
	"github.com/yhl125/op-soak/op-soak/metrics"
)

const testMnemonic = "test test test test test test test test test test test junk"

var testChainID = big.NewInt(901)

// fakeChain accepts every transaction whose nonce matches the sender's
// pending nonce. All endpoints share it.
type fakeChain struct {
	mu      sync.Mutex
	pending map[common.Address]uint64
	txs     []*types.Transaction
	reject  func(tx *types.Transaction) bool
	dialed  []string
	closed  int
}

func newFakeChain() *fakeChain {
	return &fakeChain{pending: make(map[common.Address]uint64)}
}

func (c *fakeChain) dial(_ context.Context, url string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialed = append(c.dialed, url)
	return &fakeClient{chain: c}, nil
}

func (c *fakeChain) sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.txs...)
}

type fakeClient struct {
	chain *fakeChain
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	if err != nil {
		return err
	}
	c := f.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject != nil && c.reject(tx) {
		return errors.New("rejected")
	}
	// out-of-order nonces are accepted, as a mempool would queue them
	if tx.Nonce() >= c.pending[from] {
		c.pending[from] = tx.Nonce() + 1
	}
	c.txs = append(c.txs, tx)
	return nil
}

func (f *fakeClient) PendingNonceAt(_ context.Context, addr common.Address) (uint64, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	return f.chain.pending[addr], nil
}

func (f *fakeClient) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(testChainID), nil
}

func (f *fakeClient) Close() {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	f.chain.closed++
}

func testConfig(t *testing.T) *config.CLIConfig {
	funder, err := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	return &config.CLIConfig{
		RPCURLs:         []string{"http://a", "http://b"},
		FunderKey:       funder,
		Mnemonic:        testMnemonic,
		Accounts:        4,
		Concurrency:     3,
		Iterations:      2,
		MaxFee:          config.DefaultMaxFee,
		Tip:             uint256.NewInt(1),
		GasLimit:        100_000,
		DeployGasLimit:  5_000_000,
		TokenName:       "Soak",
		TokenSymbol:     "SOAK",
		TokenDecimals:   18,
		TokenSupply:     uint256.NewInt(1_000_000),
		FundAmount:      uint256.NewInt(1e18),
		TokenFundAmount: uint256.NewInt(1000),
		TransferAmount:  uint256.NewInt(1),
		RateBurst:       1,
		ArtifactsDir:    t.TempDir(),
	}
}

func newTestSoak(t *testing.T, cfg *config.CLIConfig, chain *fakeChain, out *bytes.Buffer) *Soak {
	return New(testlog.Logger(t, log.LevelInfo), metrics.NoopMetrics, cfg,
		WithDialer(chain.dial), WithOutput(out, false))
}

func TestRunNativeTransfers(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig(t)
	var out bytes.Buffer
	s := newTestSoak(t, cfg, chain, &out)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), res.Success)
	require.Zero(t, res.Failure)
	require.Len(t, res.Batches, 3)

	require.Equal(t, cfg.RPCURLs, chain.dialed)
	require.Equal(t, 2, chain.closed)

	txs := chain.sent()
	require.Len(t, txs, 4+8, "one funding tx per identity and the transfers")
	funder := crypto.PubkeyToAddress(cfg.FunderKey.PublicKey)
	require.Equal(t, uint64(4), chain.pending[funder])
	for _, tx := range txs[4:] {
		require.Equal(t, uint64(1), tx.Value().Uint64())
		require.Empty(t, tx.Data())
	}
	require.Contains(t, out.String(), s.RunID())

	entries, err := os.ReadDir(cfg.ArtifactsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	_, err = os.Stat(filepath.Join(cfg.ArtifactsDir, entries[0].Name(), "tps.png"))
	require.NoError(t, err)
}

func TestRunDeploysToken(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig(t)
	cfg.ArtifactsDir = ""
	cfg.ERC20Artifact = "Token.json"
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, cfg.ERC20Artifact, []byte(`{"abi":[{"type":"constructor","inputs":[`+
		`{"name":"name_","type":"string"},{"name":"symbol_","type":"string"},{"name":"supply","type":"uint256"},{"name":"owner","type":"address"}]}],`+
		`"bytecode":"0x6080604052"}`), 0o644))

	s := New(testlog.Logger(t, log.LevelInfo), metrics.NoopMetrics, cfg,
		WithDialer(chain.dial), WithFs(fs))
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), res.Success)

	txs := chain.sent()
	require.Len(t, txs, 2+4*2+8, "declare, deploy, two funding txs per identity, transfers")
	require.Equal(t, txinclude.DeterministicDeployer, *txs[0].To())
	require.Equal(t, txinclude.DeterministicDeployer, *txs[1].To())

	deployData := txs[1].Data()
	initCode := deployData[common.HashLength:]
	token := crypto.CreateAddress2(txinclude.DeterministicDeployer, common.Hash{}, crypto.Keccak256(initCode))
	for _, tx := range txs[len(txs)-8:] {
		require.Equal(t, token, *tx.To())
		require.Len(t, tx.Data(), 4+32+32)
		require.Zero(t, tx.Value().Sign())
	}
}

func TestRunCountsRejections(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig(t)
	cfg.SkipFunding = true
	cfg.ArtifactsDir = ""
	var mu sync.Mutex
	calls := 0
	chain.reject = func(tx *types.Transaction) bool {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return calls%2 == 0
	}

	res, err := newTestSoak(t, cfg, chain, &bytes.Buffer{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), res.Total())
	require.Equal(t, uint64(4), res.Failure)
	require.Len(t, chain.sent(), 4)
}

func TestRunInvalid(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig(t)
	cfg.Accounts = 1
	_, err := newTestSoak(t, cfg, chain, &bytes.Buffer{}).Run(context.Background())
	require.Error(t, err)
	require.Equal(t, len(cfg.RPCURLs), chain.closed)
}

func TestRunGeneratedMnemonicStaysOutOfLogs(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig(t)
	cfg.Mnemonic = ""
	cfg.ArtifactsDir = ""
	var out, logs bytes.Buffer
	logger := oplog.NewLogger(&logs, oplog.CLIConfig{Level: log.LevelDebug, Format: oplog.FormatJSON})
	s := New(logger, metrics.NoopMetrics, cfg, WithDialer(chain.dial), WithOutput(&out, false))

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), res.Success)

	const prefix = "Generated identity mnemonic: "
	var mnemonic string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, prefix) {
			require.Empty(t, mnemonic, "mnemonic written once")
			mnemonic = strings.TrimPrefix(line, prefix)
		}
	}
	require.Len(t, strings.Fields(mnemonic), 12)
	require.NotContains(t, logs.String(), mnemonic)
	require.Contains(t, logs.String(), `"msg":"Transfers finished"`)
	require.Contains(t, logs.String(), `"failed":0`)
}
