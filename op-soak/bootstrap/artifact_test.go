package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[{"type":"constructor","inputs":[{"name":"name_","type":"string"},{"name":"symbol_","type":"string"},{"name":"decimals_","type":"uint8"},{"name":"supply","type":"uint256"},{"name":"owner","type":"address"}]},{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

func TestParseArtifact(t *testing.T) {
	t.Run("hardhat", func(t *testing.T) {
		data := `{"contractName":"TestToken","abi":` + erc20ABI + `,"bytecode":"0x60806040"}`
		a, err := ParseArtifact("fallback", []byte(data))
		require.NoError(t, err)
		require.Equal(t, "TestToken", a.Name)
		require.Equal(t, common.FromHex("0x60806040"), a.Bytecode)
		require.Contains(t, a.ABI.Methods, "transfer")
		require.Len(t, a.ABI.Constructor.Inputs, 5)
	})

	t.Run("forge", func(t *testing.T) {
		data := `{"abi":` + erc20ABI + `,"bytecode":{"object":"60806040","linkReferences":{}}}`
		a, err := ParseArtifact("ERC20", []byte(data))
		require.NoError(t, err)
		require.Equal(t, "ERC20", a.Name)
		require.Equal(t, common.FromHex("0x60806040"), a.Bytecode)
	})

	t.Run("empty bytecode", func(t *testing.T) {
		_, err := ParseArtifact("x", []byte(`{"abi":[],"bytecode":"0x"}`))
		require.ErrorIs(t, err, ErrNoBytecode)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseArtifact("x", []byte(`{"abi":`))
		require.Error(t, err)
		_, err = ParseArtifact("x", []byte(`{"abi":[],"bytecode":42}`))
		require.ErrorContains(t, err, "bytecode")
		_, err = ParseArtifact("x", []byte(`{"abi":[],"bytecode":"0xzz"}`))
		require.ErrorContains(t, err, "bytecode")
	})
}

func TestLoadArtifact(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := filepath.Join("out", "Token.sol", "Token.json")
	require.NoError(t, afero.WriteFile(fs, path, []byte(`{"abi":`+erc20ABI+`,"bytecode":"0x6080"}`), 0o644))
	a, err := LoadArtifact(fs, path)
	require.NoError(t, err)
	require.Equal(t, "Token", a.Name)

	_, err = LoadArtifact(fs, filepath.Join("out", "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestERC20ConstructorArgs(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	owner := common.HexToAddress("0xabc")
	args, err := ERC20ConstructorArgs(parsed.Constructor, TokenParams{
		Name:      "Test",
		Symbol:    "T",
		Decimals:  18,
		Supply:    uint256.NewInt(100_000_000),
		Recipient: owner,
	})
	require.NoError(t, err)
	require.Len(t, args, 5)
	require.Equal(t, "Test", args[0])
	require.Equal(t, "T", args[1])
	require.Equal(t, uint8(18), args[2])
	require.Equal(t, owner, args[4])

	_, err = parsed.Pack("", args...)
	require.NoError(t, err)

	bad, err := abi.JSON(strings.NewReader(`[{"type":"constructor","inputs":[{"name":"flag","type":"bool"}]}]`))
	require.NoError(t, err)
	_, err = ERC20ConstructorArgs(bad.Constructor, TokenParams{})
	require.ErrorContains(t, err, "unsupported constructor input")
}
