package bootstrap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/holiman/uint256"
	"github.com/spf13/afero"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yhl125/op-soak/op-service/txinclude"
)

var ErrNoBytecode = errors.New("artifact has no bytecode")

type artifactJSON struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// bytecodeObject is the forge layout of the bytecode field.
type bytecodeObject struct {
	Object string `json:"object"`
}

// LoadArtifact reads a forge or hardhat build artifact from fs.
func LoadArtifact(fs afero.Fs, path string) (*txinclude.Artifact, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	artifact, err := ParseArtifact(name, data)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return artifact, nil
}

// ParseArtifact decodes artifact JSON. The contractName field, if present,
// takes precedence over name.
func ParseArtifact(name string, data []byte) (*txinclude.Artifact, error) {
	var raw artifactJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if raw.ContractName != "" {
		name = raw.ContractName
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	var hexCode string
	if err := json.Unmarshal(raw.Bytecode, &hexCode); err != nil {
		var obj bytecodeObject
		if err := json.Unmarshal(raw.Bytecode, &obj); err != nil {
			return nil, fmt.Errorf("unrecognized bytecode field: %w", err)
		}
		hexCode = obj.Object
	}
	if !strings.HasPrefix(hexCode, "0x") {
		hexCode = "0x" + hexCode
	}
	code, err := hexutil.Decode(hexCode)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, ErrNoBytecode
	}
	return &txinclude.Artifact{
		Name:     name,
		ABI:      parsed,
		Bytecode: code,
	}, nil
}

type TokenParams struct {
	Name      string
	Symbol    string
	Decimals  uint8
	Supply    *uint256.Int
	Recipient common.Address
}

// ERC20ConstructorArgs maps token parameters onto the constructor inputs by
// type: the first string is the name, the second the symbol, uint8 is the
// decimals, uint256 the initial supply and address the supply recipient.
func ERC20ConstructorArgs(ctor abi.Method, p TokenParams) ([]any, error) {
	args := make([]any, 0, len(ctor.Inputs))
	strs := []string{p.Name, p.Symbol}
	for _, in := range ctor.Inputs {
		switch {
		case in.Type.T == abi.StringTy:
			if len(strs) == 0 {
				return nil, fmt.Errorf("unexpected third string input %q", in.Name)
			}
			args = append(args, strs[0])
			strs = strs[1:]
		case in.Type.T == abi.UintTy && in.Type.Size == 8:
			args = append(args, p.Decimals)
		case in.Type.T == abi.UintTy && in.Type.Size == 256:
			supply := new(big.Int)
			if p.Supply != nil {
				supply = p.Supply.ToBig()
			}
			args = append(args, supply)
		case in.Type.T == abi.AddressTy:
			args = append(args, p.Recipient)
		default:
			return nil, fmt.Errorf("unsupported constructor input %q of type %s", in.Name, in.Type)
		}
	}
	return args, nil
}
