package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Artifact is a compiled contract: its interface and creation bytecode
type Artifact struct {
	ABI      json.RawMessage
	Bytecode string
}

// LoadArtifact reads a compiler artifact. Hardhat/Truffle artifacts
// ({"abi","bytecode"}), Foundry output ({"abi","bytecode":{"object"}}) and
// solc standard-json contract entries ({"abi","evm":{"bytecode":{"object"}}})
// are understood.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var raw struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode json.RawMessage `json:"bytecode"`
		EVM      struct {
			Bytecode struct {
				Object string `json:"object"`
			} `json:"bytecode"`
		} `json:"evm"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}
	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("artifact has no abi")
	}

	a := &Artifact{ABI: raw.ABI, Bytecode: raw.EVM.Bytecode.Object}
	if b := bytes.TrimSpace(raw.Bytecode); len(b) > 0 {
		if b[0] == '"' {
			if err := json.Unmarshal(b, &a.Bytecode); err != nil {
				return nil, fmt.Errorf("failed to parse bytecode: %w", err)
			}
		} else {
			var obj struct {
				Object string `json:"object"`
			}
			if err := json.Unmarshal(b, &obj); err != nil {
				return nil, fmt.Errorf("failed to parse bytecode: %w", err)
			}
			a.Bytecode = obj.Object
		}
	}

	a.Bytecode = strings.TrimPrefix(strings.TrimSpace(a.Bytecode), "0x")
	if a.Bytecode == "" {
		return nil, fmt.Errorf("artifact has no bytecode")
	}
	return a, nil
}

// DeployOptions configures a contract deployment
type DeployOptions struct {
	RPCURL       string
	Artifact     *Artifact
	AdminKey     string
	ProcessorKey string
	GasLimit     uint64
}

// Deploy creates the contract from the admin identity, waits for it, grants
// the processor role once and returns the descriptor for the new instance
func Deploy(ctx context.Context, opts DeployOptions) (*Descriptor, error) {
	admin, err := parseIdentity(opts.AdminKey)
	if err != nil {
		return nil, fmt.Errorf("admin key: %w", err)
	}
	if admin == nil {
		return nil, fmt.Errorf("%w: admin", ErrNoIdentity)
	}

	d := &Descriptor{ABI: opts.Artifact.ABI}
	parsed, err := d.ParsedABI()
	if err != nil {
		return nil, err
	}
	if err := checkABI(parsed); err != nil {
		return nil, fmt.Errorf("artifact cannot be used as the provenance contract: %w", err)
	}

	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(admin.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasLimit = opts.GasLimit

	slog.Info("Deploying contract", "rpc", opts.RPCURL, "admin", admin.address.Hex())
	_, tx, _, err := bind.DeployContract(auth, parsed, common.FromHex(opts.Artifact.Bytecode), client)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy contract: %w", err)
	}

	address, err := bind.WaitDeployed(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for deployment: %w", err)
	}
	d.Address = address.Hex()
	slog.Info("Contract deployed", "address", d.Address, "tx", tx.Hash().Hex())

	if opts.ProcessorKey != "" {
		c, err := newChain(parsed, address, bind.NewBoundContract(address, parsed, client, client, client), chainID, ChainOptions{
			AdminKey:     opts.AdminKey,
			ProcessorKey: opts.ProcessorKey,
			GasLimit:     opts.GasLimit,
		})
		if err != nil {
			return nil, err
		}
		c.waitMined = clientMiner(client)
		if _, err := c.EnsureProcessor(ctx); err != nil {
			return nil, err
		}
	}

	return d, nil
}
