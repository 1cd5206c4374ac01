package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ayurtrace/ayurtrace/internal/models"
)

// contractBackend is the subset of *bind.BoundContract the client uses
type contractBackend interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
	UnpackLog(out interface{}, event string, log types.Log) error
}

type minerFunc func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

func clientMiner(client *ethclient.Client) minerFunc {
	return func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, client, tx)
	}
}

// herbTuple mirrors the contract's Herb struct, field for field
type herbTuple struct {
	Species         string
	ConfidenceScore uint8
	Latitude        *big.Int
	Longitude       *big.Int
	Timestamp       *big.Int
	Farmer          common.Address
}

// stepTuple mirrors the contract's ProcessingStep struct
type stepTuple struct {
	Action      string
	BatchNumber string
	Timestamp   *big.Int
	Processor   common.Address
}

type herbRegistered struct {
	HerbId  *big.Int
	Species string
	Farmer  common.Address
}

type identity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func parseIdentity(hexKey string) (*identity, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &identity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// ChainOptions configures a Chain client
type ChainOptions struct {
	RPCURL       string
	Descriptor   *Descriptor
	AdminKey     string
	SubmitterKey string
	ProcessorKey string
	// LazyRoleGrant grants the processor role inside AppendProcessingStep
	// when it is missing, instead of failing with ErrNotProcessor.
	LazyRoleGrant bool
	GasLimit      uint64
}

// Chain is a Ledger bound to one deployed contract on an Ethereum-compatible node
type Chain struct {
	client    *ethclient.Client
	abi       abi.ABI
	address   common.Address
	contract  contractBackend
	waitMined minerFunc

	// chainID is read from the node on first send when not known up front
	chainMu     sync.Mutex
	chainID     *big.Int
	readChainID func(ctx context.Context) (*big.Int, error)

	// grantMu serialises processor role grants
	grantMu sync.Mutex

	admin     *identity
	submitter *identity
	processor *identity

	lazyRoleGrant bool
	gasLimit      uint64
}

// DialChain binds the contract from the descriptor. The node is not queried
// here: an unreachable node surfaces as ErrUnavailable on each ledger call.
func DialChain(ctx context.Context, opts ChainOptions) (*Chain, error) {
	if opts.Descriptor == nil {
		return nil, fmt.Errorf("no contract descriptor")
	}
	parsed, err := opts.Descriptor.ParsedABI()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to node: %w", ErrUnavailable, err)
	}

	address := opts.Descriptor.ContractAddress()
	c, err := newChain(parsed, address, bind.NewBoundContract(address, parsed, client, client, client), nil, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.client = client
	c.waitMined = clientMiner(client)
	c.readChainID = client.ChainID

	slog.Info("Ledger client ready", "rpc", opts.RPCURL, "contract", address.Hex())
	return c, nil
}

func newChain(parsed abi.ABI, address common.Address, contract contractBackend, chainID *big.Int, opts ChainOptions) (*Chain, error) {
	c := &Chain{
		abi:           parsed,
		address:       address,
		contract:      contract,
		chainID:       chainID,
		lazyRoleGrant: opts.LazyRoleGrant,
		gasLimit:      opts.GasLimit,
	}

	var err error
	if c.admin, err = parseIdentity(opts.AdminKey); err != nil {
		return nil, fmt.Errorf("admin key: %w", err)
	}
	if c.submitter, err = parseIdentity(opts.SubmitterKey); err != nil {
		return nil, fmt.Errorf("submitter key: %w", err)
	}
	if c.processor, err = parseIdentity(opts.ProcessorKey); err != nil {
		return nil, fmt.Errorf("processor key: %w", err)
	}
	return c, nil
}

// Close releases the node connection
func (c *Chain) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// AppendOrigin submits registerHerb from the submitter identity, waits for it
// to be mined and reads the assigned id from the HerbRegistered event
func (c *Chain) AppendOrigin(ctx context.Context, in OriginInput) (Receipt, error) {
	if c.submitter == nil {
		return Receipt{}, fmt.Errorf("%w: submitter", ErrNoIdentity)
	}

	receipt, err := c.send(ctx, c.submitter, methodRegisterHerb,
		in.Species,
		in.Confidence,
		big.NewInt(in.LatitudeFixed),
		big.NewInt(in.LongitudeFixed),
	)
	if err != nil {
		return Receipt{}, err
	}

	id, err := c.herbIDFromReceipt(receipt)
	if err != nil {
		return Receipt{}, err
	}

	slog.Info("Origin recorded", "herb_id", id, "species", in.Species, "tx", receipt.TxHash.Hex())
	return Receipt{ID: id, TxHash: receipt.TxHash.Hex()}, nil
}

// AppendProcessingStep submits addProcessingStep from the processor identity.
// An id with no origin record fails with ErrNotFound before anything is sent.
func (c *Chain) AppendProcessingStep(ctx context.Context, id uint64, action, batchNumber string) (string, error) {
	if c.processor == nil {
		return "", fmt.Errorf("%w: processor", ErrNoIdentity)
	}
	if _, err := c.GetOrigin(ctx, id); err != nil {
		return "", err
	}

	has, err := c.HasProcessorRole(ctx)
	if err != nil {
		return "", err
	}
	if !has {
		if !c.lazyRoleGrant {
			return "", fmt.Errorf("%w: %s", ErrNotProcessor, c.processor.address.Hex())
		}
		if _, err := c.EnsureProcessor(ctx); err != nil {
			return "", err
		}
	}

	receipt, err := c.send(ctx, c.processor, methodAddProcessingStep, new(big.Int).SetUint64(id), action, batchNumber)
	if err != nil {
		return "", err
	}

	slog.Info("Processing step recorded", "herb_id", id, "batch", batchNumber, "tx", receipt.TxHash.Hex())
	return receipt.TxHash.Hex(), nil
}

// GetOrigin reads one origin record. An empty species means the id was never assigned.
func (c *Chain) GetOrigin(ctx context.Context, id uint64) (models.OriginRecord, error) {
	out, err := c.call(ctx, methodGetHerb, new(big.Int).SetUint64(id))
	if err != nil {
		if isRevert(err) {
			return models.OriginRecord{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return models.OriginRecord{}, err
	}

	h := *abi.ConvertType(out[0], new(herbTuple)).(*herbTuple)
	if h.Species == "" {
		return models.OriginRecord{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	return models.OriginRecord{
		ID:             id,
		Species:        h.Species,
		Confidence:     h.ConfidenceScore,
		LatitudeFixed:  bigToInt64(h.Latitude),
		LongitudeFixed: bigToInt64(h.Longitude),
		Timestamp:      bigToInt64(h.Timestamp),
		Submitter:      h.Farmer.Hex(),
	}, nil
}

// GetProcessingHistory reads the ordered processing steps of one origin
func (c *Chain) GetProcessingHistory(ctx context.Context, id uint64) ([]models.ProcessingStep, error) {
	out, err := c.call(ctx, methodGetProcessingHistory, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}

	steps := *abi.ConvertType(out[0], new([]stepTuple)).(*[]stepTuple)
	history := make([]models.ProcessingStep, 0, len(steps))
	for _, s := range steps {
		history = append(history, models.ProcessingStep{
			Action:      s.Action,
			BatchNumber: s.BatchNumber,
			Timestamp:   bigToInt64(s.Timestamp),
			Processor:   s.Processor.Hex(),
		})
	}
	return history, nil
}

// Count returns the number of origin records
func (c *Chain) Count(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, methodHerbCount)
	if err != nil {
		return 0, err
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return n.Uint64(), nil
}

// HasProcessorRole checks hasRole(PROCESSOR_ROLE, processor)
func (c *Chain) HasProcessorRole(ctx context.Context) (bool, error) {
	if c.processor == nil {
		return false, fmt.Errorf("%w: processor", ErrNoIdentity)
	}

	out, err := c.call(ctx, methodProcessorRole)
	if err != nil {
		return false, err
	}
	role := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)

	out, err = c.call(ctx, methodHasRole, role, c.processor.address)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// EnsureProcessor grants the processor role from the admin identity unless it is already held
func (c *Chain) EnsureProcessor(ctx context.Context) (bool, error) {
	c.grantMu.Lock()
	defer c.grantMu.Unlock()

	has, err := c.HasProcessorRole(ctx)
	if err != nil {
		return false, err
	}
	if has {
		slog.Debug("Processor role already granted", "processor", c.processor.address.Hex())
		return false, nil
	}
	return c.grantProcessor(ctx)
}

func (c *Chain) grantProcessor(ctx context.Context) (bool, error) {
	if c.admin == nil {
		return false, fmt.Errorf("%w: admin", ErrNoIdentity)
	}
	receipt, err := c.send(ctx, c.admin, methodAddProcessor, c.processor.address)
	if err != nil {
		return false, fmt.Errorf("failed to grant processor role: %w", err)
	}
	slog.Info("Granted processor role", "processor", c.processor.address.Hex(), "tx", receipt.TxHash.Hex())
	return true, nil
}

func (c *Chain) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("failed to call %s: %w", method, err)
		}
		return nil, fmt.Errorf("%w: failed to call %s: %w", ErrUnavailable, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result from %s", method)
	}
	return out, nil
}

func (c *Chain) send(ctx context.Context, from *identity, method string, params ...interface{}) (*types.Receipt, error) {
	chainID, err := c.networkID(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(from.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = c.gasLimit

	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrReverted, method, err)
		}
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	slog.Debug("Transaction sent", "method", method, "tx", tx.Hash().Hex(), "from", from.address.Hex())

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s (tx %s)", ErrReverted, method, receipt.TxHash.Hex())
	}
	return receipt, nil
}

func (c *Chain) networkID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()

	if c.chainID != nil {
		return c.chainID, nil
	}
	if c.readChainID == nil {
		return nil, fmt.Errorf("%w: chain id unknown", ErrUnavailable)
	}
	id, err := c.readChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read chain id: %w", ErrUnavailable, err)
	}
	c.chainID = id
	slog.Info("Connected to ledger", "chain_id", id, "contract", c.address.Hex())
	return id, nil
}

func (c *Chain) herbIDFromReceipt(receipt *types.Receipt) (uint64, error) {
	eventID := c.abi.Events[eventHerbRegistered].ID
	for _, l := range receipt.Logs {
		if l.Address != c.address || len(l.Topics) == 0 || l.Topics[0] != eventID {
			continue
		}
		var ev herbRegistered
		if err := c.contract.UnpackLog(&ev, eventHerbRegistered, *l); err != nil {
			return 0, fmt.Errorf("failed to decode %s event: %w", eventHerbRegistered, err)
		}
		return ev.HerbId.Uint64(), nil
	}
	return 0, fmt.Errorf("no %s event in tx %s", eventHerbRegistered, receipt.TxHash.Hex())
}

func bigToInt64(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}
