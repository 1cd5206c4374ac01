package ledger

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract surface used by the chain client
const (
	methodRegisterHerb         = "registerHerb"
	methodAddProcessingStep    = "addProcessingStep"
	methodGetHerb              = "getHerb"
	methodGetProcessingHistory = "getProcessingHistory"
	methodHerbCount            = "herbCount"
	methodAddProcessor         = "addProcessor"
	methodHasRole              = "hasRole"
	methodProcessorRole        = "PROCESSOR_ROLE"

	eventHerbRegistered = "HerbRegistered"
)

var requiredMethods = []string{
	methodRegisterHerb,
	methodAddProcessingStep,
	methodGetHerb,
	methodGetProcessingHistory,
	methodHerbCount,
	methodAddProcessor,
	methodHasRole,
	methodProcessorRole,
}

//go:embed contract_abi.json
var referenceABI []byte

// ReferenceABI returns the contract interface this client was written against
func ReferenceABI() (abi.ABI, error) {
	return abi.JSON(bytes.NewReader(referenceABI))
}

// Descriptor is the deployed contract's address and interface, as written by
// the deploy command and read at server startup
type Descriptor struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

// LoadDescriptor reads and validates a descriptor file. A missing file
// yields an error matching fs.ErrNotExist.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse contract descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Save writes the descriptor as indented JSON
func (d *Descriptor) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode contract descriptor: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write contract descriptor: %w", err)
	}
	return nil
}

// ContractAddress returns the parsed contract address
func (d *Descriptor) ContractAddress() common.Address {
	return common.HexToAddress(d.Address)
}

// ParsedABI decodes the interface description. Some tools store the ABI as a
// JSON string rather than an array; both are accepted.
func (d *Descriptor) ParsedABI() (abi.ABI, error) {
	raw := bytes.TrimSpace(d.ABI)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return abi.ABI{}, fmt.Errorf("failed to decode ABI string: %w", err)
		}
		raw = []byte(s)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	return parsed, nil
}

// Validate checks the address and that the ABI exposes everything the client calls
func (d *Descriptor) Validate() error {
	if !common.IsHexAddress(d.Address) {
		return fmt.Errorf("invalid contract address %q", d.Address)
	}
	parsed, err := d.ParsedABI()
	if err != nil {
		return err
	}
	return checkABI(parsed)
}

func checkABI(parsed abi.ABI) error {
	for _, m := range requiredMethods {
		if _, ok := parsed.Methods[m]; !ok {
			return fmt.Errorf("contract ABI is missing method %s", m)
		}
	}
	if _, ok := parsed.Events[eventHerbRegistered]; !ok {
		return fmt.Errorf("contract ABI is missing event %s", eventHerbRegistered)
	}
	return nil
}
