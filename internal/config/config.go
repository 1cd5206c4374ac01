// Package config gathers the process configuration from the environment.
//
// Values are read after godotenv has loaded an optional .env file, so any
// variable below can live in either place.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Ledger backends
const (
	LedgerChain  = "chain"
	LedgerSQLite = "sqlite"
)

// Config is the full runtime configuration
type Config struct {
	UploadDir string
	LogLevel  string

	// Ledger
	LedgerBackend string
	ContractFile  string
	SQLitePath    string
	RPCURL        string
	AdminKey      string
	SubmitterKey  string
	ProcessorKey  string
	LazyRoleGrant bool
	GasLimit      uint64

	// Classifier
	ModelServerURL string
	ModelName      string
	SpeciesFile    string

	// Advice
	LLMProvider    string
	LLMModel       string
	LLMTemperature float64

	QRURLTemplate string
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{
		UploadDir:     getenv("AYURTRACE_UPLOAD_DIR", "uploads"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LedgerBackend: strings.ToLower(getenv("AYURTRACE_LEDGER", LedgerChain)),
		ContractFile:  getenv("AYURTRACE_CONTRACT_FILE", "contract_details.json"),
		SQLitePath:    getenv("AYURTRACE_SQLITE_PATH", "ayurtrace.db"),
		RPCURL:        getenv("ETH_RPC_URL", "http://127.0.0.1:7545"),
		AdminKey:      os.Getenv("AYURTRACE_ADMIN_KEY"),
		SubmitterKey:  os.Getenv("AYURTRACE_SUBMITTER_KEY"),
		ProcessorKey:  os.Getenv("AYURTRACE_PROCESSOR_KEY"),

		ModelServerURL: getenv("MODEL_SERVER_URL", "http://localhost:8501"),
		ModelName:      getenv("MODEL_NAME", "herb_classifier"),
		SpeciesFile:    os.Getenv("SPECIES_FILE"),

		LLMProvider: strings.ToLower(getenv("LLM_PROVIDER", "ollama")),

		QRURLTemplate: getenv("QR_URL_TEMPLATE", "http://localhost:5173/trace/{id}"),
	}

	var err error
	if cfg.LazyRoleGrant, err = getbool("AYURTRACE_LAZY_ROLE_GRANT", false); err != nil {
		return nil, err
	}
	if cfg.GasLimit, err = getuint("AYURTRACE_GAS_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.LLMTemperature, err = getfloat("LLM_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	cfg.LLMModel = DefaultModel(cfg.LLMProvider)

	switch cfg.LedgerBackend {
	case LedgerChain, LedgerSQLite:
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.LedgerBackend)
	}

	// Single-key setups reuse the admin identity for every role
	if cfg.SubmitterKey == "" {
		cfg.SubmitterKey = cfg.AdminKey
	}
	if cfg.ProcessorKey == "" {
		cfg.ProcessorKey = cfg.AdminKey
	}

	return cfg, nil
}

// DefaultModel returns the model configured for an LLM provider
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return getenv("OPENAI_MODEL", "gpt-4o-mini")
	case "gemini":
		return getenv("GEMINI_MODEL", "gemini-1.5-flash")
	case "ollama":
		return getenv("OLLAMA_MODEL", "llama3")
	default:
		return ""
	}
}

// OllamaURL returns the base URL of the local Ollama server
func OllamaURL() string {
	if u := os.Getenv("OLLAMA_URL"); u != "" {
		return u
	}
	return getenv("OLLAMA_HOST", "http://localhost:11434")
}

// SlogLevel maps the configured level name onto a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getuint(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getfloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
