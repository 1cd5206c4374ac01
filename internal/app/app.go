// Package app wires configuration into the running components.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/ayurtrace/ayurtrace/internal/advice"
	"github.com/ayurtrace/ayurtrace/internal/classifier"
	"github.com/ayurtrace/ayurtrace/internal/config"
	"github.com/ayurtrace/ayurtrace/internal/handlers"
	"github.com/ayurtrace/ayurtrace/internal/ledger"
	"github.com/ayurtrace/ayurtrace/internal/qr"
	"github.com/ayurtrace/ayurtrace/internal/storage"
)

// App holds the long-lived components of the server
type App struct {
	Classifier *classifier.Classifier
	Catalog    *classifier.Catalog
	// Ledger is nil when no contract descriptor was found
	Ledger  ledger.Ledger
	Advice  *advice.Service
	Uploads *storage.UploadStore
	QR      *qr.Encoder
}

// New builds every component from cfg. Missing optional dependencies (model
// server, contract descriptor, ledger node) degrade the matching routes instead
// of failing.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := NewAdvice(cfg)
	if err != nil {
		return nil, err
	}

	enc, err := qr.New(cfg.QRURLTemplate)
	if err != nil {
		return nil, err
	}

	l, err := OpenLedger(ctx, cfg)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("Contract descriptor not found, ledger routes disabled", "path", cfg.ContractFile)
	case errors.Is(err, ledger.ErrUnavailable):
		slog.Warn("Ledger node unreachable, ledger routes disabled", "rpc", cfg.RPCURL, "err", err)
	default:
		return nil, err
	}

	a := &App{
		Classifier: NewClassifier(ctx, cfg, catalog),
		Catalog:    catalog,
		Ledger:     l,
		Advice:     svc,
		Uploads:    storage.New(cfg.UploadDir),
		QR:         enc,
	}

	if a.Ledger != nil {
		a.checkProcessorRole(ctx)
	}
	return a, nil
}

// Handler returns the HTTP routes bound to the app's components
func (a *App) Handler() http.Handler {
	return handlers.New(handlers.Deps{
		Classifier: a.Classifier,
		Catalog:    a.Catalog,
		Ledger:     a.Ledger,
		Advice:     a.Advice,
		Uploads:    a.Uploads,
		QR:         a.QR,
	}).Routes()
}

// Close releases the ledger connection
func (a *App) Close() error {
	if a.Ledger == nil {
		return nil
	}
	return a.Ledger.Close()
}

func (a *App) checkProcessorRole(ctx context.Context) {
	has, err := a.Ledger.HasProcessorRole(ctx)
	switch {
	case err != nil:
		slog.Warn("Unable to check processor role", "err", err)
	case !has:
		slog.Warn("Processor identity lacks the processor role; run `ayurtrace roles grant` before recording processing steps")
	}
}

// LoadCatalog returns the species catalog, from SPECIES_FILE when set
func LoadCatalog(cfg *config.Config) (*classifier.Catalog, error) {
	if cfg.SpeciesFile != "" {
		return classifier.LoadCatalog(cfg.SpeciesFile)
	}
	return classifier.DefaultCatalog()
}

// NewClassifier binds the classifier to the configured model server
func NewClassifier(ctx context.Context, cfg *config.Config, catalog *classifier.Catalog) *classifier.Classifier {
	return classifier.New(ctx, classifier.NewServingModel(cfg.ModelServerURL, cfg.ModelName), catalog)
}

// NewAdvice builds the advice service for the configured LLM provider
func NewAdvice(cfg *config.Config) (*advice.Service, error) {
	provider, err := advice.NewProvider(cfg.LLMProvider, config.OllamaURL())
	if err != nil {
		return nil, err
	}
	return advice.NewService(provider, cfg.LLMModel, cfg.LLMTemperature)
}

// OpenLedger opens the configured ledger backend. For the chain backend a
// missing descriptor file is reported as an error matching fs.ErrNotExist.
func OpenLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.LedgerBackend {
	case config.LedgerSQLite:
		s, err := ledger.OpenSQLite(ctx, ledger.SQLiteOptions{
			Path:          cfg.SQLitePath,
			SubmitterKey:  cfg.SubmitterKey,
			ProcessorKey:  cfg.ProcessorKey,
			LazyRoleGrant: cfg.LazyRoleGrant,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.LedgerChain:
		d, err := ledger.LoadDescriptor(cfg.ContractFile)
		if err != nil {
			return nil, err
		}
		c, err := ledger.DialChain(ctx, ledger.ChainOptions{
			RPCURL:        cfg.RPCURL,
			Descriptor:    d,
			AdminKey:      cfg.AdminKey,
			SubmitterKey:  cfg.SubmitterKey,
			ProcessorKey:  cfg.ProcessorKey,
			LazyRoleGrant: cfg.LazyRoleGrant,
			GasLimit:      cfg.GasLimit,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.LedgerBackend)
	}
}
