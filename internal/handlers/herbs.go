package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayurtrace/ayurtrace/internal/ledger"
	"github.com/ayurtrace/ayurtrace/internal/models"
)

type dashboardEntry struct {
	ID              uint64  `json:"id"`
	Name            string  `json:"name"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	VerifiedSpecies string  `json:"verified_species"`
	ConfidenceScore uint8   `json:"confidence_score"`
	Timestamp       int64   `json:"timestamp"`
	Farmer          string  `json:"farmer"`
}

type traceOrigin struct {
	Name            string  `json:"name"`
	ScientificName  string  `json:"scientificName"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Timestamp       int64   `json:"timestamp"`
	ConfidenceScore uint8   `json:"confidenceScore"`
	Farmer          string  `json:"farmer"`
}

type traceStep struct {
	Action      string `json:"action"`
	BatchNumber string `json:"batchNumber"`
	Timestamp   int64  `json:"timestamp"`
	Processor   string `json:"processor"`
}

// HandleProcessHerb appends a processing step with a server-generated batch number
func (h *Handler) HandleProcessHerb(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w, r) {
		return
	}

	id, err := herbID(r)
	if err != nil {
		h.writeError(w, r, "Invalid herb id", err)
		return
	}
	action := strings.TrimSpace(r.FormValue("action"))
	if action == "" {
		h.writeError(w, r, "Action is required", errInvalidInput)
		return
	}

	// The ledger rejects unknown ids with ErrNotFound before sending anything
	batch := ledger.BatchNumber(id, h.clock())
	txHash, err := h.ledger.AppendProcessingStep(r.Context(), id, action, batch)
	if errors.Is(err, ledger.ErrNotFound) {
		h.writeLedgerReadError(w, r, id, err)
		return
	}
	if err != nil {
		h.writeError(w, r, "Failed to record processing step", err)
		return
	}

	h.writeSuccess(w, map[string]any{
		"message":      "Processing step recorded",
		"herb_id":      id,
		"batch_number": batch,
		"tx_hash":      txHash,
	})
}

// HandleDashboard lists every origin record in id order
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w, r) {
		return
	}

	records, err := ledger.ReadAll(r.Context(), h.ledger)
	if err != nil {
		h.writeError(w, r, "Failed to read herbs from the ledger", err)
		return
	}

	entries := make([]dashboardEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, dashboardEntry{
			ID:              rec.ID,
			Name:            rec.Species,
			Latitude:        rec.Latitude(),
			Longitude:       rec.Longitude(),
			VerifiedSpecies: h.scientificName(rec.Species),
			ConfidenceScore: rec.Confidence,
			Timestamp:       rec.Timestamp,
			Farmer:          rec.Submitter,
		})
	}

	h.writeSuccess(w, map[string]any{"data": entries})
}

// HandleTraceHerb returns one origin record and its ordered processing history
func (h *Handler) HandleTraceHerb(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w, r) {
		return
	}

	id, err := herbID(r)
	if err != nil {
		h.writeError(w, r, "Invalid herb id", err)
		return
	}

	origin, err := h.ledger.GetOrigin(r.Context(), id)
	if err != nil {
		h.writeLedgerReadError(w, r, id, err)
		return
	}
	history, err := h.ledger.GetProcessingHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to read processing history", err)
		return
	}

	steps := make([]traceStep, 0, len(history))
	for _, s := range history {
		steps = append(steps, traceStep(s))
	}

	h.writeSuccess(w, map[string]any{
		"data": map[string]any{
			"origin":            h.traceOrigin(origin),
			"processingHistory": steps,
		},
	})
}

func (h *Handler) traceOrigin(o models.OriginRecord) traceOrigin {
	return traceOrigin{
		Name:            o.Species,
		ScientificName:  h.scientificName(o.Species),
		Latitude:        o.Latitude(),
		Longitude:       o.Longitude(),
		Timestamp:       o.Timestamp,
		ConfidenceScore: o.Confidence,
		Farmer:          o.Submitter,
	}
}

func (h *Handler) scientificName(label string) string {
	if h.catalog == nil {
		return label
	}
	return h.catalog.ScientificName(label)
}

func (h *Handler) writeLedgerReadError(w http.ResponseWriter, r *http.Request, id uint64, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		h.writeError(w, r, fmt.Sprintf("Herb with ID %d not found", id), err)
		return
	}
	h.writeError(w, r, "Failed to read herb from the ledger", err)
}
