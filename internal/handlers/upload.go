package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayurtrace/ayurtrace/internal/ledger"
	"github.com/ayurtrace/ayurtrace/internal/models"
	"github.com/ayurtrace/ayurtrace/internal/storage"
)

// HandleSubmitHerb classifies an uploaded leaf image and records the origin
// on the ledger. Nothing is recorded unless every step succeeds.
func (h *Handler) HandleSubmitHerb(w http.ResponseWriter, r *http.Request) {
	if !h.requireLedger(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(storage.MaxUploadSize); err != nil {
		h.writeError(w, r, "Failed to parse form", fmt.Errorf("%w: %v", errInvalidInput, err))
		return
	}

	lat, err := parseCoordinate(r.FormValue("latitude"), "latitude", 90)
	if err != nil {
		h.writeError(w, r, "Invalid latitude", err)
		return
	}
	lon, err := parseCoordinate(r.FormValue("longitude"), "longitude", 180)
	if err != nil {
		h.writeError(w, r, "Invalid longitude", err)
		return
	}

	file, header, err := r.FormFile("image_file")
	if err != nil {
		h.writeError(w, r, "Failed to read file", fmt.Errorf("%w: %v", errInvalidInput, err))
		return
	}
	defer file.Close()

	data, err := h.uploads.Read(file)
	if err != nil {
		h.writeError(w, r, "Failed to read file", err)
		return
	}
	if _, err := h.uploads.Save(header.Filename, data); err != nil {
		h.writeError(w, r, "Failed to save image", err)
		return
	}

	pred, err := h.classifier.Classify(r.Context(), data)
	if err != nil {
		h.writeError(w, r, "Failed to classify image", err)
		return
	}

	receipt, err := h.ledger.AppendOrigin(r.Context(), ledger.OriginInput{
		Species:        pred.Label,
		Confidence:     models.ClampConfidence(pred.Confidence),
		LatitudeFixed:  models.ToFixed(lat),
		LongitudeFixed: models.ToFixed(lon),
	})
	if err != nil {
		h.writeError(w, r, "Failed to record herb on the ledger", err)
		return
	}

	h.writeSuccess(w, map[string]any{
		"message":         "Herb verified and recorded on the blockchain",
		"herb_id":         receipt.ID,
		"species":         pred.Label,
		"scientific_name": pred.ScientificName,
		"confidence":      pred.Confidence,
		"tx_hash":         receipt.TxHash,
	})
}

func parseCoordinate(raw, name string, limit float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", errInvalidInput, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", errInvalidInput, name, raw)
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("%w: %s %v out of range", errInvalidInput, name, v)
	}
	return v, nil
}
