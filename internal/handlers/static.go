package handlers

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// HandleGenerateQR returns a PNG QR code linking to the trace page of a herb
func (h *Handler) HandleGenerateQR(w http.ResponseWriter, r *http.Request) {
	id, err := herbID(r)
	if err != nil {
		h.writeError(w, r, "Invalid herb id", err)
		return
	}

	png, err := h.qr.Encode(id)
	if err != nil {
		h.writeError(w, r, "Failed to generate QR code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		slog.Error("Unable to write QR code", "err", err)
	}
}

// HandleUpload serves a previously submitted image
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	// Prevent directory traversal attacks
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	http.ServeFile(w, r, filepath.Join(h.uploads.Dir(), name))
}

// HandleHealthcheck reports liveness plus which optional components are usable
func (h *Handler) HandleHealthcheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"status":     "OK",
		"classifier": h.classifier != nil && h.classifier.Available(),
		"ledger":     h.ledger != nil,
		"advice":     h.advice != nil,
	})
}
