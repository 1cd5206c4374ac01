package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ayurtrace/ayurtrace/internal/advice"
	"github.com/ayurtrace/ayurtrace/internal/classifier"
	"github.com/ayurtrace/ayurtrace/internal/ledger"
	"github.com/ayurtrace/ayurtrace/internal/qr"
	"github.com/ayurtrace/ayurtrace/internal/storage"
)

// Classifier predicts the species in an image
type Classifier interface {
	Classify(ctx context.Context, data []byte) (classifier.Prediction, error)
	Available() bool
}

// Advisor answers herb questions with an LLM
type Advisor interface {
	FarmerAdvice(ctx context.Context, q advice.Query) (string, error)
	ConsumerChat(ctx context.Context, q advice.Query) (string, error)
	Query(ctx context.Context, q advice.Query) (*advice.Answer, error)
}

// Deps are the components the handlers compose. Ledger is nil when no
// contract has been deployed; ledger routes then answer with an error body.
type Deps struct {
	Classifier Classifier
	Catalog    *classifier.Catalog
	Ledger     ledger.Ledger
	Advice     Advisor
	Uploads    *storage.UploadStore
	QR         *qr.Encoder
	Clock      func() time.Time
}

type Handler struct {
	classifier Classifier
	catalog    *classifier.Catalog
	ledger     ledger.Ledger
	advice     Advisor
	uploads    *storage.UploadStore
	qr         *qr.Encoder
	clock      func() time.Time
}

func New(deps Deps) *Handler {
	h := &Handler{
		classifier: deps.Classifier,
		catalog:    deps.Catalog,
		ledger:     deps.Ledger,
		advice:     deps.Advice,
		uploads:    deps.Uploads,
		qr:         deps.QR,
		clock:      deps.Clock,
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	return h
}

// Routes registers every endpoint on a new mux wrapped in request logging
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit_herb/{$}", h.HandleSubmitHerb)
	mux.HandleFunc("POST /process_herb/{id}", h.HandleProcessHerb)
	mux.HandleFunc("GET /dashboard/{$}", h.HandleDashboard)
	mux.HandleFunc("GET /trace_herb/{id}", h.HandleTraceHerb)
	mux.HandleFunc("GET /generate_qr/{id}", h.HandleGenerateQR)
	mux.HandleFunc("GET /uploads/{name}", h.HandleUpload)
	mux.HandleFunc("POST /farmer_advice/{$}", h.HandleFarmerAdvice)
	mux.HandleFunc("POST /consumer_chat/{$}", h.HandleConsumerChat)
	mux.HandleFunc("GET /llm_query/{$}", h.HandleLLMQuery)
	mux.HandleFunc("POST /llm_query/{$}", h.HandleLLMQuery)
	mux.HandleFunc("GET /healthcheck", h.HandleHealthcheck)
	return withRequestLog(mux)
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeSuccess(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	h.writeJSON(w, body)
}

// writeError reports a failure in the body. Failures never change the HTTP
// status; clients inspect "status".
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	kind := errorKind(err)
	text := message
	if err != nil {
		text = message + ": " + err.Error()
	}
	slog.Error(message, "err", err, "kind", kind, "path", r.URL.Path, "request_id", requestID(r.Context()))
	h.writeJSON(w, map[string]any{
		"status":  "error",
		"kind":    kind,
		"message": text,
	})
}

var errInvalidInput = errors.New("invalid input")

// errorKind maps an error onto the failure taxonomy reported to clients
func errorKind(err error) string {
	switch {
	case err == nil:
		return "error"
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, classifier.ErrModelUnavailable):
		return "unavailable"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, errInvalidInput),
		errors.Is(err, classifier.ErrUndecodableImage),
		errors.Is(err, storage.ErrNotImage),
		errors.Is(err, storage.ErrTooLarge),
		errors.Is(err, storage.ErrBadFilename),
		errors.Is(err, advice.ErrMissingQuestion),
		errors.Is(err, advice.ErrMalformedResponse):
		return "invalid_input"
	case errors.Is(err, ledger.ErrReverted),
		errors.Is(err, ledger.ErrNotProcessor),
		errors.Is(err, ledger.ErrNoIdentity):
		return "transaction_failed"
	default:
		return "error"
	}
}

// herbID parses the {id} path segment
func herbID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: herb id %q", errInvalidInput, raw)
	}
	return id, nil
}

// requireLedger reports ledger.ErrUnavailable when no ledger is configured
func (h *Handler) requireLedger(w http.ResponseWriter, r *http.Request) bool {
	if h.ledger == nil {
		h.writeError(w, r, "Blockchain ledger is not configured", ledger.ErrUnavailable)
		return false
	}
	return true
}
