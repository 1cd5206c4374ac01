package handlers

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/ayurtrace/ayurtrace/internal/advice"
)

// parseQuery reads question, herb_name and location from a JSON body, a form
// or the query string
func parseQuery(r *http.Request) (advice.Query, error) {
	var q advice.Query

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			return q, fmt.Errorf("%w: invalid JSON: %v", errInvalidInput, err)
		}
	} else {
		q = advice.Query{
			Herb:     r.FormValue("herb_name"),
			Question: r.FormValue("question"),
			Location: r.FormValue("location"),
		}
	}

	q.Herb = strings.TrimSpace(q.Herb)
	q.Question = strings.TrimSpace(q.Question)
	q.Location = strings.TrimSpace(q.Location)
	if q.Question == "" {
		return q, advice.ErrMissingQuestion
	}
	return q, nil
}

// HandleFarmerAdvice answers a grower's question
func (h *Handler) HandleFarmerAdvice(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.writeError(w, r, "Invalid question", err)
		return
	}

	reply, err := h.advice.FarmerAdvice(r.Context(), q)
	if err != nil {
		h.writeError(w, r, "Failed to generate advice", err)
		return
	}
	h.writeSuccess(w, map[string]any{"advice": reply})
}

// HandleConsumerChat answers a consumer's question
func (h *Handler) HandleConsumerChat(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.writeError(w, r, "Invalid question", err)
		return
	}

	reply, err := h.advice.ConsumerChat(r.Context(), q)
	if err != nil {
		h.writeError(w, r, "Failed to generate reply", err)
		return
	}
	h.writeSuccess(w, map[string]any{"reply": reply})
}

// HandleLLMQuery returns a structured answer
func (h *Handler) HandleLLMQuery(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.writeError(w, r, "Invalid question", err)
		return
	}

	answer, err := h.advice.Query(r.Context(), q)
	if err != nil {
		h.writeError(w, r, "Failed to answer question", err)
		return
	}
	h.writeSuccess(w, map[string]any{"data": answer})
}
