// Package classifier identifies herb species from leaf photographs.
//
// The network itself lives behind a model server; this package owns image
// preprocessing, the label catalog and the mapping from the output vector to a
// species and confidence percentage.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

var (
	// ErrModelUnavailable is returned for every call when the model failed to load at startup
	ErrModelUnavailable = errors.New("classifier model is not loaded")
	// ErrUndecodableImage is returned when the uploaded bytes are not an image
	ErrUndecodableImage = errors.New("image could not be decoded")
)

// Prediction is the classifier's answer for one image
type Prediction struct {
	Label          string  `json:"label"`
	ScientificName string  `json:"scientific_name,omitempty"`
	Confidence     int     `json:"confidence"`
	Probability    float64 `json:"probability"`
}

// Classifier maps image bytes to a species prediction
type Classifier struct {
	model   Model
	catalog *Catalog
	loadErr error
}

// New probes the model once and returns a classifier. A failed probe does not
// return an error; the classifier is built unavailable and reports
// ErrModelUnavailable per call instead.
func New(ctx context.Context, model Model, catalog *Catalog) *Classifier {
	c := &Classifier{model: model, catalog: catalog}
	switch {
	case catalog == nil:
		c.loadErr = errors.New("no species catalog")
	case model == nil:
		c.loadErr = errors.New("no model configured")
	default:
		c.loadErr = model.Ready(ctx)
	}

	if c.loadErr != nil {
		slog.Error("Classifier unavailable", "err", c.loadErr)
	} else {
		slog.Info("Classifier ready", "classes", catalog.Len())
	}
	return c
}

// Unavailable returns a classifier that fails every call with cause
func Unavailable(cause error) *Classifier {
	return &Classifier{loadErr: cause}
}

// Available reports whether the model loaded at startup
func (c *Classifier) Available() bool {
	return c.loadErr == nil
}

// Catalog returns the label set, or nil for an unavailable classifier
func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

// Classify decodes the image and returns the most probable species
func (c *Classifier) Classify(ctx context.Context, data []byte) (Prediction, error) {
	if c.loadErr != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrModelUnavailable, c.loadErr)
	}

	input, err := Preprocess(data)
	if err != nil {
		return Prediction{}, err
	}

	probs, err := c.model.Predict(ctx, input)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to run model: %w", err)
	}
	if len(probs) != c.catalog.Len() {
		return Prediction{}, fmt.Errorf("model returned %d outputs for %d species", len(probs), c.catalog.Len())
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	p := float64(probs[best])
	confidence := int(math.Round(p * 100))
	if confidence < 0 {
		confidence = 0
	} else if confidence > 100 {
		confidence = 100
	}

	species := c.catalog.Species[best]
	slog.Debug("Classified image", "label", species.Label, "confidence", confidence)

	return Prediction{
		Label:          species.Label,
		ScientificName: species.ScientificName,
		Confidence:     confidence,
		Probability:    p,
	}, nil
}
