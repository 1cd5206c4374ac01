package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Model produces class probabilities for a preprocessed image
type Model interface {
	// Ready reports whether the model is loaded and able to serve
	Ready(ctx context.Context) error
	Predict(ctx context.Context, input Tensor) ([]float32, error)
}

// ServingModel talks to a TensorFlow Serving REST endpoint
type ServingModel struct {
	BaseURL    string
	Name       string
	HTTPClient *http.Client
}

// NewServingModel returns a client for the named model on a TensorFlow Serving host
func NewServingModel(baseURL, name string) *ServingModel {
	return &ServingModel{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Name:    name,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ready checks the model status endpoint for an AVAILABLE version
func (m *ServingModel) Ready(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1/models/%s", m.BaseURL, url.PathEscape(m.Name))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model status returned %d: %s", resp.StatusCode, string(body))
	}

	var status struct {
		ModelVersionStatus []struct {
			Version string `json:"version"`
			State   string `json:"state"`
		} `json:"model_version_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode model status: %w", err)
	}

	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("model %s has no available version", m.Name)
}

// Predict runs one image through the model and returns its output vector
func (m *ServingModel) Predict(ctx context.Context, input Tensor) ([]float32, error) {
	endpoint := fmt.Sprintf("%s/v1/models/%s:predict", m.BaseURL, url.PathEscape(m.Name))

	requestBody, err := json.Marshal(map[string]interface{}{
		"instances": []Tensor{input},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send predict request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Predictions [][]float32 `json:"predictions"`
		Error       string      `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("model server error: %s", response.Error)
	}
	if len(response.Predictions) == 0 {
		return nil, fmt.Errorf("no predictions returned")
	}

	return response.Predictions[0], nil
}
