// Package qr renders trace links as QR code images.
package qr

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultTemplate points at the consumer trace page of the web client
const DefaultTemplate = "http://localhost:5173/trace/{id}"

// Size is the edge length of generated images in pixels
const Size = 256

// Encoder turns herb ids into PNG QR codes of a URL template
type Encoder struct {
	template string
}

// New returns an Encoder for template. Every "{id}" in the template is
// replaced by the herb id; an empty template selects DefaultTemplate.
func New(template string) (*Encoder, error) {
	if template == "" {
		template = DefaultTemplate
	}
	if !strings.Contains(template, "{id}") {
		return nil, fmt.Errorf("QR URL template %q has no {id} placeholder", template)
	}
	return &Encoder{template: template}, nil
}

// URL returns the link encoded for id
func (e *Encoder) URL(id uint64) string {
	return strings.ReplaceAll(e.template, "{id}", fmt.Sprint(id))
}

// Encode returns the PNG QR code for id
func (e *Encoder) Encode(id uint64) ([]byte, error) {
	png, err := qrcode.Encode(e.URL(id), qrcode.Medium, Size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
