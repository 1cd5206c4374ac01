package models

import "math"

// CoordinateScale is the fixed-point factor used for latitude/longitude on the ledger.
const CoordinateScale = 1_000_000

// OriginRecord represents the immutable provenance entry created at submission time
type OriginRecord struct {
	ID             uint64 `json:"id"`
	Species        string `json:"species"`
	Confidence     uint8  `json:"confidence"`
	LatitudeFixed  int64  `json:"latitude_fixed"`
	LongitudeFixed int64  `json:"longitude_fixed"`
	Timestamp      int64  `json:"timestamp"`
	Submitter      string `json:"submitter"`
}

// Latitude returns the latitude in degrees
func (o OriginRecord) Latitude() float64 {
	return FromFixed(o.LatitudeFixed)
}

// Longitude returns the longitude in degrees
func (o OriginRecord) Longitude() float64 {
	return FromFixed(o.LongitudeFixed)
}

// ProcessingStep represents one append-only handling event attached to an origin record
type ProcessingStep struct {
	Action      string `json:"action"`
	BatchNumber string `json:"batch_number"`
	Timestamp   int64  `json:"timestamp"`
	Processor   string `json:"processor"`
}

// Trace is an origin record plus its ordered processing history
type Trace struct {
	Origin  OriginRecord     `json:"origin"`
	History []ProcessingStep `json:"history"`
}

// ToFixed converts degrees to the ledger's fixed-point representation
func ToFixed(deg float64) int64 {
	return int64(math.Round(deg * CoordinateScale))
}

// FromFixed converts a fixed-point coordinate back to degrees
func FromFixed(v int64) float64 {
	return float64(v) / CoordinateScale
}

// ClampConfidence bounds a confidence percentage to [0,100]
func ClampConfidence(c int) uint8 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return uint8(c)
	}
}
