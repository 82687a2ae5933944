package storage

import (
	"time"
)

// Config configures the telemetry mirror.
//
// Driver values:
//   - "file": dependency-free file backend (JSON Lines)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and the controller
// runs on its in-memory ledgers alone.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// RetainReadings bounds how far back sensor rows are kept.
	// Zero means 30 days.
	RetainReadings time.Duration
}

// DoseRow mirrors one dose event. Keep it compact and schema-stable.
type DoseRow struct {
	At           time.Time `json:"at"`
	PumpID       string    `json:"pump"`
	AmountMl     float64   `json:"amount_ml"`
	Reason       string    `json:"reason"`
	CurrentValue float64   `json:"current_value"`
	TargetValue  float64   `json:"target_value"`
	Product      string    `json:"product,omitempty"`
}

// ReadingRow mirrors one validated sensor sample.
type ReadingRow struct {
	At            time.Time `json:"at"`
	PH            float64   `json:"ph"`
	EC            float64   `json:"ec"`
	WaterTemp     float64   `json:"water_temp"`
	PHSubstituted bool      `json:"ph_substituted,omitempty"`
	ECSubstituted bool      `json:"ec_substituted,omitempty"`
}
