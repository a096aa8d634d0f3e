package storage

import (
	"errors"
	"time"

	"github.com/dexterai/traingen/internal/example"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Record is one training example as queued for persistence. The scenario and
// reasoning payloads travel as serialized JSON so the write path never has to
// re-marshal under load.
type Record struct {
	ScenarioID       string
	ScenarioJSON     string
	ReasoningJSON    string
	ValidationStatus string // example.StatusValid or example.StatusInvalid
	ValidationError  string
}

// StoredExample is a persisted training example row.
type StoredExample struct {
	ID               int64     `json:"id"`
	ScenarioID       string    `json:"scenario_id"`
	ScenarioJSON     string    `json:"scenario_json"`
	ReasoningJSON    string    `json:"reasoning_json"`
	ValidationStatus string    `json:"validation_status"`
	ValidationError  string    `json:"validation_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Pair is a decoded scenario/reasoning pairing, the unit the exporter works
// with.
type Pair struct {
	Scenario  *example.Scenario  `json:"scenario"`
	Reasoning *example.Reasoning `json:"reasoning"`
}

// Stats summarizes the validation breakdown of the stored dataset.
type Stats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}
