package parking

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionApproaching Direction = "approaching"
	DirectionLeaving     Direction = "leaving"
	DirectionUnknown     Direction = "unknown"
)

// PlateRead is a single recognized plate handed over by a camera or recognizer.
type PlateRead struct {
	CameraID    string                 `json:"camera_id"`
	Source      string                 `json:"source,omitempty"`
	Plate       string                 `json:"plate"`
	Confidence  float64                `json:"confidence"`
	Direction   Direction              `json:"direction,omitempty"`
	EventTime   time.Time              `json:"event_time"`
	SnapshotURL string                 `json:"snapshot_url,omitempty"`
	RawPayload  map[string]interface{} `json:"raw_payload,omitempty"`
}

type DecisionKind string

const (
	DecisionEntry              DecisionKind = "entry"
	DecisionExit               DecisionKind = "exit"
	DecisionDeniedUnregistered DecisionKind = "denied_unregistered"
	DecisionDeniedBlocked      DecisionKind = "denied_blocked"
	DecisionDeniedFull         DecisionKind = "denied_full"
	DecisionIgnoredInvalid     DecisionKind = "ignored_invalid"
	DecisionIgnoredDebounced   DecisionKind = "ignored_debounced"
)

// Ignored reports decisions that are neither persisted nor shown on the dashboard.
func (k DecisionKind) Ignored() bool {
	return k == DecisionIgnoredInvalid || k == DecisionIgnoredDebounced
}

func (k DecisionKind) OpensGate() bool {
	return k == DecisionEntry || k == DecisionExit
}

func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionEntry, DecisionExit, DecisionDeniedUnregistered, DecisionDeniedBlocked,
		DecisionDeniedFull, DecisionIgnoredInvalid, DecisionIgnoredDebounced:
		return true
	}
	return false
}

type Decision struct {
	EventID     *uuid.UUID   `json:"event_id,omitempty"`
	Plate       string       `json:"plate"`
	Kind        DecisionKind `json:"decision"`
	Slot        *int         `json:"slot,omitempty"`
	OwnerName   string       `json:"owner_name,omitempty"`
	GateOpen    bool         `json:"gate_opened"`
	SnapshotURL string       `json:"snapshot_url,omitempty"`
	EventTime   time.Time    `json:"event_time"`
}

type Vehicle struct {
	Plate       string    `json:"number_plate"`
	OwnerName   string    `json:"owner_name"`
	VehicleType string    `json:"vehicle_type"`
	Allowed     bool      `json:"allowed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type VehicleInput struct {
	Plate       string `json:"number_plate"`
	OwnerName   string `json:"owner_name"`
	VehicleType string `json:"vehicle_type"`
	Allowed     *bool  `json:"allowed,omitempty"`
}

type Slot struct {
	Number     int        `json:"slot_number"`
	Plate      *string    `json:"number_plate,omitempty"`
	OwnerName  *string    `json:"owner_name,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

func (s Slot) Occupied() bool {
	return s.Plate != nil && *s.Plate != ""
}

// VehicleRow and SlotRow mirror the two dashboard tables.
type VehicleRow struct {
	Index       int    `json:"number"`
	Plate       string `json:"plate"`
	OwnerName   string `json:"owner"`
	VehicleType string `json:"type"`
	Allowed     bool   `json:"allowed"`
}

type SlotRow struct {
	Slot      int    `json:"slot"`
	Plate     string `json:"plate"`
	OwnerName string `json:"owner"`
}

type Dashboard struct {
	Vehicles      []VehicleRow `json:"vehicles"`
	Slots         []SlotRow    `json:"slots"`
	TotalSlots    int          `json:"total_slots"`
	OccupiedSlots int          `json:"occupied_slots"`
	FreeSlots     int          `json:"free_slots"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

type Event struct {
	ID              uuid.UUID
	CameraID        string
	Source          string
	RawPlate        string
	NormalizedPlate string
	Confidence      float64
	Direction       Direction
	Decision        DecisionKind
	SlotNumber      *int
	OwnerName       string
	SnapshotURL     string
	RawPayload      map[string]interface{}
	EventTime       time.Time
}

type EventFilter struct {
	Plate    *string
	Decision *DecisionKind
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
