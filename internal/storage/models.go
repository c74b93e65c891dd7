package storage

import (
	"encoding/json"
	"time"
)

// SensorState is the last value published for one sensor of one entry.
// Only the latest state is kept; rows are overwritten on every publish.
type SensorState struct {
	Entry      string
	SensorKey  string
	State      *string
	Available  bool
	Attributes json.RawMessage
	ObservedAt time.Time
	UpdatedAt  time.Time
}
