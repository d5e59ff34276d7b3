package db

import (
	"time"
)

// Event is the row image of a stored telemetry event. EventID is the
// idempotency key; exactly one of ValueNum/ValueText is set when the device
// supplied a value. TsDevice is always an absolute UTC instant.
type Event struct {
	EventID   string
	DeviceID  string
	Schema    int
	EventType string
	ValueNum  *float64
	ValueText *string
	Unit      *string
	TsDevice  *time.Time
	Meta      map[string]interface{}
}
