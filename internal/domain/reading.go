package domain

import "fmt"

// Reading is the normalized unit every input format is reduced to.
type Reading struct {
	Timestamp int64   `json:"ts"`
	SensorID  string  `json:"sensor_id"`
	Value     float64 `json:"value"`
}

// String renders the reading the way debug files and the inspect command show it.
func (r Reading) String() string {
	return fmt.Sprintf("(%d, %q, %g)", r.Timestamp, r.SensorID, r.Value)
}

// DestinationID names one downstream delivery target.
type DestinationID string

// Batch is a flushed buffer handed to the delivery subsystem.
type Batch struct {
	ID          string        `json:"id"`
	Destination DestinationID `json:"destination"`
	Readings    []Reading     `json:"readings"`
}
