package domain

import (
	"time"
)

// LoginStatus is the outcome of a login attempt attached to an activity event.
type LoginStatus string

const (
	LoginSuccess LoginStatus = "success"
	LoginFailed  LoginStatus = "failed"
)

// Event is one row of telecom activity for a subscriber.
// Telemetry fields (roaming, tower, usage counters) are optional and zero when absent.
type Event struct {
	Timestamp   time.Time   `json:"timestamp"`
	UserID      string      `json:"userId"`
	SimID       string      `json:"simId"`
	DeviceID    string      `json:"deviceId"`
	Location    string      `json:"location"`
	IP          string      `json:"ip,omitempty"`
	LoginStatus LoginStatus `json:"loginStatus"`

	IsRoaming   bool    `json:"isRoaming,omitempty"`
	CellTowerID string  `json:"cellTowerId,omitempty"`
	DataUsageMB float64 `json:"dataUsageMb,omitempty"`
	CallCount   int     `json:"callCount,omitempty"`
	SMSCount    int     `json:"smsCount,omitempty"`

	// TimestampDefaulted is set by the input adapter when the source
	// timestamp could not be parsed and "now" was substituted.
	TimestampDefaulted bool `json:"timestampDefaulted,omitempty"`
}

// Failed reports whether the event records a failed login.
func (e *Event) Failed() bool {
	return e.LoginStatus == LoginFailed
}

// EventRequest is the API payload for scoring a single subscriber.
type EventRequest struct {
	UserID string  `json:"userId" validate:"required"`
	Events []Event `json:"events" validate:"required,min=1"`
}
