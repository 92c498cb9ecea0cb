package domain

import (
	"time"
)

// NoChangeHours is the sentinel stored in hour-valued snapshot fields when the
// corresponding transition never happened. Policy validation keeps every hour
// threshold below it so the sentinel can never satisfy a "<= threshold" check.
const NoChangeHours = 999.0

// Snapshot is the per-user feature record derived from an event history.
// It is pure data: the same events always produce the same snapshot.
type Snapshot struct {
	UserID     string    `json:"userId"`
	EndTime    time.Time `json:"endTime"`
	EventCount int       `json:"eventCount"`

	HoursSinceSimChange         float64 `json:"hoursSinceSimChange"`
	DeviceChangedAfterSim       bool    `json:"deviceChangedAfterSim"`
	HoursBetweenSimDeviceChange float64 `json:"hoursBetweenSimDeviceChange"`

	PreviousCity             string  `json:"previousCity"`
	CurrentCity              string  `json:"currentCity"`
	HoursSinceLocationChange float64 `json:"hoursSinceLocationChange"`

	FailedLogins24h     int  `json:"failedLogins24h"`
	IsRoaming           bool `json:"isRoaming"`
	CellTowerChanges24h int  `json:"cellTowerChanges24h"`

	PreviousDataUsageMB float64 `json:"previousDataUsageMb"`
	CurrentDataUsageMB  float64 `json:"currentDataUsageMb"`
	PreviousCalls24h    int     `json:"previousCalls24h"`
	CurrentCalls24h     int     `json:"currentCalls24h"`
	PreviousSMS24h      int     `json:"previousSms24h"`
	CurrentSMS24h       int     `json:"currentSms24h"`
}

// NewSnapshot returns the snapshot of a user with no events: every hour field
// holds the sentinel and every counter is zero.
func NewSnapshot(userID string) Snapshot {
	return Snapshot{
		UserID:                      userID,
		HoursSinceSimChange:         NoChangeHours,
		HoursBetweenSimDeviceChange: NoChangeHours,
		HoursSinceLocationChange:    NoChangeHours,
	}
}
