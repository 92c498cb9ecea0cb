// Package features derives per-user feature snapshots from activity events.
package features

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/geo"
)

// Window is the look-back used by the rolling counters (failed logins,
// tower changes, current usage). An event exactly Window before the end time
// is inside it. Previous usage covers the Window before that, down to and
// including End-2*Window.
const Window = 24 * time.Hour

// ErrUnorderableTimestamp is returned when an event has no usable timestamp.
var ErrUnorderableTimestamp = errors.New("event timestamp cannot be ordered")

// Aggregator builds snapshots in a single forward pass over a user's events.
// It holds no mutable state and is safe for concurrent use.
type Aggregator struct {
	deviceWindow time.Duration
}

// NewAggregator creates an aggregator using the policy's device-change window.
func NewAggregator(t domain.Thresholds) *Aggregator {
	return &Aggregator{
		deviceWindow: time.Duration(t.DeviceChangeWindowHours * float64(time.Hour)),
	}
}

// Aggregate computes the feature snapshot for one user. The input slice is
// not modified. An empty history yields the default snapshot.
func (a *Aggregator) Aggregate(userID string, events []domain.Event) (domain.Snapshot, error) {
	snap := domain.NewSnapshot(userID)
	if len(events) == 0 {
		return snap, nil
	}

	for i := range events {
		if events[i].Timestamp.IsZero() {
			return snap, fmt.Errorf("event %d for user %s: %w", i, userID, ErrUnorderableTimestamp)
		}
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(x, y domain.Event) int {
		return x.Timestamp.Compare(y.Timestamp)
	})

	end := sorted[len(sorted)-1].Timestamp
	snap.EndTime = end
	snap.EventCount = len(sorted)

	var (
		lastSim, lastDevice, lastTower string
		lastCity, lastCityKey          string
		simChangeAt, cityChangeAt      time.Time
		haveSimChange, haveCityChange  bool
		prevCity, curCity              string
	)

	for i := range sorted {
		e := &sorted[i]
		age := end.Sub(e.Timestamp)

		if e.SimID != "" {
			if lastSim != "" && e.SimID != lastSim {
				haveSimChange = true
				simChangeAt = e.Timestamp
				// Device tracking is relative to the most recent SIM change.
				snap.DeviceChangedAfterSim = false
				snap.HoursBetweenSimDeviceChange = domain.NoChangeHours
			}
			lastSim = e.SimID
		}

		if e.DeviceID != "" {
			if lastDevice != "" && e.DeviceID != lastDevice && haveSimChange {
				gap := e.Timestamp.Sub(simChangeAt)
				if gap <= a.deviceWindow {
					snap.DeviceChangedAfterSim = true
					if h := gap.Hours(); h < snap.HoursBetweenSimDeviceChange {
						snap.HoursBetweenSimDeviceChange = h
					}
				}
			}
			lastDevice = e.DeviceID
		}

		if key := geo.Normalize(e.Location); key != "" {
			if lastCityKey != "" && key != lastCityKey {
				haveCityChange = true
				cityChangeAt = e.Timestamp
				prevCity, curCity = lastCity, cleanCity(e.Location)
			}
			lastCity, lastCityKey = cleanCity(e.Location), key
		}

		if e.Failed() && age <= Window {
			snap.FailedLogins24h++
		}

		if e.IsRoaming {
			snap.IsRoaming = true
		}

		if e.CellTowerID != "" {
			if lastTower != "" && e.CellTowerID != lastTower && age <= Window {
				snap.CellTowerChanges24h++
			}
			lastTower = e.CellTowerID
		}

		switch {
		case age <= Window:
			snap.CurrentDataUsageMB += e.DataUsageMB
			snap.CurrentCalls24h += e.CallCount
			snap.CurrentSMS24h += e.SMSCount
		case age <= 2*Window:
			snap.PreviousDataUsageMB += e.DataUsageMB
			snap.PreviousCalls24h += e.CallCount
			snap.PreviousSMS24h += e.SMSCount
		}
	}

	if haveSimChange {
		snap.HoursSinceSimChange = end.Sub(simChangeAt).Hours()
	}

	if haveCityChange {
		snap.PreviousCity = prevCity
		snap.CurrentCity = curCity
		snap.HoursSinceLocationChange = end.Sub(cityChangeAt).Hours()
	} else {
		snap.PreviousCity = lastCity
		snap.CurrentCity = lastCity
	}

	return snap, nil
}

// cleanCity collapses whitespace but keeps the original spelling for display.
func cleanCity(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
