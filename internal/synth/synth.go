// Package synth generates labeled activity logs for exercising the detector.
// Legitimate users keep one SIM, device and city with stable usage;
// suspicious users follow one of the SIM-swap scenarios below.
package synth

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
)

// Scenario names the behaviour a generated user follows.
type Scenario string

const (
	ScenarioNormal         Scenario = "normal"
	ScenarioFullSwap       Scenario = "full_sim_swap"
	ScenarioDeviceChange   Scenario = "sim_swap_with_device_change"
	ScenarioLocationChange Scenario = "sim_swap_with_location_change"
	ScenarioRoaming        Scenario = "sim_swap_with_roaming"
	ScenarioFailedLogins   Scenario = "sim_swap_with_failed_logins"
)

// SwapScenarios lists the suspicious scenarios in generation order.
var SwapScenarios = []Scenario{
	ScenarioFullSwap,
	ScenarioDeviceChange,
	ScenarioLocationChange,
	ScenarioRoaming,
	ScenarioFailedLogins,
}

// Cities are the locations users are placed in.
var Cities = []string{
	"Colombo", "Gampaha", "Kalutara", "Kandy", "Matale", "Galle", "Matara",
	"Hambantota", "Jaffna", "Batticaloa", "Trincomalee", "Kurunegala",
	"Anuradhapura", "Polonnaruwa", "Badulla", "Ratnapura",
}

// Label is the ground truth for one generated user.
type Label struct {
	UserID     string   `json:"userId"`
	Scenario   Scenario `json:"scenario"`
	Suspicious bool     `json:"suspicious"`
}

// Options controls dataset generation.
type Options struct {
	Legitimate int
	Suspicious int

	// Seed makes the output reproducible.
	Seed uint64

	// End is the timestamp of each user's last event. Zero means now,
	// truncated to the minute.
	End time.Time
}

// Dataset is a generated activity log with its labels.
type Dataset struct {
	Events []domain.Event
	Labels []Label
}

// Label returns the ground truth for a user.
func (d *Dataset) Label(userID string) (Label, bool) {
	for _, l := range d.Labels {
		if l.UserID == userID {
			return l, true
		}
	}
	return Label{}, false
}

// Generate builds a dataset. Users are shuffled so labels are not implied
// by position.
func Generate(opts Options) *Dataset {
	end := opts.End
	if end.IsZero() {
		end = time.Now().UTC().Truncate(time.Minute)
	}

	g := &generator{
		rng: rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5157a9)),
		end: end,
	}

	total := opts.Legitimate + opts.Suspicious
	scenarios := make([]Scenario, 0, total)
	for range opts.Legitimate {
		scenarios = append(scenarios, ScenarioNormal)
	}
	for range opts.Suspicious {
		scenarios = append(scenarios, SwapScenarios[g.rng.IntN(len(SwapScenarios))])
	}
	g.rng.Shuffle(len(scenarios), func(i, j int) {
		scenarios[i], scenarios[j] = scenarios[j], scenarios[i]
	})

	ds := &Dataset{
		Events: make([]domain.Event, 0, total*10),
		Labels: make([]Label, 0, total),
	}
	for i, sc := range scenarios {
		userID := fmt.Sprintf("USER_%04d", i+1)
		ds.Events = append(ds.Events, g.user(userID, g.profile(sc))...)
		ds.Labels = append(ds.Labels, Label{
			UserID:     userID,
			Scenario:   sc,
			Suspicious: sc != ScenarioNormal,
		})
	}

	return ds
}

// profile is the target feature shape of one user.
type profile struct {
	swap          bool
	hoursSinceSim float64

	deviceChange bool
	deviceGap    float64 // hours after the swap

	prevCity, curCity string
	hoursSinceMove    float64

	towerChanges int

	prevData, curData   float64
	prevCalls, curCalls int
	prevSMS, curSMS     int

	failedLogins int
	roaming      bool
}

type generator struct {
	rng *rand.Rand
	end time.Time
}

func (g *generator) between(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *generator) city() string {
	return Cities[g.rng.IntN(len(Cities))]
}

func (g *generator) otherCity(not string) string {
	for {
		if c := g.city(); c != not {
			return c
		}
	}
}

func (g *generator) profile(sc Scenario) profile {
	var p profile

	switch sc {
	case ScenarioFullSwap:
		p = profile{
			swap:          true,
			hoursSinceSim: float64(g.between(1, 48)),
			deviceChange:  true,
			deviceGap:     float64(g.between(1, 24)),
			towerChanges:  g.between(8, 20),
			prevData:      float64(g.between(1000, 2000)),
			curData:       float64(g.between(3000, 8000)),
			prevCalls:     g.between(10, 20),
			curCalls:      g.between(50, 100),
			prevSMS:       g.between(20, 40),
			curSMS:        g.between(100, 200),
			failedLogins:  g.between(5, 15),
		}
		p.prevCity = g.city()
		p.curCity = g.otherCity(p.prevCity)
		p.hoursSinceMove = g.uniform(0.5, 2)

	case ScenarioDeviceChange:
		p = profile{
			swap:          true,
			hoursSinceSim: float64(g.between(1, 36)),
			deviceChange:  true,
			deviceGap:     float64(g.between(1, 12)),
			prevCity:      g.city(),
			towerChanges:  g.between(2, 4),
			prevData:      float64(g.between(800, 1500)),
			curData:       float64(g.between(2500, 5000)),
			prevCalls:     g.between(8, 15),
			curCalls:      g.between(40, 80),
			prevSMS:       g.between(15, 30),
			curSMS:        g.between(80, 150),
			failedLogins:  g.between(4, 10),
		}

	case ScenarioLocationChange:
		far := []string{"Jaffna", "Batticaloa", "Trincomalee"}
		p = profile{
			swap:           true,
			hoursSinceSim:  float64(g.between(2, 60)),
			prevCity:       "Colombo",
			curCity:        far[g.rng.IntN(len(far))],
			hoursSinceMove: g.uniform(0.5, 1.5),
			towerChanges:   g.between(10, 25),
			prevData:       float64(g.between(1000, 1800)),
			curData:        float64(g.between(200, 500)),
			prevCalls:      g.between(12, 18),
			curCalls:       g.between(2, 5),
			prevSMS:        g.between(25, 35),
			curSMS:         g.between(3, 8),
			failedLogins:   g.between(3, 8),
		}

	case ScenarioRoaming:
		p = profile{
			swap:          true,
			hoursSinceSim: float64(g.between(1, 20)),
			deviceChange:  true,
			deviceGap:     float64(g.between(2, 18)),
			prevCity:      g.city(),
			towerChanges:  g.between(6, 12),
			prevData:      float64(g.between(900, 1600)),
			curData:       float64(g.between(3000, 6000)),
			prevCalls:     g.between(10, 18),
			curCalls:      g.between(45, 90),
			prevSMS:       g.between(20, 35),
			curSMS:        g.between(90, 160),
			failedLogins:  g.between(2, 6),
			roaming:       true,
		}

	case ScenarioFailedLogins:
		p = profile{
			swap:          true,
			hoursSinceSim: float64(g.between(1, 40)),
			deviceChange:  true,
			deviceGap:     float64(g.between(1, 30)),
			prevCity:      g.city(),
			towerChanges:  g.between(3, 7),
			prevData:      float64(g.between(1000, 1800)),
			curData:       float64(g.between(2000, 4500)),
			prevCalls:     g.between(8, 16),
			curCalls:      g.between(35, 75),
			prevSMS:       g.between(18, 32),
			curSMS:        g.between(75, 140),
			failedLogins:  g.between(8, 20),
		}

	default:
		p = profile{
			prevCity:     g.city(),
			towerChanges: g.between(0, 3),
			prevData:     float64(g.between(500, 2000)),
			prevCalls:    g.between(5, 20),
			prevSMS:      g.between(10, 50),
			failedLogins: g.between(0, 2),
		}
		p.curData = float64(int(p.prevData * g.uniform(0.8, 1.2)))
		p.curCalls = int(float64(p.prevCalls) * g.uniform(0.85, 1.15))
		p.curSMS = int(float64(p.prevSMS) * g.uniform(0.85, 1.15))
	}

	if p.curCity == "" {
		p.curCity = p.prevCity
	}
	// The device moves strictly after the SIM and before the last event.
	if p.deviceChange && p.deviceGap >= p.hoursSinceSim {
		p.deviceGap = p.hoursSinceSim / 2
	}

	return p
}

// Offsets, in hours before the last event, of the routine activity. The
// first three land in the previous usage window, the rest in the current.
var (
	previousOffsets = []float64{46, 40, 30}
	currentOffsets  = []float64{20, 12, 6, 1, 0}
)

// user materialises a profile as an event stream. Attributes of every event
// are derived from its time relative to the swap, device and city changes.
func (g *generator) user(userID string, p profile) []domain.Event {
	at := func(h float64) time.Time {
		return g.end.Add(-time.Duration(h * float64(time.Minute) * 60)).Truncate(time.Minute)
	}

	type slot struct {
		offset float64
		usage  bool
	}

	slots := []slot{{offset: 70}}
	for _, h := range previousOffsets {
		slots = append(slots, slot{offset: h, usage: true})
	}
	for _, h := range currentOffsets {
		slots = append(slots, slot{offset: h, usage: true})
	}
	if p.swap {
		slots = append(slots, slot{offset: p.hoursSinceSim})
	}
	if p.deviceChange {
		slots = append(slots, slot{offset: p.hoursSinceSim - p.deviceGap})
	}
	if p.curCity != p.prevCity {
		slots = append(slots, slot{offset: p.hoursSinceMove})
	}

	// Pad the current window until it can carry every failed login and
	// tower hop.
	recent := 0
	for _, s := range slots {
		if s.offset < 24 {
			recent++
		}
	}
	need := max(p.failedLogins, p.towerChanges)
	for i := 0; recent < need; i++ {
		slots = append(slots, slot{offset: 22 - float64(i)*0.25})
		recent++
	}

	slices.SortStableFunc(slots, func(a, b slot) int {
		switch {
		case a.offset > b.offset:
			return -1
		case a.offset < b.offset:
			return 1
		}
		return 0
	})

	var prevSlots, curSlots int
	for _, s := range slots {
		if !s.usage {
			continue
		}
		if s.offset < 24 {
			curSlots++
		} else {
			prevSlots++
		}
	}

	suffix := userID[len(userID)-4:]
	oldSim, newSim := "SIM_"+suffix+"_A", "SIM_"+suffix+"_B"
	oldDev, newDev := "DEV_"+suffix+"_A", "DEV_"+suffix+"_B"

	events := make([]domain.Event, 0, len(slots))
	failed, hops, tower := 0, 0, 0
	var prevIdx, curIdx int

	for _, s := range slots {
		e := domain.Event{
			Timestamp:   at(s.offset),
			UserID:      userID,
			SimID:       oldSim,
			DeviceID:    oldDev,
			Location:    p.prevCity,
			LoginStatus: domain.LoginSuccess,
		}

		if p.swap && s.offset <= p.hoursSinceSim {
			e.SimID = newSim
			if p.roaming {
				e.IsRoaming = true
			}
		}
		if p.deviceChange && s.offset <= p.hoursSinceSim-p.deviceGap {
			e.DeviceID = newDev
		}
		if p.curCity != p.prevCity && s.offset <= p.hoursSinceMove {
			e.Location = p.curCity
		}

		if s.offset < 24 {
			if failed < p.failedLogins {
				e.LoginStatus = domain.LoginFailed
				failed++
			}
			if hops < p.towerChanges {
				tower++
				hops++
			}
		}
		e.CellTowerID = fmt.Sprintf("TWR_%s_%02d", suffix, tower)

		if s.usage {
			if s.offset < 24 {
				e.DataUsageMB, e.CallCount, e.SMSCount = share(p.curData, p.curCalls, p.curSMS, curIdx, curSlots)
				curIdx++
			} else {
				e.DataUsageMB, e.CallCount, e.SMSCount = share(p.prevData, p.prevCalls, p.prevSMS, prevIdx, prevSlots)
				prevIdx++
			}
		}

		events = append(events, e)
	}

	return events
}

// share splits window totals across n events; the last takes the remainder.
func share(data float64, calls, sms, i, n int) (float64, int, int) {
	if n == 0 {
		return 0, 0, 0
	}
	d, c, s := float64(int(data)/n), calls/n, sms/n
	if i == n-1 {
		d = data - d*float64(n-1)
		c = calls - c*(n-1)
		s = sms - s*(n-1)
	}
	return d, c, s
}
