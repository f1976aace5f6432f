// Package schedule defines the generated summary schedule embedded in a
// draft, and the trip-detail integrity repair that keeps per-trip block
// assignments consistent with the trip times they were derived from.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// Trip is one vehicle trip across the route's time points.
type Trip struct {
	// TripNumber orders trips within the schedule, starting at 1.
	TripNumber int `json:"tripNumber"`

	// BlockNumber identifies the vehicle (block) operating this trip.
	// Zero means the assignment is missing (legacy drafts).
	BlockNumber int `json:"blockNumber"`

	// DepartureTimes holds one "HH:MM" time per time point. An empty
	// string means the trip does not serve that time point.
	DepartureTimes []string `json:"departureTimes"`
}

// SummarySchedule is the generated schedule for one route direction.
type SummarySchedule struct {
	RouteName  string   `json:"routeName,omitempty"`
	Direction  string   `json:"direction,omitempty"`
	TimePoints []string `json:"timePoints"`
	Trips      []Trip   `json:"trips"`

	// LayoverMinutes is the minimum recovery time before a block can start
	// its next trip.
	LayoverMinutes int `json:"layoverMinutes,omitempty"`
}

// Clone returns a deep copy.
func (s *SummarySchedule) Clone() *SummarySchedule {
	if s == nil {
		return nil
	}
	out := *s
	out.TimePoints = append([]string(nil), s.TimePoints...)
	out.Trips = make([]Trip, len(s.Trips))
	for i, t := range s.Trips {
		out.Trips[i] = t
		out.Trips[i].DepartureTimes = append([]string(nil), t.DepartureTimes...)
	}
	return &out
}

// start returns the trip's first served departure in minutes since midnight.
func (t Trip) start() (int, bool) {
	for _, dt := range t.DepartureTimes {
		if dt != "" {
			return parseClock(dt)
		}
	}
	return 0, false
}

// end returns the trip's last served departure in minutes since midnight.
func (t Trip) end() (int, bool) {
	for i := len(t.DepartureTimes) - 1; i >= 0; i-- {
		if t.DepartureTimes[i] != "" {
			return parseClock(t.DepartureTimes[i])
		}
	}
	return 0, false
}

// parseClock parses "HH:MM" (24h; hours may exceed 23 for after-midnight
// service) into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
