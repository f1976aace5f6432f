package schedule

import "sort"

// RepairTripDetails recomputes per-trip block assignments from the trip
// times and replaces any stored values that disagree. Legacy schedules with
// missing (zero) block numbers get a synthesized, consistent assignment.
//
// The recomputation is a pure function of the trip times, so running the
// repair twice yields the same schedule as running it once. It returns true
// if anything was changed.
func RepairTripDetails(s *SummarySchedule) bool {
	if s == nil || len(s.Trips) == 0 {
		return false
	}

	assignments, ok := computeBlockAssignments(s)
	if !ok {
		// Unparsable trip times: leave the schedule as stored rather than
		// guessing.
		return false
	}

	changed := false
	for i := range s.Trips {
		if s.Trips[i].BlockNumber != assignments[i] {
			s.Trips[i].BlockNumber = assignments[i]
			changed = true
		}
	}
	for i := range s.Trips {
		if s.Trips[i].TripNumber != i+1 {
			s.Trips[i].TripNumber = i + 1
			changed = true
		}
	}
	return changed
}

// computeBlockAssignments performs a greedy first-free-vehicle sweep: trips
// are walked in departure order and each is assigned the lowest-numbered
// block whose previous trip has finished (plus layover); if none is free, a
// new block is opened. The result is deterministic for a given schedule.
func computeBlockAssignments(s *SummarySchedule) ([]int, bool) {
	n := len(s.Trips)

	type span struct {
		idx        int
		start, end int
	}
	spans := make([]span, n)
	for i, t := range s.Trips {
		start, ok := t.start()
		if !ok {
			return nil, false
		}
		end, ok := t.end()
		if !ok || end < start {
			return nil, false
		}
		spans[i] = span{idx: i, start: start, end: end}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return spans[order[a]].start < spans[order[b]].start
	})

	assignments := make([]int, n)
	var blockFreeAt []int
	for _, oi := range order {
		sp := spans[oi]
		assigned := 0
		for b, freeAt := range blockFreeAt {
			if freeAt <= sp.start {
				assigned = b + 1
				break
			}
		}
		if assigned == 0 {
			blockFreeAt = append(blockFreeAt, 0)
			assigned = len(blockFreeAt)
		}
		blockFreeAt[assigned-1] = sp.end + s.LayoverMinutes
		assignments[sp.idx] = assigned
	}
	return assignments, true
}
