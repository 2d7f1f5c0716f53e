// Package intervals turns a unit's time-ordered alarm stream into survival
// intervals: failure-terminated spans plus a trailing span right-censored at
// the cycle's reference instant.
package intervals

import (
	"sort"
	"time"

	"github.com/coolstack/crac-risk/internal/detect"
	"github.com/coolstack/crac-risk/internal/models"
	"github.com/coolstack/crac-risk/internal/utils"
)

// Build partitions the alarm history of every unit into survival intervals.
// isFailure must be aligned to records. now is the single reference instant of
// the pipeline run; every censored interval ends at it so cross-unit
// comparisons stay consistent.
//
// Within one unit the intervals are strictly time-ordered and non-overlapping
// and every alarm row is counted in exactly one interval. A unit with no
// detected failures yields a single censored interval over its whole history;
// a unit with k failures yields k event intervals plus, when alarms remain
// after the last failure, one trailing censored interval.
func Build(records []models.AlarmRecord, isFailure []bool, severityThreshold int, now time.Time) []models.Interval {
	type row struct {
		rec  models.AlarmRecord
		fail bool
	}

	byUnit := make(map[string][]row)
	unitOrder := make([]string, 0)
	for i := range records {
		unit := records[i].Unit
		if _, seen := byUnit[unit]; !seen {
			unitOrder = append(unitOrder, unit)
		}
		fail := false
		if i < len(isFailure) {
			fail = isFailure[i]
		}
		byUnit[unit] = append(byUnit[unit], row{rec: records[i], fail: fail})
	}
	sort.Strings(unitOrder)

	out := make([]models.Interval, 0, len(unitOrder))
	for _, unit := range unitOrder {
		rows := byUnit[unit]
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].rec.Timestamp.Before(rows[j].rec.Timestamp)
		})

		times := make([]time.Time, len(rows))
		fails := make([]bool, len(rows))
		for i, r := range rows {
			times[i] = r.rec.Timestamp
			fails[i] = r.fail
		}

		out = append(out, buildUnit(unit, records, times, fails, severityThreshold, now)...)
	}
	return out
}

func buildUnit(unit string, all []models.AlarmRecord, times []time.Time, fails []bool, severityThreshold int, now time.Time) []models.Interval {
	n := len(times)
	if n == 0 {
		return nil
	}

	lastCritical := detect.LastCriticalAlarm(all, unit, severityThreshold)
	currentElapsed := 0.0
	if lastCritical != nil {
		currentElapsed = utils.HoursBetween(*lastCritical, now)
	}

	var failIdx []int
	for i, f := range fails {
		if f {
			failIdx = append(failIdx, i)
		}
	}

	var ivs []models.Interval

	if len(failIdx) == 0 {
		tsla := utils.HoursBetween(times[n-1], now)
		ivs = append(ivs, models.Interval{
			Unit:                unit,
			Start:               times[0],
			End:                 now,
			DurationHours:       utils.HoursBetween(times[0], now),
			Event:               false,
			TotalAlarms:         n,
			AlarmsLast24h:       0,
			TimeSinceLastAlarmH: &tsla,
			CurrentTimeElapsed:  currentElapsed,
			LastCriticalTime:    lastCritical,
		})
		return ivs
	}

	cursor := 0
	for _, fi := range failIdx {
		// A failure at the cursor itself would make a zero-length interval;
		// advance past it instead.
		if fi <= cursor {
			cursor = fi
			continue
		}

		start := times[cursor]
		end := times[fi]
		iv := models.Interval{
			Unit:               unit,
			Start:              start,
			End:                end,
			DurationHours:      utils.HoursBetween(start, end),
			Event:              true,
			TotalAlarms:        fi - cursor,
			AlarmsLast24h:      countInWindow(times, start.Add(-24*time.Hour), start),
			CurrentTimeElapsed: currentElapsed,
			LastCriticalTime:   lastCritical,
		}
		if cursor > 0 {
			tsla := utils.HoursBetween(times[cursor-1], start)
			iv.TimeSinceLastAlarmH = &tsla
		}
		ivs = append(ivs, iv)
		cursor = fi
	}

	if cursor < n {
		start := times[cursor]
		tsla := utils.HoursBetween(times[n-1], now)
		ivs = append(ivs, models.Interval{
			Unit:                unit,
			Start:               start,
			End:                 now,
			DurationHours:       utils.HoursBetween(start, now),
			Event:               false,
			TotalAlarms:         n - cursor,
			AlarmsLast24h:       countInWindow(times, start.Add(-24*time.Hour), start),
			TimeSinceLastAlarmH: &tsla,
			CurrentTimeElapsed:  currentElapsed,
			LastCriticalTime:    lastCritical,
		})
	}

	return ivs
}

// countInWindow counts timestamps in [from, to).
func countInWindow(times []time.Time, from, to time.Time) int {
	count := 0
	for _, t := range times {
		if !t.Before(from) && t.Before(to) {
			count++
		}
	}
	return count
}
