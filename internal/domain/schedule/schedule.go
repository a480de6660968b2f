// Package schedule holds the pure slot arithmetic shared by the free-slot
// listing and the reservation path. Nothing in here touches storage; callers
// pass a snapshot of busy intervals and get back derived values that are
// recomputed on every call.
package schedule

import "time"

// SlotDuration is the fixed consultation slot length. Other granularities are
// deliberately unsupported.
const SlotDuration = 30 * time.Minute

const minutesPerDay = 24 * 60

// Window is a recurring daily work window expressed as minutes from midnight,
// with no date attached.
type Window struct {
	StartMinute int
	EndMinute   int
}

// Valid reports whether both bounds fall inside a single day. An inverted
// window (end before start) is still valid to store; it simply yields no
// slots.
func (w Window) Valid() bool {
	return w.StartMinute >= 0 && w.StartMinute < minutesPerDay &&
		w.EndMinute >= 0 && w.EndMinute <= minutesPerDay
}

// SpanOn anchors the window onto a calendar day, producing absolute instants.
func (w Window) SpanOn(day time.Time) (start, end time.Time) {
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return midnight.Add(time.Duration(w.StartMinute) * time.Minute),
		midnight.Add(time.Duration(w.EndMinute) * time.Minute)
}

// Contains reports whether [start, end) lies inside the window anchored on
// start's calendar day and begins on a slot boundary.
func (w Window) Contains(start, end time.Time) bool {
	dayStart, dayEnd := w.SpanOn(start)
	if start.Before(dayStart) || end.After(dayEnd) {
		return false
	}
	return start.Sub(dayStart)%SlotDuration == 0
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps is the single overlap predicate for half-open intervals: touching
// endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Slot is a candidate bookable interval. Slots are derived values and are
// never persisted.
type Slot struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
	Label string    `json:"label"`
}

// Day groups the free slots of one calendar day for display.
type Day struct {
	Date        string `json:"date"`
	DisplayDate string `json:"display_date"`
	Slots       []Slot `json:"slots"`
}

// BuildDays derives the free slots for horizonDays consecutive calendar days
// starting on now's day. A nil window means the doctor has not configured a
// schedule: every day is emitted with an empty slot list. Busy intervals are
// the doctor's scheduled appointments; any step overlapping one is dropped,
// as is any step starting before now or not fitting fully before the window
// end.
func BuildDays(win *Window, now time.Time, horizonDays int, busy []Interval) []Day {
	days := make([]Day, 0, horizonDays)
	for i := 0; i < horizonDays; i++ {
		day := now.AddDate(0, 0, i)
		days = append(days, Day{
			Date:        day.Format("2006-01-02"),
			DisplayDate: day.Format("Monday, January 2"),
			Slots:       buildDaySlots(win, day, now, busy),
		})
	}
	return days
}

func buildDaySlots(win *Window, day, now time.Time, busy []Interval) []Slot {
	slots := []Slot{}
	if win == nil {
		return slots
	}

	dayStart, dayEnd := win.SpanOn(day)
	for cur := dayStart; !cur.Add(SlotDuration).After(dayEnd); cur = cur.Add(SlotDuration) {
		slotEnd := cur.Add(SlotDuration)

		if cur.Before(now) {
			continue
		}

		booked := false
		for _, b := range busy {
			if Overlaps(cur, slotEnd, b.Start, b.End) {
				booked = true
				break
			}
		}
		if booked {
			continue
		}

		slots = append(slots, Slot{
			Start: cur,
			End:   slotEnd,
			Label: cur.Format("3:04 PM") + " - " + slotEnd.Format("3:04 PM"),
		})
	}
	return slots
}
