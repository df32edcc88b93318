package retention

import "time"

// Duration is the retention period of a rule or record.
// All components are additive and independent; absent components are 0.
type Duration struct {
	Years  int64 `json:"years,omitempty"`
	Months int64 `json:"months,omitempty"`
	Days   int64 `json:"days,omitempty"`
	Millis int64 `json:"millis,omitempty"`
}

// MaxDuration bounds each component of a rule's duration.
var MaxDuration = Duration{
	Years:  1_000,
	Months: 12_000,
	Days:   366_000,
	Millis: 366_000 * msPerDay,
}

const (
	msPerDay = 24 * 60 * 60 * 1000

	// Saturation points of the calculator, far beyond MaxDuration.
	maxMonths = 12 * 100_000
	maxDays   = 36_600_000
	// Days added per step; stays within time.Duration range.
	daysPerStep = 100_000
)

// IsZero reports whether every component is 0.
func (d Duration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Days == 0 && d.Millis == 0
}

// Calculator turns a Duration into an absolute instant.
// Location defaults to time.Local when nil.
type Calculator struct {
	Location *time.Location
}

// NewCalculator creates a calculator for the given location.
func NewCalculator(loc *time.Location) Calculator {
	return Calculator{Location: loc}
}

// RetainUntil returns ref + d.
//
// Years and months are folded into a single month offset and added on the
// calendar, clamping the day to the end of the target month. Days and millis
// are fixed-length additions. Negative components count as 0. Components
// too large to represent saturate, so the result never moves backwards.
func (c Calculator) RetainUntil(ref time.Time, d Duration) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	t := addMonthsClamped(ref.In(loc), calendarMonths(d))

	days, rem := fixedDays(d)
	for days > 0 {
		step := min(days, daysPerStep)
		t = t.Add(time.Duration(step) * 24 * time.Hour)
		days -= step
	}
	return t.Add(time.Duration(rem) * time.Millisecond)
}

func calendarMonths(d Duration) int64 {
	years, months := nonNegative(d.Years), nonNegative(d.Months)
	if years >= maxMonths/12 || months >= maxMonths {
		return maxMonths
	}
	return min(years*12+months, maxMonths)
}

// fixedDays folds days and millis into whole days plus leftover millis.
func fixedDays(d Duration) (days, millis int64) {
	days, millis = nonNegative(d.Days), nonNegative(d.Millis)
	if days >= maxDays {
		return maxDays, 0
	}
	days += millis / msPerDay
	if days >= maxDays {
		return maxDays, 0
	}
	return days, millis % msPerDay
}

func addMonthsClamped(t time.Time, months int64) time.Time {
	if months == 0 {
		return t
	}
	y, m, day := t.Date()
	hh, mm, ss := t.Clock()

	total := int64(m-1) + months
	year := int64(y) + total/12
	month := time.Month(total%12 + 1)

	if last := daysIn(int(year), month, t.Location()); day > last {
		day = last
	}
	return time.Date(int(year), month, day, hh, mm, ss, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
