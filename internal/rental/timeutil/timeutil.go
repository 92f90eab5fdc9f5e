package timeutil

import "time"

var saigonLocation = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.FixedZone("Asia/Ho_Chi_Minh", 7*60*60)
	}
	return loc
}

// Now returns the current time in the Asia/Ho_Chi_Minh timezone.
func Now() time.Time {
	return time.Now().In(saigonLocation)
}

// Local converts t to the Asia/Ho_Chi_Minh timezone.
func Local(t time.Time) time.Time {
	return t.In(saigonLocation)
}

// Location returns the Asia/Ho_Chi_Minh location instance.
func Location() *time.Location {
	return saigonLocation
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	l := Local(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, saigonLocation)
}

// Clock supplies the current time to components that must be testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }
