// Package slotclock maps wall-clock time onto the day's fixed-width slots.
package slotclock

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Clock partitions each calendar day into 24/width equal slots. All
// arithmetic happens in one fixed local timezone.
type Clock struct {
	width int
	loc   *time.Location
}

// New validates the slot width; it must divide 24 evenly so slots cover
// the day without gaps or overlap.
func New(widthHours int, loc *time.Location) (Clock, error) {
	if widthHours <= 0 || 24%widthHours != 0 {
		return Clock{}, fmt.Errorf("slot width %d does not divide 24", widthHours)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Clock{width: widthHours, loc: loc}, nil
}

// SlotsPerDay returns the number of slots a day is divided into.
func (c Clock) SlotsPerDay() int {
	return 24 / c.width
}

// SlotIndex returns the zero-based slot containing t.
func (c Clock) SlotIndex(t time.Time) int {
	return t.In(c.loc).Hour() / c.width
}

// SlotStart floors t to its slot boundary.
func (c Clock) SlotStart(t time.Time) time.Time {
	lt := t.In(c.loc)
	hour := (lt.Hour() / c.width) * c.width
	return time.Date(lt.Year(), lt.Month(), lt.Day(), hour, 0, 0, 0, c.loc)
}

// SlotStartOn returns the start of the given slot on t's calendar date,
// regardless of which slot t itself falls in.
func (c Clock) SlotStartOn(t time.Time, slot int) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), slot*c.width, 0, 0, 0, c.loc)
}

// NextSlotStart ceils t to the next slot boundary, rolling over to 00:00
// of the following calendar date past the last slot.
func (c Clock) NextSlotStart(t time.Time) time.Time {
	lt := t.In(c.loc)
	hour := (lt.Hour()/c.width)*c.width + c.width
	day := lt.Day()
	if hour >= 24 {
		hour = 0
		day++
	}
	// time.Date normalizes day overflow into the next month/year.
	return time.Date(lt.Year(), lt.Month(), day, hour, 0, 0, 0, c.loc)
}

// DateOf formats the local calendar date used as the persistence key.
func (c Clock) DateOf(t time.Time) string {
	return t.In(c.loc).Format(dateLayout)
}

// Location exposes the fixed local timezone.
func (c Clock) Location() *time.Location {
	return c.loc
}
