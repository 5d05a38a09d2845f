package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Slot is one configured daily notification time. Its ID is the "HH:MM"
// string, so changing slot times in configuration starts a fresh run record
// series instead of silently reinterpreting old ones.
type Slot struct {
	ID     string
	Hour   int
	Minute int
}

// ParseSlot parses a "HH:MM" time-of-day.
func ParseSlot(s string) (Slot, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Slot{}, fmt.Errorf("invalid slot %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Slot{}, fmt.Errorf("invalid slot %q: bad hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Slot{}, fmt.Errorf("invalid slot %q: bad minute", s)
	}
	return Slot{ID: fmt.Sprintf("%02d:%02d", hour, minute), Hour: hour, Minute: minute}, nil
}

// next returns the first occurrence of the slot strictly after t.
func (s Slot) next(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	occ := time.Date(lt.Year(), lt.Month(), lt.Day(), s.Hour, s.Minute, 0, 0, loc)
	if !occ.After(t) {
		occ = occ.AddDate(0, 0, 1)
	}
	return occ
}

// prev returns the most recent occurrence of the slot at or before t, or the
// zero time if the occurrence computation fails to converge (never in
// practice for a daily slot).
func (s Slot) prev(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	occ := time.Date(lt.Year(), lt.Month(), lt.Day(), s.Hour, s.Minute, 0, 0, loc)
	if occ.After(t) {
		occ = occ.AddDate(0, 0, -1)
	}
	return occ
}
