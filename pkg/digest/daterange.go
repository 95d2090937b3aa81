package digest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the accepted format of explicit start and end dates.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned for unparseable or inverted date ranges.
var ErrInvalidDate = errors.New("digest: invalid date")

// ResolveRange returns the inclusive reporting window for the given dates.
// An empty start defaults to Monday 00:00:00 of the week before now; an empty
// end defaults to six days after start. Ends are set to 23:59:59. Dates are
// interpreted in loc.
func ResolveRange(now time.Time, loc *time.Location, start, end string) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	var from time.Time
	if s := strings.TrimSpace(start); s != "" {
		d, err := time.ParseInLocation(DateLayout, s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q", ErrInvalidDate, s)
		}
		from = d
	} else {
		local := now.In(loc)
		// Monday is day 0 of the week
		sinceMonday := (int(local.Weekday()) + 6) % 7
		from = time.Date(local.Year(), local.Month(), local.Day()-sinceMonday-7, 0, 0, 0, 0, loc)
	}

	var to time.Time
	if e := strings.TrimSpace(end); e != "" {
		d, err := time.ParseInLocation(DateLayout, e, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q", ErrInvalidDate, e)
		}
		to = endOfDay(d)
	} else {
		to = endOfDay(time.Date(from.Year(), from.Month(), from.Day()+6, 0, 0, 0, 0, loc))
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidDate, to.Format(DateLayout), from.Format(DateLayout))
	}
	return from, to, nil
}

func endOfDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, d.Location())
}
