package planner

import (
	"time"

	"trade-export/internal/domain"
)

// DateRange expands YYYY-MM-DD bounds into an inclusive nanosecond epoch
// range in loc: the low day starts at 00:00:00.000000 and the high day ends
// at 23:59:59.999999. Empty bounds are returned as nil.
func DateRange(low, high string, loc *time.Location) (lowNS, highNS *int64, err error) {
	if loc == nil {
		loc = time.UTC
	}
	if low != "" {
		t, err := time.ParseInLocation(domain.DateLayout, low, loc)
		if err != nil {
			return nil, nil, domain.ErrValidation("invalid datelow format, use YYYY-MM-DD (e.g. 2020-12-08)")
		}
		v := t.UnixNano()
		lowNS = &v
	}
	if high != "" {
		t, err := time.ParseInLocation(domain.DateLayout, high, loc)
		if err != nil {
			return nil, nil, domain.ErrValidation("invalid datehigh format, use YYYY-MM-DD (e.g. 2020-12-08)")
		}
		end := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, loc)
		v := end.UnixNano()
		highNS = &v
	}
	return lowNS, highNS, nil
}
