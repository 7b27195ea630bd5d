package planner

import (
	"fmt"
	"time"

	"trade-export/internal/domain"
)

const tsColumn = "participant_timestamp"

// fixed-width bucket sizes in nanoseconds.
var bucketWidth = map[domain.Granularity]int64{
	domain.GranularityMillisecond: int64(time.Millisecond),
	domain.GranularitySecond:      int64(time.Second),
	domain.GranularityMinute:      int64(time.Minute),
	domain.GranularityHour:        int64(time.Hour),
	domain.GranularityDay:         24 * int64(time.Hour),
}

var calendarUnit = map[domain.Granularity]string{
	domain.GranularityHour: "hour",
	domain.GranularityDay:  "day",
}

// TimeBucket returns the SQL expression that maps participant_timestamp to
// the nanosecond epoch at the start of its bucket.
//
// ns is the identity and ms/s/min truncate arithmetically. hr and day
// truncate arithmetically in UTC and through date_trunc on the session time
// zone elsewhere, so that buckets follow local calendar boundaries
// (including DST shifts).
func TimeBucket(g domain.Granularity, loc *time.Location, d Dialect) (string, error) {
	if g == domain.GranularityNanosecond {
		return tsColumn, nil
	}
	width, ok := bucketWidth[g]
	if !ok {
		return "", domain.ErrValidation("invalid aggregateby %q", g)
	}
	if unit, calendar := calendarUnit[g]; calendar && !isUTC(loc) {
		secs := d.IntDiv(floorTo(tsColumn, "1000000000"), "1000000000")
		trunc := fmt.Sprintf("date_trunc('%s', %s)", unit, d.ToTimestamp(secs))
		return fmt.Sprintf("(CAST(%s AS BIGINT) * 1000000000)", d.EpochSeconds(trunc)), nil
	}
	return floorTo(tsColumn, fmt.Sprintf("%d", width)), nil
}

// floorTo rounds a down to a multiple of w. The modulo is normalized to
// [0, w) so pre-1970 timestamps floor instead of truncating toward zero,
// whichever sign convention the engine's % follows.
func floorTo(a, w string) string {
	return fmt.Sprintf("(%s - (((%s %% %s) + %s) %% %s))", a, a, w, w, w)
}

// TruncateLocal applies the same bucketing in Go, for tests and for callers
// that need to predict bucket keys.
func TruncateLocal(ns int64, g domain.Granularity, loc *time.Location) int64 {
	if g == domain.GranularityNanosecond {
		return ns
	}
	if unit, calendar := calendarUnit[g]; calendar && !isUTC(loc) {
		t := time.Unix(0, ns).In(loc)
		switch unit {
		case "hour":
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
		default:
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		}
		return t.UnixNano()
	}
	w := bucketWidth[g]
	m := ns % w
	if m < 0 {
		m += w
	}
	return ns - m
}

func isUTC(loc *time.Location) bool {
	if loc == nil || loc == time.UTC {
		return true
	}
	name := loc.String()
	return name == "UTC" || name == "Etc/UTC"
}
