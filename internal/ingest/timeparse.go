package ingest

import (
	"strings"
	"time"
)

// Layouts tried in order by ParseTime after normalization. Go's "1"/"2"
// verbs accept both padded and unpadded components, which keeps the list
// short for a format family like "2025/9/12-9:57" vs "2025-09-12 09:57:30".
var timeLayouts = []string{
	"2006-1-2 15:4:5",
	"2006-1-2 15:4",
	"2006-1-2T15:4:5",
	"2006-1-2T15:4",
	"2006-1-2",
}

// ParseTime parses a heterogeneous raw timestamp into a naive local instant,
// or nil when the value cannot be parsed. It never returns an error: a
// malformed timestamp degrades the line, it does not fail the file.
//
// The input is first normalized: '/' becomes '-', and a fused date-time with
// no separator (e.g. "2025-9-12-9:57") is split on the last '-' with seconds
// defaulting to zero. Parsing is anchored to the fixed local zone, then the
// zone is stripped: the returned instant carries the local clock fields in
// UTC so stored timestamps stay naive and round-trip stably. Callers must
// not assume the stored values are actual UTC.
func ParseTime(raw string, loc *time.Location) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "/", "-")

	if !strings.Contains(s, " ") && strings.Contains(s, ":") && strings.Count(s, "-") >= 3 {
		i := strings.LastIndex(s, "-")
		datePart, timePart := s[:i], s[i+1:]
		if strings.Count(timePart, ":") == 1 {
			timePart += ":00"
		}
		s = datePart + " " + timePart
	}

	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		t = t.In(loc)
		naive := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
		return &naive
	}
	return nil
}
