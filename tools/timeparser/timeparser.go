package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// Layouts carrying an explicit UTC offset. An explicit offset is
// authoritative and is never overridden by the fallback zone.
var offsetLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
}

// Naive layouts: older firmware emits a local date-time with no offset,
// interpreted in the configured fallback zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ResolveZone loads an IANA time zone by name.
func ResolveZone(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unresolvable time zone %q: %w", name, err)
	}
	return loc, nil
}

// ParseDeviceTimestamp parses an ISO-8601-style device timestamp and returns
// the equivalent UTC instant. A timestamp with an explicit offset keeps that
// offset; a naive timestamp is localized to fallback before conversion. An
// empty or whitespace-only string is an error; the caller treats every error
// as "no timestamp".
func ParseDeviceTimestamp(raw string, fallback *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	// The canonical wire form ends in a literal Z; rewrite it to a zero
	// offset so the offset layouts match.
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "+00:00"
	}

	var lastErr error
	for _, layout := range offsetLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	if fallback == nil {
		fallback = time.UTC
	}
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, fallback)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", raw, lastErr)
}
