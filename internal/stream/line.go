package stream

import (
	"regexp"
	"strings"
	"time"
)

// Source identifies where a line or event came from.
type Source int

const (
	Stdout Source = iota
	Stderr
	Event
)

func (s Source) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	case Event:
		return "event"
	default:
		return "unknown"
	}
}

// ParseSource maps "stdout", "stderr" and "event" to a Source.
func ParseSource(s string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stdout", "out":
		return Stdout, true
	case "stderr", "err":
		return Stderr, true
	case "event", "events":
		return Event, true
	}
	return 0, false
}

var (
	logPrefix    = regexp.MustCompile(`^\[[^\]]*\]\s*\[[^\]]*\]:\s*`)
	firstBracket = regexp.MustCompile(`\[(.*?)\]`)
)

// Line is one line of child output. Raw is exactly what the process wrote;
// Text is the display form with the log prefix removed on stdout.
type Line struct {
	Raw    string
	Text   string
	Source Source
}

// NewLine wraps raw output from src. Stdout lines lose their
// "[time] [thread/LEVEL]: " prefix in Text.
func NewLine(raw string, src Source) Line {
	text := raw
	if src == Stdout {
		text = StripPrefix(raw)
	}
	return Line{Raw: raw, Text: text, Source: src}
}

// StripPrefix removes a leading "[..] [..]: " log prefix.
func StripPrefix(raw string) string {
	return logPrefix.ReplaceAllString(raw, "")
}

func (l Line) String() string { return l.Text }

// Timestamp returns the time embedded in the line, or now.
func (l Line) Timestamp() time.Time {
	if ts, ok := ExtractTimestamp(l.Raw, time.Now()); ok {
		return ts
	}
	return time.Now().UTC()
}

// ExtractTimestamp reads the first bracketed HH:MM:SS token of raw as a local
// time of day on now's local date and returns it in UTC.
func ExtractTimestamp(raw string, now time.Time) (time.Time, bool) {
	m := firstBracket.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	tod, err := time.Parse("15:04:05", m[1])
	if err != nil {
		return time.Time{}, false
	}
	day := now.In(time.Local)
	ts := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.Local)
	return ts.UTC(), true
}
