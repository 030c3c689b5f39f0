package parser

import "strings"

// Level is the severity token of a log record.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelOther
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "OTHER"
	}
}

func parseLevel(s string) Level {
	switch s {
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelOther
	}
}

// Record is one line of server log output broken into its parts.
type Record struct {
	Time    string
	Thread  string
	Level   Level
	Message string
}

// ParseRecord matches "[<time>] [<thread>/<LEVEL>]: <message>". Whitespace
// between the two bracket groups is optional. ok is false for any other shape.
func ParseRecord(line string) (rec Record, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[") {
		return Record{}, false
	}
	tm, rest, found := strings.Cut(line[1:], "]")
	if !found {
		return Record{}, false
	}
	i := strings.IndexByte(rest, '[')
	if i < 0 {
		return Record{}, false
	}
	meta, msg, found := strings.Cut(rest[i+1:], "]: ")
	if !found {
		return Record{}, false
	}
	thread, level, found := strings.Cut(meta, "/")
	if !found {
		return Record{}, false
	}
	return Record{
		Time:    tm,
		Thread:  thread,
		Level:   parseLevel(strings.TrimRight(level, "]")),
		Message: msg,
	}, true
}
