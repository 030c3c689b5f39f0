package parser

import (
	"regexp"

	"github.com/loykin/mineguard/internal/version"
)

// Signal is a lifecycle fact derived from log output.
type Signal int

const (
	// ServerStarted fires once the server reports it has finished loading.
	ServerStarted Signal = iota + 1
)

func (s Signal) String() string {
	switch s {
	case ServerStarted:
		return "ServerStarted"
	default:
		return "Unknown"
	}
}

// Parser turns a raw stdout line into an optional Signal.
// Lines that mean nothing to the parser return ok == false.
type Parser interface {
	Parse(raw string) (sig Signal, ok bool)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(raw string) (Signal, bool)

func (f ParserFunc) Parse(raw string) (Signal, bool) { return f(raw) }

var readyMarker = regexp.MustCompile(`Done \([0-9.]+s\)!`)

// VanillaParser understands the plain-text log of the vanilla server.
type VanillaParser struct{}

func (VanillaParser) Parse(raw string) (Signal, bool) {
	rec, ok := ParseRecord(raw)
	if !ok {
		return 0, false
	}
	return rec.Signal()
}

// Signal returns ServerStarted for the main thread's "Done (Ns)!" record.
func (r Record) Signal() (Signal, bool) {
	if r.Thread != "Server thread" || r.Level != LevelInfo {
		return 0, false
	}
	if readyMarker.MatchString(r.Message) {
		return ServerStarted, true
	}
	return 0, false
}

// ForType returns the parser registered for a server type.
func ForType(t version.ServerType) (Parser, bool) {
	switch t {
	case version.Vanilla:
		return VanillaParser{}, true
	}
	return nil, false
}
