package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrMissingMajor      = errors.New("missing major version")
	ErrMissingMinor      = errors.New("missing minor version")
	ErrMissingPatch      = errors.New("missing patch version")
	ErrExtraComponents   = errors.New("too many components")
	ErrIncorrectMajor    = errors.New("incorrect major version")
	ErrIncorrectMinor    = errors.New("incorrect minor version")
	ErrIncorrectPatch    = errors.New("incorrect patch version")
	ErrInvalidSnapshot   = errors.New("invalid snapshot format")
	ErrUnknownFormat     = errors.New("unrecognized version format")
	ErrUnknownServerType = errors.New("unknown server type")
)

// Version is either a Release or a Snapshot.
type Version interface {
	fmt.Stringer
	isVersion()
}

// Release is a "<major>.<minor>.<patch>" game release.
type Release struct {
	Major, Minor, Patch uint32
}

func (Release) isVersion() {}

func (r Release) String() string {
	return fmt.Sprintf("%d.%d.%d", r.Major, r.Minor, r.Patch)
}

// Snapshot is a weekly development build like "23w45a".
type Snapshot struct {
	Year  uint32
	Week  uint32
	Build rune
}

func (Snapshot) isVersion() {}

func (s Snapshot) String() string {
	return fmt.Sprintf("%dw%02d%c", s.Year, s.Week, s.Build)
}

// Parse tries the release grammar first, then the snapshot grammar.
// Numeric or dotted input that is not a valid release keeps the release error
// in its chain.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	r, relErr := ParseRelease(s)
	if relErr == nil {
		return r, nil
	}
	snap, snapErr := ParseSnapshot(s)
	if snapErr == nil {
		return snap, nil
	}
	if strings.Contains(s, ".") || (s != "" && strings.Trim(s, "0123456789") == "") {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnknownFormat, s, relErr)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseRelease parses exactly three dot-separated unsigned integers.
func ParseRelease(s string) (Release, error) {
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Release{}, ErrExtraComponents
	}
	missing := [3]error{ErrMissingMajor, ErrMissingMinor, ErrMissingPatch}
	incorrect := [3]error{ErrIncorrectMajor, ErrIncorrectMinor, ErrIncorrectPatch}
	var vals [3]uint32
	for i := range vals {
		if i >= len(parts) || parts[i] == "" {
			return Release{}, missing[i]
		}
		n, err := parseUint(parts[i])
		if err != nil {
			return Release{}, fmt.Errorf("%w: %s", incorrect[i], parts[i])
		}
		vals[i] = n
	}
	return Release{Major: vals[0], Minor: vals[1], Patch: vals[2]}, nil
}

// ParseSnapshot parses "<year>w<2-digit week><1-char build>".
func ParseSnapshot(s string) (Snapshot, error) {
	year, rest, ok := strings.Cut(s, "w")
	if !ok || year == "" {
		return Snapshot{}, ErrInvalidSnapshot
	}
	y, err := parseUint(year)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: year %q", ErrInvalidSnapshot, year)
	}
	runes := []rune(rest)
	if len(runes) != 3 {
		return Snapshot{}, ErrInvalidSnapshot
	}
	w, err := parseUint(string(runes[:2]))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: week %q", ErrInvalidSnapshot, string(runes[:2]))
	}
	b := runes[2]
	if !unicode.IsLetter(b) {
		return Snapshot{}, fmt.Errorf("%w: build %q", ErrInvalidSnapshot, b)
	}
	return Snapshot{Year: y, Week: w, Build: b}, nil
}

func parseUint(s string) (uint32, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// ServerType selects the server flavour, and with it the log parser.
type ServerType int

const (
	Vanilla ServerType = iota
)

func (t ServerType) String() string {
	switch t {
	case Vanilla:
		return "Vanilla"
	default:
		return "Unknown"
	}
}

// ParseServerType is case-insensitive.
func ParseServerType(s string) (ServerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vanilla":
		return Vanilla, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownServerType, s)
}

func (t ServerType) MarshalText() ([]byte, error) {
	if t != Vanilla {
		return nil, fmt.Errorf("%w: %d", ErrUnknownServerType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *ServerType) UnmarshalText(b []byte) error {
	v, err := ParseServerType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
