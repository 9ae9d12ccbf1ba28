package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Resolution is the bucket width of a resampled series.
// The set is closed; the zero value is not a valid resolution.
type Resolution int

const (
	Res1Min Resolution = iota + 1
	Res5Min
	Res15Min
	Res30Min
	Res1H
	Res4H
	Res1D
)

// AllResolutions lists every supported resolution in ascending width.
var AllResolutions = []Resolution{Res1Min, Res5Min, Res15Min, Res30Min, Res1H, Res4H, Res1D}

var resolutionLabels = map[Resolution]string{
	Res1Min:  "1Min",
	Res5Min:  "5Min",
	Res15Min: "15Min",
	Res30Min: "30Min",
	Res1H:    "1H",
	Res4H:    "4H",
	Res1D:    "1D",
}

var resolutionSeconds = map[Resolution]int64{
	Res1Min:  60,
	Res5Min:  300,
	Res15Min: 900,
	Res30Min: 1800,
	Res1H:    3600,
	Res4H:    14400,
	Res1D:    86400,
}

// shortLabels are the lowercase aliases accepted by ParseResolution.
var shortLabels = map[string]Resolution{
	"1m":  Res1Min,
	"5m":  Res5Min,
	"15m": Res15Min,
	"30m": Res30Min,
	"1h":  Res1H,
	"4h":  Res4H,
	"1d":  Res1D,
}

// ParseResolution accepts the canonical label ("5Min", "1H") or the short form ("5m", "1h").
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(s)
	for r, label := range resolutionLabels {
		if label == s {
			return r, nil
		}
	}
	if r, ok := shortLabels[strings.ToLower(s)]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("unknown resolution %q", s)
}

// MustParseResolution panics on an unknown label. Intended for tests and constants.
func MustParseResolution(s string) Resolution {
	r, err := ParseResolution(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Valid reports whether r is one of the closed set.
func (r Resolution) Valid() bool {
	_, ok := resolutionLabels[r]
	return ok
}

// String returns the canonical persistence label.
func (r Resolution) String() string {
	if label, ok := resolutionLabels[r]; ok {
		return label
	}
	return fmt.Sprintf("Resolution(%d)", int(r))
}

// Seconds returns the bucket width in seconds, or 0 for an invalid resolution.
func (r Resolution) Seconds() int64 {
	return resolutionSeconds[r]
}

// Duration returns the bucket width as a time.Duration.
func (r Resolution) Duration() time.Duration {
	return time.Duration(r.Seconds()) * time.Second
}

// BucketStart floors t to the start of its bucket, aligned to the UNIX epoch in UTC.
func (r Resolution) BucketStart(t time.Time) time.Time {
	sec := r.Seconds()
	unix := t.Unix()
	start := unix - mod(unix, sec)
	return time.Unix(start, 0).UTC()
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid resolution %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnmarshalYAML lets yaml.v2 decode resolutions from their labels.
func (r *Resolution) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(s))
}

// Decode lets envconfig decode resolutions from their labels.
func (r *Resolution) Decode(value string) error {
	return r.UnmarshalText([]byte(value))
}

// Value implements driver.Valuer.
func (r Resolution) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid resolution %d", int(r))
	}
	return r.String(), nil
}

// Scan implements sql.Scanner.
func (r *Resolution) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Resolution", src)
	}
}
