package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields in the config are Go duration strings ("500ms",
// "90s", "5m"). Empty means unset; callers decide whether unset falls
// back to a default or stays zero. The path argument names the config
// field in errors, e.g. "watch.fetch_timeout".

// ParseDurationField parses one duration field. Unset fields yield 0
// without error; negative durations are rejected so a typo like "-5s"
// cannot disable a timeout.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// unset (or zero) fields.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
