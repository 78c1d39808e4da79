package config

import (
	"os"
	"strconv"
	"strings"
)

// stringOr returns the named variable, or def when it is unset or empty.
func stringOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// intOr parses the named variable as a decimal integer. Unlike the string
// helpers, a value that does not parse is an error: a typo in PORT should stop
// startup rather than silently bind the default.
func intOr(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &envError{name: name, value: v, err: err}
	}
	return n, nil
}

// stringSliceOr parses the named variable as a comma-separated list, dropping
// blank elements. def is returned when nothing usable is set.
func stringSliceOr(name string, def []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

type envError struct {
	name  string
	value string
	err   error
}

func (e *envError) Error() string {
	return "config: " + e.name + "=" + strconv.Quote(e.value) + ": " + e.err.Error()
}

func (e *envError) Unwrap() error { return e.err }
