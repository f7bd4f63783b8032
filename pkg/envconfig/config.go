// Package envconfig reads BLOCKBENCH_* environment variables.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of surrounding spaces and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Bool returns a getter for a boolean variable. Unparsable non-empty values
// count as true.
func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// Uint returns a getter for an unsigned variable, falling back to defaultValue
// when it is unset or invalid.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// LogLevel returns the log level for BLOCKBENCH_DEBUG: a true boolean gives
// debug, an integer n gives level -4n (2 enables trace).
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("BLOCKBENCH_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

var (
	// NoProgress hides the progress bar.
	NoProgress = Bool("BLOCKBENCH_NOPROGRESS")
	// NumThreads bounds the goroutines a kernel uses. Zero means GOMAXPROCS.
	NumThreads = Uint("BLOCKBENCH_NUM_THREADS", 0)
)

// Threads returns NumThreads, or GOMAXPROCS when it is unset.
func Threads() int {
	if n := NumThreads(); n > 0 {
		return int(n)
	}
	return runtime.GOMAXPROCS(0)
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BLOCKBENCH_DEBUG":       {"BLOCKBENCH_DEBUG", LogLevel(), "Show additional debug information (e.g. BLOCKBENCH_DEBUG=1)"},
		"BLOCKBENCH_NOPROGRESS":  {"BLOCKBENCH_NOPROGRESS", NoProgress(), "Do not show the progress bar"},
		"BLOCKBENCH_NUM_THREADS": {"BLOCKBENCH_NUM_THREADS", NumThreads(), "Goroutines per kernel (default GOMAXPROCS)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
