package envconfig

import (
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVar(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"value":       "value",
		" value ":     "value",
		"\"value\"":   "value",
		"' value '":   " value ",
		" \"value\" ": "value",
	}

	for in, want := range cases {
		t.Setenv("BLOCKBENCH_TEST", in)
		assert.Equal(t, want, Var("BLOCKBENCH_TEST"), "input %q", in)
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		"yes":   true,
	}

	for in, want := range cases {
		t.Setenv("BLOCKBENCH_NOPROGRESS", in)
		assert.Equal(t, want, NoProgress(), "input %q", in)
	}
}

func TestThreads(t *testing.T) {
	t.Setenv("BLOCKBENCH_NUM_THREADS", "")
	assert.Equal(t, runtime.GOMAXPROCS(0), Threads())

	t.Setenv("BLOCKBENCH_NUM_THREADS", "3")
	assert.Equal(t, 3, Threads())

	t.Setenv("BLOCKBENCH_NUM_THREADS", "-2")
	assert.Equal(t, runtime.GOMAXPROCS(0), Threads())
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"t":     slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
		"-1":    slog.LevelWarn,
	}

	for in, want := range cases {
		t.Setenv("BLOCKBENCH_DEBUG", in)
		assert.Equal(t, want, LogLevel(), "input %q", in)
	}
}

func TestValues(t *testing.T) {
	t.Setenv("BLOCKBENCH_NUM_THREADS", "4")
	assert.Equal(t, "4", Values()["BLOCKBENCH_NUM_THREADS"])
}
