package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "debug", want: zerolog.DebugLevel},
		{in: " WARNING ", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "", want: zerolog.InfoLevel},
		{in: "bogus", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatRecordSortsFields(t *testing.T) {
	t.Parallel()
	got := formatRecord([]byte(`{"level":"warn","time":"x","message":"feed read failed","source":"sheets","err":"timeout"}`))
	want := "[WARN] feed read failed\n- err=timeout\n- source=sheets"
	if got != want {
		t.Fatalf("formatRecord = %q, want %q", got, want)
	}
}

func TestFormatRecordRawFallback(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 4000)
	got := formatRecord([]byte(long))
	if len(got) != 3500 || !strings.HasSuffix(got, "...") {
		t.Fatalf("raw record not truncated: len=%d", len(got))
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}
