package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
	if stripANSI("no escapes") != "no escapes" {
		t.Fatalf("plain input must pass through")
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, true)).
		With("component", "http")
	log.Info("http.request",
		"method", "post",
		"path", "/panel/login",
		"status", 409,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"client", slog.GroupValue(slog.String("ip", "203.0.113.7"), slog.String("ua", "curl 8")),
	)

	got := stripANSI(buf.String())
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"component=http",
		"method=POST",
		"path=/panel/login",
		"status=409",
		"class=4xx",
		"duration=12ms",
		"client.ip=203.0.113.7",
		`client.ua="curl 8"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
	if !strings.Contains(buf.String(), ansiYellow+"409"+ansiReset) {
		t.Fatalf("expected 4xx status to be yellow: %q", buf.String())
	}
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).WithGroup("audit")
	log.Info("audit", "action", "account.disabled", "actor", "root")

	got := buf.String()
	if !strings.Contains(got, "audit.action=account.disabled") || !strings.Contains(got, "audit.actor=root") {
		t.Fatalf("group prefix missing: %q", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("color disabled but escapes present: %q", got)
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Fatalf("info must be disabled at warn level")
	}
	if !h.Enabled(t.Context(), slog.LevelError) {
		t.Fatalf("error must be enabled at warn level")
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   slog.Value
		want int64
		ok   bool
	}{
		{slog.Int64Value(7), 7, true},
		{slog.Uint64Value(9), 9, true},
		{slog.StringValue(" 42 "), 42, true},
		{slog.DurationValue(1500 * time.Millisecond), 1500, true},
		{slog.StringValue("n/a"), 0, false},
		{slog.BoolValue(true), 0, false},
	}
	for _, tc := range cases {
		got, ok := valueToInt64(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("valueToInt64(%v)=(%d,%v) want (%d,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
