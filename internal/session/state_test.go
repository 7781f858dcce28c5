package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/hudlink/internal/observe"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	all := []State{StateOffline, StateConnecting, StateOnline, StateError}
	legal := map[[2]State]bool{
		{StateOffline, StateConnecting}: true,
		{StateConnecting, StateOnline}:  true,
		{StateConnecting, StateError}:   true,
		{StateConnecting, StateOffline}: true,
		{StateOnline, StateOffline}:     true,
		{StateOnline, StateError}:       true,
		{StateError, StateConnecting}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]State{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    State
		want string
	}{
		{StateOffline, "OFFLINE"},
		{StateConnecting, "CONNECTING"},
		{StateOnline, "ONLINE"},
		{StateError, "ERROR"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	t.Parallel()

	for _, st := range []State{StateOffline, StateConnecting, StateOnline, StateError} {
		text, err := st.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%s): %v", st, err)
		}
		var got State
		if err := got.UnmarshalText(text); err != nil || got != st {
			t.Errorf("UnmarshalText(%q) = %s, %v", text, got, err)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("LIMBO")); err == nil {
		t.Error("UnmarshalText(LIMBO) succeeded")
	}
}

func TestTelemetry_TicksUntilStopped(t *testing.T) {
	t.Parallel()

	tm := newTelemetry(5*time.Millisecond, func() telemetrySample {
		return telemetrySample{Lead: 0.2, Level: 0.1, Active: 1}
	}, observe.NopMetrics(), slog.Default())

	tm.Start(context.Background())
	tm.Start(context.Background()) // second Start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for tm.Ticks() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("telemetry never ticked")
		}
		time.Sleep(time.Millisecond)
	}

	tm.Stop()
	tm.Stop()
	if !tm.stopped() {
		t.Fatal("stopped() = false after Stop")
	}
	time.Sleep(20 * time.Millisecond)
	n := tm.Ticks()
	time.Sleep(30 * time.Millisecond)
	if tm.Ticks() != n {
		t.Error("telemetry kept ticking after Stop")
	}
}

func TestTelemetry_StopBeforeStart(t *testing.T) {
	t.Parallel()
	tm := newTelemetry(0, func() telemetrySample { return telemetrySample{} }, observe.NopMetrics(), slog.Default())
	if tm.interval != defaultTelemetryInterval {
		t.Errorf("interval = %v, want default", tm.interval)
	}
	tm.Stop()
	if !tm.stopped() {
		t.Error("stopped() = false")
	}
}
