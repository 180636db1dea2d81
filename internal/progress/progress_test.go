package progress

import "testing"

func TestPercentBands(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want int
	}{
		{"extract start", Event{Phase: PhaseExtracting, Current: 0, Total: 10}, 0},
		{"extract half", Event{Phase: PhaseExtracting, Current: 5, Total: 10}, 15},
		{"extract done", Event{Phase: PhaseExtracting, Current: 10, Total: 10}, 30},
		{"extract overshoot clamps", Event{Phase: PhaseExtracting, Current: 20, Total: 10}, 30},
		{"extract zero total", Event{Phase: PhaseExtracting, Current: 3, Total: 0}, 0},
		{"verifying", Event{Phase: PhaseVerifying}, 30},
		{"copy start", Event{Phase: PhaseCopying, Current: 0, Total: 4}, 30},
		{"copy half", Event{Phase: PhaseCopying, Current: 2, Total: 4}, 45},
		{"copy done", Event{Phase: PhaseCopying, Current: 4, Total: 4}, 60},
		{"permissions", Event{Phase: PhaseSettingPermissions}, 65},
		{"post-install", Event{Phase: PhasePostInstallScript}, 72},
		{"service", Event{Phase: PhaseRegisteringService}, 80},
		{"desktop", Event{Phase: PhaseRegisteringDesktop}, 87},
		{"linking", Event{Phase: PhaseLinkingBinaries}, 94},
		{"completed", Event{Phase: PhaseCompleted}, 100},
		{"removing files half", Event{Phase: PhaseRemovingFiles, Current: 1, Total: 2}, 60},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.Percent(); got != tc.want {
				t.Fatalf("Percent() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPercentIsMonotonicAcrossInstallPhases(t *testing.T) {
	sequence := []Event{
		{Phase: PhaseExtracting, Current: 0, Total: 2},
		{Phase: PhaseExtracting, Current: 2, Total: 2},
		{Phase: PhaseVerifying},
		{Phase: PhaseCopying, Current: 0, Total: 2},
		{Phase: PhaseCopying, Current: 2, Total: 2},
		{Phase: PhaseSettingPermissions},
		{Phase: PhasePostInstallScript},
		{Phase: PhaseRegisteringService},
		{Phase: PhaseRegisteringDesktop},
		{Phase: PhaseLinkingBinaries},
		{Phase: PhaseCompleted},
	}

	last := -1
	for _, ev := range sequence {
		p := ev.Percent()
		if p < last {
			t.Fatalf("progress went backwards at %s: %d < %d", ev.Phase, p, last)
		}
		last = p
	}
}

func TestEmitterDeliversEvents(t *testing.T) {
	e := NewEmitter(4)
	e.Progress(PhaseExtracting, 1, 2, "file-a")
	e.Logf("note %d", 7)
	e.Close()

	ev, ok := <-e.Events()
	if !ok {
		t.Fatalf("expected one event")
	}
	if ev.Phase != PhaseExtracting || ev.Current != 1 || ev.Total != 2 || ev.Message != "file-a" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, ok := <-e.Events(); ok {
		t.Fatalf("events channel should be closed")
	}

	line, ok := <-e.Logs()
	if !ok || line != "note 7" {
		t.Fatalf("unexpected log line %q (ok=%v)", line, ok)
	}
}

func TestEmitterNeverBlocksWhenFull(t *testing.T) {
	e := NewEmitter(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Progress(PhaseCopying, i, 100, "")
			e.Logf("line %d", i)
		}
		close(done)
	}()

	<-done // must finish without a consumer
	e.Close()
}

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	e.Progress(PhaseCopying, 1, 2, "x")
	e.Logf("x")
	e.Close()
	if e.Events() != nil || e.Logs() != nil {
		t.Fatalf("nil emitter must expose nil channels")
	}
}

func TestEmitterCloseIsIdempotent(t *testing.T) {
	e := NewEmitter(1)
	e.Close()
	e.Close()
	e.Progress(PhaseCopying, 1, 1, "after close")
	e.Logf("after close")
}
