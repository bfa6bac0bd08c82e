package speech

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/wakeword"
)

func newTestMachine(t *testing.T, cfg Config) *machine {
	t.Helper()
	return newMachine(cfg, wakeword.New(), true)
}

func interim(text string) Result { return Result{Segments: []Segment{{Text: text}}} }
func final(text string) Result   { return Result{Segments: []Segment{{Text: text, IsFinal: true}}} }

func hasEffect(effs []effect, kind effectKind) bool {
	for _, e := range effs {
		if e.kind == kind {
			return true
		}
	}
	return false
}

func findEffect(t *testing.T, effs []effect, kind effectKind) effect {
	t.Helper()
	for _, e := range effs {
		if e.kind == kind {
			return e
		}
	}
	t.Fatalf("effect %d not found in %+v", kind, effs)
	return effect{}
}

// armed returns a machine in wake_word mode with stream generation 1 running.
func armed(t *testing.T, cfg Config) *machine {
	t.Helper()
	m := newTestMachine(t, cfg)
	m.step(opStartWake{})
	if m.mode != ModeWakeWord || !m.streamActive {
		t.Fatalf("setup: mode = %q, streamActive = %v", m.mode, m.streamActive)
	}
	return m
}

func fireWindow(m *machine) []effect {
	return m.step(timerFired{slot: slotWindow, gen: m.gens[slotWindow]})
}

func fireRestart(m *machine) []effect {
	return m.step(timerFired{slot: slotRestart, gen: m.gens[slotRestart]})
}

func TestResultSplit(t *testing.T) {
	t.Parallel()

	r := Result{Segments: []Segment{
		{Text: "jarvis "},
		{Text: "abre ", IsFinal: true},
		{Text: "o painel", IsFinal: true},
		{Text: " agora"},
	}}
	in, fin := r.split()
	if in != "jarvis  agora" || fin != "abre o painel" {
		t.Errorf("split() = (%q, %q)", in, fin)
	}
}

func TestStartWake(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, DefaultConfig())
	effs := m.step(opStartWake{})
	mc := findEffect(t, effs, effModeChange)
	if mc.from != ModeIdle || mc.to != ModeWakeWord {
		t.Errorf("mode change = %q -> %q", mc.from, mc.to)
	}
	if findEffect(t, effs, effStartStream).gen != 1 {
		t.Error("first stream should be generation 1")
	}
	snap := m.snapshot()
	if !snap.Armed || !snap.Listening || snap.Mode != ModeWakeWord {
		t.Errorf("snapshot = %+v", snap)
	}

	if effs := m.step(opStartWake{}); len(effs) != 0 {
		t.Errorf("second StartWake produced effects: %+v", effs)
	}
}

func TestWakeWordDetection(t *testing.T) {
	t.Parallel()

	for _, v := range wakeword.DefaultVariants {
		t.Run(v, func(t *testing.T) {
			t.Parallel()
			m := armed(t, DefaultConfig())
			effs := m.step(streamResult{gen: 1, res: interim("bem " + v)})
			if m.mode != ModeCommand {
				t.Fatalf("mode = %q, want command", m.mode)
			}
			if m.transcript != "" {
				t.Errorf("transcript = %q, want cleared", m.transcript)
			}
			if hasEffect(effs, effEmit) {
				t.Error("command emitted without remainder")
			}
			sch := findEffect(t, effs, effSchedule)
			if sch.slot != slotWindow || sch.delay != 10*time.Second || m.window != windowCapture {
				t.Errorf("schedule = %+v, window = %d", sch, m.window)
			}
		})
	}
}

func TestWakeWordNotPresent(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	for _, text := range []string{"bom dia", "que horas são", "jar vis"} {
		effs := m.step(streamResult{gen: 1, res: final(text)})
		if m.mode != ModeWakeWord {
			t.Fatalf("%q: mode = %q, want wake_word", text, m.mode)
		}
		if m.transcript != text {
			t.Errorf("%q: transcript = %q", text, m.transcript)
		}
		if len(effs) != 0 {
			t.Errorf("%q: effects = %+v", text, effs)
		}
	}
}

func TestWakeWordWithCommandInSameUtterance(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	effs := m.step(streamResult{gen: 1, res: final("jarvis open the door")})

	emit := findEffect(t, effs, effEmit)
	if emit.text != "open the door" || emit.source != SourceWakeWord {
		t.Errorf("emit = %+v", emit)
	}
	if m.mode != ModeWakeWord {
		t.Errorf("mode = %q, want wake_word", m.mode)
	}
	if m.window != windowGrace || !m.pending[slotWindow] {
		t.Error("grace timer not scheduled")
	}
	if m.command != "open the door" {
		t.Errorf("command = %q", m.command)
	}

	fireWindow(m)
	if m.transcript != "" || m.mode != ModeWakeWord {
		t.Errorf("after grace: mode = %q, transcript = %q", m.mode, m.transcript)
	}
}

func TestWakeWordInterimWithRemainderEntersCapture(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	effs := m.step(streamResult{gen: 1, res: interim("jarvis open the")})
	if hasEffect(effs, effEmit) {
		t.Error("interim remainder must not be emitted")
	}
	if m.mode != ModeCommand {
		t.Errorf("mode = %q, want command", m.mode)
	}
}

func TestHeyJarvisAloneEntersCapture(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	effs := m.step(streamResult{gen: 1, res: final("hey jarvis")})
	if hasEffect(effs, effEmit) {
		t.Error("command emitted for bare wake phrase")
	}
	if m.mode != ModeCommand {
		t.Errorf("mode = %q, want command", m.mode)
	}
}

func TestCommandCapture(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		final string
		want  string
	}{
		{"plain", "abre o painel", "abre o painel"},
		{"repeated wake phrase", "Jarvis abre o painel", "abre o painel"},
		{"wake phrase inside command", "abre o jarvis", "abre o jarvis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := armed(t, DefaultConfig())
			m.step(streamResult{gen: 1, res: interim("jarvis")})

			// Interim results only update the transcript.
			if effs := m.step(streamResult{gen: 1, res: interim("abre")}); len(effs) != 0 {
				t.Errorf("interim effects = %+v", effs)
			}
			if m.transcript != "abre" {
				t.Errorf("transcript = %q", m.transcript)
			}

			effs := m.step(streamResult{gen: 1, res: final(tt.final)})
			emit := findEffect(t, effs, effEmit)
			if emit.text != tt.want || emit.source != SourceCapture {
				t.Errorf("emit = %+v, want %q", emit, tt.want)
			}
			sch := findEffect(t, effs, effSchedule)
			if sch.delay != 500*time.Millisecond || m.window != windowGrace {
				t.Errorf("grace schedule = %+v", sch)
			}
			if m.mode != ModeCommand {
				t.Errorf("mode before grace = %q", m.mode)
			}

			fireWindow(m)
			if m.mode != ModeWakeWord || m.transcript != "" {
				t.Errorf("after grace: mode = %q, transcript = %q", m.mode, m.transcript)
			}
		})
	}
}

func TestCommandCaptureIgnoresBareWakePhrase(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	m.step(streamResult{gen: 1, res: interim("jarvis")})
	captureGen := m.gens[slotWindow]

	effs := m.step(streamResult{gen: 1, res: final("jarvis")})
	if hasEffect(effs, effEmit) {
		t.Error("bare wake phrase emitted as command")
	}
	if m.mode != ModeCommand || m.gens[slotWindow] != captureGen {
		t.Error("capture window should continue unchanged")
	}
}

func TestCaptureTimeout(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	m.step(streamResult{gen: 1, res: interim("hey jarvis")})
	m.step(streamResult{gen: 1, res: interim("hmm")})

	effs := fireWindow(m)
	if !hasEffect(effs, effCaptureTimeout) {
		t.Error("capture timeout not reported")
	}
	if hasEffect(effs, effEmit) {
		t.Error("timeout emitted a command")
	}
	if m.mode != ModeWakeWord || m.transcript != "" || m.command != "" {
		t.Errorf("after timeout: %+v", m.snapshot())
	}
	if hasEffect(effs, effStopStream) {
		t.Error("armed timeout must keep the stream")
	}
}

func TestStaleTimerIsNoop(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	m.step(streamResult{gen: 1, res: interim("jarvis")})
	captureGen := m.gens[slotWindow]

	m.step(streamResult{gen: 1, res: final("liga a luz")})
	if effs := m.step(timerFired{slot: slotWindow, gen: captureGen}); len(effs) != 0 {
		t.Errorf("stale capture timer produced %+v", effs)
	}
	if m.mode != ModeCommand {
		t.Errorf("stale timer changed mode to %q", m.mode)
	}

	// Firing the same current generation twice only acts once.
	fireWindow(m)
	if effs := fireWindow(m); len(effs) != 0 {
		t.Errorf("duplicate timer produced %+v", effs)
	}
}

func TestDisarmRace(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	effs := m.step(opStopWake{})
	if !hasEffect(effs, effStopStream) {
		t.Error("stop did not stop the stream")
	}
	if m.mode != ModeIdle || m.armed {
		t.Fatalf("after stop: %+v", m.snapshot())
	}

	effs = m.step(streamEnd{gen: 1})
	if hasEffect(effs, effSchedule) || hasEffect(effs, effStartStream) || m.pending[slotRestart] {
		t.Errorf("stream end after disarm scheduled a restart: %+v", effs)
	}
	if m.mode != ModeIdle {
		t.Errorf("mode = %q", m.mode)
	}
}

func TestDisarmCancelsPendingRestart(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	m.step(streamEnd{gen: 1})
	restartGen := m.gens[slotRestart]

	effs := m.step(opStopWake{})
	if !hasEffect(effs, effCancel) {
		t.Error("pending restart not cancelled")
	}
	if effs := m.step(timerFired{slot: slotRestart, gen: restartGen}); len(effs) != 0 {
		t.Errorf("cancelled restart fired: %+v", effs)
	}
	if m.streamActive {
		t.Error("stream restarted after disarm")
	}
}

func TestStopWakeWhenDisarmed(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, DefaultConfig())
	if effs := m.step(opStopWake{}); len(effs) != 0 {
		t.Errorf("effects = %+v", effs)
	}
}

func TestStreamEndRestartsWhileArmed(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	effs := m.step(streamEnd{gen: 1})
	if r := findEffect(t, effs, effRestart); r.reason != "end" || r.delay != 100*time.Millisecond {
		t.Errorf("restart = %+v", r)
	}
	if m.mode != ModeWakeWord {
		t.Errorf("mode = %q", m.mode)
	}

	effs = fireRestart(m)
	if findEffect(t, effs, effStartStream).gen != 2 {
		t.Error("restart should start generation 2")
	}

	// Events from the replaced stream are ignored.
	if effs := m.step(streamEnd{gen: 1}); len(effs) != 0 {
		t.Errorf("stale end produced %+v", effs)
	}
	if effs := m.step(streamResult{gen: 1, res: final("jarvis liga")}); len(effs) != 0 {
		t.Errorf("stale result produced %+v", effs)
	}
}

func TestStreamErrorRestartsAfterLongerDelay(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	m.step(streamResult{gen: 1, res: interim("jarvis")})
	effs := m.step(streamError{gen: 1, err: errors.New("network")})

	if r := findEffect(t, effs, effRestart); r.reason != "error" || r.delay != time.Second {
		t.Errorf("restart = %+v", r)
	}
	if m.mode != ModeCommand {
		t.Errorf("error changed mode to %q", m.mode)
	}
	if m.lastErr != "network" {
		t.Errorf("lastErr = %q", m.lastErr)
	}

	// The end that follows an error does not schedule a second restart.
	if effs := m.step(streamEnd{gen: 1}); hasEffect(effs, effSchedule) {
		t.Errorf("end after error rescheduled: %+v", effs)
	}
	if !hasEffect(fireRestart(m), effStartStream) {
		t.Error("restart timer did not start the stream")
	}
}

func TestConsecutiveErrorCap(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxConsecutiveErrors = 3
	m := armed(t, cfg)

	fail := func() []effect {
		effs := m.step(streamError{gen: m.streamGen, err: errors.New("no-speech")})
		if m.armed {
			fireRestart(m)
		}
		return effs
	}

	fail()
	fail()
	m.step(streamResult{gen: m.streamGen, res: interim("hmm")})
	fail()
	fail()
	if !m.armed {
		t.Fatal("result should reset the error count")
	}

	effs := fail()
	if !hasEffect(effs, effDisarmed) {
		t.Fatalf("cap not enforced: %+v", effs)
	}
	snap := m.snapshot()
	if snap.Armed || snap.Mode != ModeIdle || snap.LastError != "no-speech" {
		t.Errorf("after cap: %+v", snap)
	}
	if m.pending[slotRestart] || m.pending[slotWindow] {
		t.Error("timers left pending after disarm")
	}

	m.step(opStartWake{})
	if !m.armed || m.lastErr != "" || m.errors != 0 {
		t.Error("re-arming should reset the error state")
	}
}

func TestUnlimitedRestarts(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxConsecutiveErrors = 0
	m := armed(t, cfg)
	for range 50 {
		m.step(streamError{gen: m.streamGen, err: errors.New("boom")})
		fireRestart(m)
	}
	if !m.armed || !m.streamActive {
		t.Error("session gave up despite disabled cap")
	}
}

func TestManualCapture(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, DefaultConfig())
	effs := m.step(opStartListening{})
	if m.mode != ModeCommand || m.armed {
		t.Fatalf("after StartListening: %+v", m.snapshot())
	}
	if !hasEffect(effs, effStartStream) || !m.pending[slotWindow] {
		t.Error("manual capture must start the stream and the capture timer")
	}

	effs = m.step(streamResult{gen: 1, res: final("liga a luz")})
	if findEffect(t, effs, effEmit).text != "liga a luz" {
		t.Error("command not emitted")
	}

	effs = fireWindow(m)
	if m.mode != ModeIdle || !hasEffect(effs, effStopStream) {
		t.Errorf("one-shot capture should end idle with the stream stopped: %+v", effs)
	}
}

func TestManualCaptureTimeout(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, DefaultConfig())
	m.step(opStartListening{})
	effs := fireWindow(m)
	if !hasEffect(effs, effCaptureTimeout) || !hasEffect(effs, effStopStream) {
		t.Errorf("effects = %+v", effs)
	}
	if m.mode != ModeIdle {
		t.Errorf("mode = %q", m.mode)
	}
}

func TestStartListeningOnlyFromIdle(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	if effs := m.step(opStartListening{}); len(effs) != 0 {
		t.Errorf("effects = %+v", effs)
	}
	if m.mode != ModeWakeWord {
		t.Errorf("mode = %q", m.mode)
	}
}

func TestStopListening(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, DefaultConfig())
	m.step(opStartListening{})
	effs := m.step(opStopListening{})
	if !hasEffect(effs, effStopStream) || hasEffect(effs, effModeChange) {
		t.Errorf("StopListening effects = %+v", effs)
	}
	if m.mode != ModeCommand {
		t.Errorf("mode changed before stream end: %q", m.mode)
	}

	m.step(streamEnd{gen: 1})
	if m.mode != ModeIdle || m.pending[slotWindow] {
		t.Errorf("after end: mode = %q, window pending = %v", m.mode, m.pending[slotWindow])
	}
}

func TestStopListeningIgnoredWhileArmed(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	m.step(streamResult{gen: 1, res: interim("jarvis")})
	if effs := m.step(opStopListening{}); len(effs) != 0 {
		t.Errorf("effects = %+v", effs)
	}
}

func TestStartFailureFeedsError(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, DefaultConfig())
	m.step(opStartWake{})
	effs := m.step(streamError{gen: 1, err: errors.New("not-allowed")})
	if !hasEffect(effs, effRestart) {
		t.Errorf("effects = %+v", effs)
	}
	if m.streamActive {
		t.Error("stream still marked active")
	}
}

func TestResultsIgnoredWhileIdle(t *testing.T) {
	t.Parallel()

	m := newTestMachine(t, DefaultConfig())
	m.step(opStartListening{})
	m.step(opStopListening{})
	m.step(streamEnd{gen: 1})

	if effs := m.step(streamResult{gen: 1, res: final("jarvis liga")}); len(effs) != 0 {
		t.Errorf("effects = %+v", effs)
	}
	if m.transcript != "" {
		t.Errorf("transcript = %q", m.transcript)
	}
}

func TestTakeCommand(t *testing.T) {
	t.Parallel()

	m := armed(t, DefaultConfig())
	m.step(streamResult{gen: 1, res: final("jarvis status")})

	var out string
	m.step(opTakeCommand{out: &out})
	if out != "status" {
		t.Errorf("first take = %q", out)
	}
	m.step(opTakeCommand{out: &out})
	if out != "" {
		t.Errorf("second take = %q, want empty", out)
	}
}

func TestUnsupported(t *testing.T) {
	t.Parallel()

	m := newMachine(DefaultConfig(), wakeword.New(), false)
	for _, ev := range []any{opStartWake{}, opStartListening{}, opStopListening{}, opStopWake{}} {
		if effs := m.step(ev); len(effs) != 0 {
			t.Errorf("%T produced %+v", ev, effs)
		}
	}
	if snap := m.snapshot(); snap.Supported || snap.Listening || snap.Mode != ModeIdle {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	got := Config{CommandGrace: time.Second, MaxConsecutiveErrors: -1}.withDefaults()
	want := DefaultConfig()
	want.CommandGrace = time.Second
	want.MaxConsecutiveErrors = 0
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
}
