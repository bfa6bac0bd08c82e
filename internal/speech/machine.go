package speech

import (
	"time"

	"github.com/MrWong99/jarvis/internal/wakeword"
)

// timerSlot identifies one of the two timers a session owns. The window
// slot holds either the capture timeout or the post-command grace delay, so
// at most one of them can ever be pending.
type timerSlot int

const (
	slotWindow timerSlot = iota
	slotRestart
	numSlots
)

type windowKind int

const (
	windowCapture windowKind = iota
	windowGrace
)

// Events consumed by machine.step.
type (
	opStartWake      struct{}
	opStopWake       struct{}
	opStartListening struct{}
	opStopListening  struct{}
	opTakeCommand    struct{ out *string }
	opFlush          struct{}

	streamResult struct {
		gen uint64
		res Result
	}
	streamEnd   struct{ gen uint64 }
	streamError struct {
		gen uint64
		err error
	}
	timerFired struct {
		slot timerSlot
		gen  uint64
	}
)

type effectKind int

const (
	effStartStream effectKind = iota
	effStopStream
	effSchedule
	effCancel
	effEmit
	effModeChange
	effCaptureTimeout
	effRestart
	effDisarmed
)

// effect is a side effect requested by a transition. The session executes
// effects in order after each step.
type effect struct {
	kind   effectKind
	slot   timerSlot
	gen    uint64
	delay  time.Duration
	text   string
	source CommandSource
	from   Mode
	to     Mode
	reason string
	err    error
}

// machine is the recognition state machine. It is not safe for concurrent
// use; the session serialises every call through its event loop.
type machine struct {
	cfg       Config
	wake      *wakeword.Matcher
	supported bool

	mode       Mode
	armed      bool
	transcript string
	command    string
	lastErr    string

	streamGen    uint64
	streamActive bool

	gens    [numSlots]uint64
	pending [numSlots]bool
	window  windowKind

	errors int

	effects []effect
}

func newMachine(cfg Config, wake *wakeword.Matcher, supported bool) *machine {
	return &machine{
		cfg:       cfg.withDefaults(),
		wake:      wake,
		supported: supported,
		mode:      ModeIdle,
	}
}

// step applies ev and returns the resulting effects.
func (m *machine) step(ev any) []effect {
	m.effects = nil
	switch ev := ev.(type) {
	case opStartWake:
		m.startWake()
	case opStopWake:
		m.stopWake()
	case opStartListening:
		m.startListening()
	case opStopListening:
		m.stopListening()
	case opTakeCommand:
		*ev.out = m.command
		m.command = ""
	case opFlush:
	case streamResult:
		if ev.gen == m.streamGen {
			m.onResult(ev.res)
		}
	case streamEnd:
		if ev.gen == m.streamGen {
			m.onEnd()
		}
	case streamError:
		if ev.gen == m.streamGen {
			m.onError(ev.err)
		}
	case timerFired:
		if m.pending[ev.slot] && ev.gen == m.gens[ev.slot] {
			m.pending[ev.slot] = false
			m.onTimer(ev.slot)
		}
	}
	return m.effects
}

func (m *machine) snapshot() Snapshot {
	return Snapshot{
		Mode:       m.mode,
		Transcript: m.transcript,
		Command:    m.command,
		Armed:      m.armed,
		Listening:  m.mode != ModeIdle,
		Supported:  m.supported,
		LastError:  m.lastErr,
	}
}

func (m *machine) startWake() {
	if !m.supported || m.armed {
		return
	}
	m.armed = true
	m.errors = 0
	m.lastErr = ""
	m.transcript = ""
	m.command = ""
	m.cancel(slotWindow)
	m.cancel(slotRestart)
	m.setMode(ModeWakeWord)
	if !m.streamActive {
		m.startStream()
	}
}

func (m *machine) stopWake() {
	if !m.supported {
		return
	}
	m.armed = false
	m.transcript = ""
	m.cancel(slotWindow)
	m.cancel(slotRestart)
	m.setMode(ModeIdle)
	m.stopStream()
}

func (m *machine) startListening() {
	if !m.supported || m.mode != ModeIdle {
		return
	}
	m.transcript = ""
	m.setMode(ModeCommand)
	m.schedule(slotWindow, windowCapture, m.cfg.CaptureTimeout)
	if !m.streamActive {
		m.startStream()
	}
}

func (m *machine) stopListening() {
	if !m.supported || m.mode != ModeCommand || m.armed {
		return
	}
	if m.streamActive {
		// The stream's end event moves the session to idle.
		m.stopStream()
		return
	}
	m.cancel(slotWindow)
	m.transcript = ""
	m.setMode(ModeIdle)
}

func (m *machine) onResult(res Result) {
	if m.mode == ModeIdle {
		return
	}
	m.errors = 0

	interim, final := res.split()
	current := interim
	if final != "" {
		current = final
	}
	m.transcript = current

	switch m.mode {
	case ModeWakeWord:
		rest, ok := m.wake.Extract(current)
		if !ok {
			return
		}
		if rest != "" && final != "" {
			m.emit(rest, SourceWakeWord)
			m.schedule(slotWindow, windowGrace, m.cfg.CommandGrace)
			return
		}
		m.transcript = ""
		m.setMode(ModeCommand)
		m.schedule(slotWindow, windowCapture, m.cfg.CaptureTimeout)

	case ModeCommand:
		if final == "" {
			return
		}
		text := final
		if rest, ok := m.wake.StripLeading(final); ok {
			if rest == "" {
				// Only the wake phrase again; keep capturing.
				m.transcript = ""
				return
			}
			text = rest
		}
		m.emit(text, SourceCapture)
		m.schedule(slotWindow, windowGrace, m.cfg.CommandGrace)
	}
}

func (m *machine) onEnd() {
	m.streamActive = false
	if m.armed {
		if !m.pending[slotRestart] {
			m.schedule(slotRestart, 0, m.cfg.RestartDelay)
			m.effects = append(m.effects, effect{kind: effRestart, reason: "end", delay: m.cfg.RestartDelay})
		}
		return
	}
	m.cancel(slotWindow)
	m.transcript = ""
	m.setMode(ModeIdle)
}

func (m *machine) onError(err error) {
	m.errors++
	if err != nil {
		m.lastErr = err.Error()
	}
	m.stopStream()
	if !m.armed {
		return
	}
	if m.cfg.MaxConsecutiveErrors > 0 && m.errors >= m.cfg.MaxConsecutiveErrors {
		m.armed = false
		m.transcript = ""
		m.cancel(slotWindow)
		m.cancel(slotRestart)
		m.setMode(ModeIdle)
		m.effects = append(m.effects, effect{kind: effDisarmed, err: err})
		return
	}
	m.schedule(slotRestart, 0, m.cfg.ErrorRestartDelay)
	m.effects = append(m.effects, effect{kind: effRestart, reason: "error", delay: m.cfg.ErrorRestartDelay})
}

func (m *machine) onTimer(slot timerSlot) {
	if slot == slotRestart {
		if m.armed && !m.streamActive {
			m.startStream()
		}
		return
	}

	if m.window == windowCapture {
		m.effects = append(m.effects, effect{kind: effCaptureTimeout})
	}
	m.transcript = ""
	if m.armed {
		m.setMode(ModeWakeWord)
		return
	}
	m.setMode(ModeIdle)
	m.stopStream()
}

func (m *machine) emit(text string, src CommandSource) {
	m.command = text
	m.effects = append(m.effects, effect{kind: effEmit, text: text, source: src})
}

func (m *machine) setMode(to Mode) {
	if m.mode == to {
		return
	}
	m.effects = append(m.effects, effect{kind: effModeChange, from: m.mode, to: to})
	m.mode = to
}

// schedule replaces whatever timer occupies slot. Bumping the generation
// turns any callback of the replaced timer into a no-op.
func (m *machine) schedule(slot timerSlot, kind windowKind, d time.Duration) {
	m.gens[slot]++
	m.pending[slot] = true
	if slot == slotWindow {
		m.window = kind
	}
	m.effects = append(m.effects, effect{kind: effSchedule, slot: slot, gen: m.gens[slot], delay: d})
}

func (m *machine) cancel(slot timerSlot) {
	if !m.pending[slot] {
		return
	}
	m.gens[slot]++
	m.pending[slot] = false
	m.effects = append(m.effects, effect{kind: effCancel, slot: slot})
}

func (m *machine) startStream() {
	m.streamGen++
	m.streamActive = true
	m.effects = append(m.effects, effect{kind: effStartStream, gen: m.streamGen})
}

func (m *machine) stopStream() {
	if !m.streamActive {
		return
	}
	m.streamActive = false
	m.effects = append(m.effects, effect{kind: effStopStream, gen: m.streamGen})
}
