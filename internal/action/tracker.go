package action

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/jarvis/internal/observe"
)

// DefaultHistoryLimit is the number of actions retained by default.
const DefaultHistoryLimit = 50

// Log messages written by the tracker itself.
const (
	msgCompleted     = "action completed successfully"
	msgFailed        = "action failed"
	msgCancelled     = "action cancelled by user"
	msgEmergencyStop = "EMERGENCY STOP - all actions cancelled"
)

// Option configures a [Tracker].
type Option func(*Tracker)

// WithHistoryLimit sets how many actions are retained. Values below 1 are
// ignored.
func WithHistoryLimit(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.limit = n
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator overrides action id generation.
func WithIDGenerator(gen func() string) Option {
	return func(t *Tracker) { t.newID = gen }
}

// WithMetrics records action metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// Tracker is the registry of actions. The registry is ordered newest first
// and holds at most the configured history limit; starting an action beyond
// the limit evicts the oldest entry whatever its status.
type Tracker struct {
	mu      sync.Mutex
	actions []*Action
	stopped bool

	limit   int
	now     func() time.Time
	newID   func() string
	metrics *observe.Metrics

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextW    int
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		limit:    DefaultHistoryLimit,
		now:      time.Now,
		newID:    newID,
		watchers: make(map[int]chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

func newID() string {
	return "action_" + uuid.Must(uuid.NewV7()).String()
}

// Start registers a new action and returns its id. The action starts
// pending while the tracker is stopped and running otherwise.
func (t *Tracker) Start(d Descriptor) string {
	t.mu.Lock()
	now := t.now()
	a := &Action{
		ID:          t.newID(),
		Kind:        d.Kind,
		Title:       d.Title,
		Description: d.Description,
		Status:      StatusRunning,
		StartedAt:   now,
		Cancellable: d.Cancellable,
		Logs: []LogEntry{{
			Timestamp: now,
			Message:   "starting: " + d.Title,
			Severity:  SeverityInfo,
		}},
	}
	if t.stopped {
		a.Status = StatusPending
	}
	if d.Progress != nil {
		p := clampProgress(*d.Progress)
		a.Progress = &p
	}

	t.actions = append([]*Action{a}, t.actions...)
	var evicted []*Action
	if len(t.actions) > t.limit {
		evicted = t.actions[t.limit:]
		t.actions = t.actions[:t.limit:t.limit]
	}
	id, status := a.ID, a.Status
	t.mu.Unlock()

	t.metrics.ActionsStarted.Add(context.Background(), 1, metric.WithAttributes(observe.Attr("kind", string(d.Kind))))
	slog.Debug("action: started", "id", id, "kind", d.Kind, "title", d.Title, "status", status)
	for _, e := range evicted {
		slog.Debug("action: evicted from history", "id", e.ID, "status", e.Status)
	}
	t.notify()
	return id
}

// Update merges u into the action with the given id. Unknown ids and
// disallowed status changes are ignored.
func (t *Tracker) Update(id string, u Update) {
	t.mu.Lock()
	a := t.find(id)
	if a == nil {
		t.mu.Unlock()
		return
	}
	if u.Title != nil {
		a.Title = *u.Title
	}
	if u.Description != nil {
		a.Description = *u.Description
	}
	if u.Progress != nil {
		p := clampProgress(*u.Progress)
		a.Progress = &p
	}
	if u.Status != nil && *u.Status != a.Status {
		if a.Status == StatusPending && *u.Status == StatusRunning {
			a.Status = StatusRunning
		} else {
			slog.Debug("action: ignoring status update", "id", id, "from", a.Status, "to", *u.Status)
		}
	}
	t.mu.Unlock()
	t.notify()
}

// AddLog appends a log entry to the action with the given id. An invalid
// severity is recorded as info. Unknown ids are ignored.
func (t *Tracker) AddLog(id, message string, sev Severity) {
	if !sev.IsValid() {
		sev = SeverityInfo
	}
	t.mu.Lock()
	a := t.find(id)
	if a == nil {
		t.mu.Unlock()
		return
	}
	a.Logs = append(a.Logs, LogEntry{Timestamp: t.now(), Message: message, Severity: sev})
	t.mu.Unlock()
	t.notify()
}

// Complete finishes a pending or running action as completed (success) or
// error. Terminal actions and unknown ids are left untouched.
func (t *Tracker) Complete(id string, success bool) {
	status, msg, sev := StatusError, msgFailed, SeverityError
	if success {
		status, msg, sev = StatusCompleted, msgCompleted, SeveritySuccess
	}

	t.mu.Lock()
	a := t.find(id)
	if a == nil || a.Status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.finish(a, status, msg, sev)
	p := 100
	a.Progress = &p
	kind := a.Kind
	t.mu.Unlock()

	t.metrics.RecordActionFinished(context.Background(), string(kind), string(status))
	slog.Debug("action: finished", "id", id, "status", status)
	t.notify()
}

// Cancel cancels a cancellable, non-terminal action. Other calls are
// ignored.
func (t *Tracker) Cancel(id string) {
	t.mu.Lock()
	a := t.find(id)
	if a == nil || !a.Cancellable || a.Status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	t.finish(a, StatusCancelled, msgCancelled, SeverityWarning)
	kind := a.Kind
	t.mu.Unlock()

	t.metrics.RecordActionFinished(context.Background(), string(kind), string(StatusCancelled))
	slog.Info("action: cancelled", "id", id)
	t.notify()
}

// StopAll cancels every running cancellable action and sets the stop flag,
// so that actions started afterwards stay pending until [Tracker.Resume].
func (t *Tracker) StopAll() {
	t.mu.Lock()
	t.stopped = true
	var kinds []Kind
	for _, a := range t.actions {
		if a.Status == StatusRunning && a.Cancellable {
			t.finish(a, StatusCancelled, msgEmergencyStop, SeverityWarning)
			kinds = append(kinds, a.Kind)
		}
	}
	t.mu.Unlock()

	ctx := context.Background()
	t.metrics.EmergencyStops.Add(ctx, 1)
	for _, k := range kinds {
		t.metrics.RecordActionFinished(ctx, string(k), string(StatusCancelled))
	}
	slog.Warn("action: emergency stop", "cancelled", len(kinds))
	t.notify()
}

// Resume clears the stop flag. Pending actions stay pending; their owners
// move them to running with [Tracker.Update].
func (t *Tracker) Resume() {
	t.mu.Lock()
	was := t.stopped
	t.stopped = false
	t.mu.Unlock()

	if was {
		slog.Info("action: resumed")
	}
	t.notify()
}

// ClearHistory drops every terminal action, keeping pending and running
// ones in their current order.
func (t *Tracker) ClearHistory() {
	t.mu.Lock()
	kept := t.actions[:0]
	for _, a := range t.actions {
		if !a.Status.IsTerminal() {
			kept = append(kept, a)
		}
	}
	clear(t.actions[len(kept):])
	t.actions = kept
	t.mu.Unlock()
	t.notify()
}

// Actions returns a snapshot of all actions, newest first.
func (t *Tracker) Actions() []Action {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Action, len(t.actions))
	for i, a := range t.actions {
		out[i] = a.clone()
	}
	return out
}

// Get returns a snapshot of the action with the given id.
func (t *Tracker) Get(id string) (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a := t.find(id); a != nil {
		return a.clone(), true
	}
	return Action{}, false
}

// Status returns the status of the action with the given id.
func (t *Tracker) Status(id string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a := t.find(id); a != nil {
		return a.Status, true
	}
	return "", false
}

// Current returns the most recently started running action. Several
// actions may run at once; only the newest one is reported.
func (t *Tracker) Current() (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a := t.current(); a != nil {
		return a.clone(), true
	}
	return Action{}, false
}

// Executing reports whether any action is pending or running.
func (t *Tracker) Executing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executing()
}

// Snapshot is a consistent view of the tracker taken under one lock.
type Snapshot struct {
	Actions   []Action
	Current   *Action
	Executing bool
	Stopped   bool
}

// Snapshot returns the actions together with the values derived from them.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Actions:   make([]Action, len(t.actions)),
		Executing: t.executing(),
		Stopped:   t.stopped,
	}
	for i, a := range t.actions {
		s.Actions[i] = a.clone()
	}
	if a := t.current(); a != nil {
		cur := a.clone()
		s.Current = &cur
	}
	return s
}

// current must be called with t.mu held.
func (t *Tracker) current() *Action {
	for _, a := range t.actions {
		if a.Status == StatusRunning {
			return a
		}
	}
	return nil
}

// executing must be called with t.mu held.
func (t *Tracker) executing() bool {
	for _, a := range t.actions {
		if !a.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// Stopped reports whether the emergency stop flag is set.
func (t *Tracker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Watch returns a channel that receives a value after tracker changes.
// Notifications coalesce: a slow reader sees one pending signal for any
// number of changes. Call the returned function to unsubscribe; it closes
// the channel.
func (t *Tracker) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.watchMu.Lock()
	id := t.nextW
	t.nextW++
	t.watchers[id] = ch
	t.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.watchMu.Lock()
			delete(t.watchers, id)
			t.watchMu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) notify() {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	for _, ch := range t.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// find must be called with t.mu held.
func (t *Tracker) find(id string) *Action {
	for _, a := range t.actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// finish must be called with t.mu held.
func (t *Tracker) finish(a *Action, status Status, msg string, sev Severity) {
	now := t.now()
	a.Status = status
	a.EndedAt = &now
	a.Logs = append(a.Logs, LogEntry{Timestamp: now, Message: msg, Severity: sev})
}
