// Package action tracks asynchronously executing actions: their lifecycle
// status, progress and append-only logs, bounded history, and the global
// emergency stop.
//
// The [Tracker] only does bookkeeping. Cancellation is advisory: the code
// performing an action is expected to poll [Tracker.Status] and stop on its
// own once the action is no longer running.
//
// All Tracker operations are safe for concurrent use.
package action

import (
	"slices"
	"time"
)

// Kind classifies an action for display.
type Kind string

const (
	KindTask          Kind = "task"
	KindAutomation    Kind = "automation"
	KindAPICall       Kind = "api_call"
	KindNavigation    Kind = "navigation"
	KindFileOperation Kind = "file_operation"
	KindSystem        Kind = "system"
)

// Kinds lists every valid [Kind].
var Kinds = []Kind{KindTask, KindAutomation, KindAPICall, KindNavigation, KindFileOperation, KindSystem}

// IsValid reports whether k is a recognised kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindTask, KindAutomation, KindAPICall, KindNavigation, KindFileOperation, KindSystem:
		return true
	}
	return false
}

// Label returns a human-readable name for k.
func (k Kind) Label() string {
	switch k {
	case KindTask:
		return "Task"
	case KindAutomation:
		return "Automation"
	case KindAPICall:
		return "API call"
	case KindNavigation:
		return "Navigation"
	case KindFileOperation:
		return "File operation"
	case KindSystem:
		return "System"
	}
	return "Unknown"
}

// Icon returns the emoji the dashboard shows for k.
func (k Kind) Icon() string {
	switch k {
	case KindTask:
		return "📋"
	case KindAutomation:
		return "🤖"
	case KindAPICall:
		return "🌐"
	case KindNavigation:
		return "🧭"
	case KindFileOperation:
		return "📁"
	case KindSystem:
		return "⚙️"
	}
	return "❔"
}

// Status is the lifecycle state of an action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether s is final. Terminal actions never change
// status again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Severity grades a log entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IsValid reports whether s is a recognised severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// LogEntry is one line in an action's log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// Action is a tracked unit of work. Values returned by the [Tracker] are
// snapshots; mutating them has no effect on the tracker.
type Action struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Progress    *int       `json:"progress,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Logs        []LogEntry `json:"logs"`
	Cancellable bool       `json:"cancellable"`
}

func (a *Action) clone() Action {
	c := *a
	c.Logs = slices.Clone(a.Logs)
	if a.Progress != nil {
		p := *a.Progress
		c.Progress = &p
	}
	if a.EndedAt != nil {
		e := *a.EndedAt
		c.EndedAt = &e
	}
	return c
}

// Descriptor describes a new action for [Tracker.Start].
type Descriptor struct {
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Cancellable bool   `json:"cancellable"`

	// Progress is the optional initial progress (0-100).
	Progress *int `json:"progress,omitempty"`
}

// Update holds the fields merged by [Tracker.Update]. Nil fields are left
// unchanged.
type Update struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Progress    *int    `json:"progress,omitempty"`

	// Status may only move a pending action to running. Terminal statuses are
	// set through Complete, Cancel and StopAll.
	Status *Status `json:"status,omitempty"`
}

func clampProgress(p int) int {
	return max(0, min(100, p))
}
