package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped because its breaker is open.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the breaker created for each group entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds interchangeable backends of type T, each with its own
// circuit breaker. Entries must be added before the group is shared between
// goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after the existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in registration order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the circuit breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker
		}
	}
	return nil
}

// order returns the entries with the one named prefer moved to the front.
func (fg *FallbackGroup[T]) order(prefer string) []*fallbackEntry[T] {
	out := make([]*fallbackEntry[T], 0, len(fg.entries))
	for i := range fg.entries {
		if fg.entries[i].name == prefer {
			out = append(out, &fg.entries[i])
		}
	}
	for i := range fg.entries {
		if fg.entries[i].name != prefer {
			out = append(out, &fg.entries[i])
		}
	}
	return out
}

// Execute calls fn on each entry in registration order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, _, err := ExecuteWithResult(fg, "", func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry until one succeeds and returns
// its result together with the entry name. The entry named prefer is tried
// first; an empty or unknown prefer keeps registration order. Entries with
// an open breaker are skipped.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], prefer string, fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for _, entry := range fg.order(prefer) {
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", entry.name)
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
