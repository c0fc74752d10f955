package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template applied to every entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and optional fallbacks of the same provider
// type, each behind its own breaker. Entries must all be added before the
// group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   v,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Primary returns the first entry.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Check returns an error when every entry's breaker is open. Its signature
// matches a readiness probe.
func (fg *FallbackGroup[T]) Check(context.Context) error {
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: every circuit is open", ErrAllFailed)
}

// Execute calls fn on each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that return a value.
// Entries with an open breaker are skipped. A [context.Canceled] error stops
// the walk and is returned as is. When everything fails the result wraps
// [ErrAllFailed] and the last error.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", entry.name)
			continue
		}
		if i < len(fg.entries)-1 {
			slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
