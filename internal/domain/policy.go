package domain

import (
	"fmt"
	"time"
)

// PolicyKind selects how a stream's batches are timed.
type PolicyKind string

const (
	// PolicyImmediate flushes on the next scheduler tick.
	PolicyImmediate PolicyKind = "IMMEDIATE"
	// PolicyDelayedBy flushes a fixed duration after the first event in a fresh
	// batch. Later events never push the due time back (fixed-window coalescing).
	PolicyDelayedBy PolicyKind = "DELAYED_BY"
	// PolicyAtDailyTime flushes at the next occurrence of a wall-clock hour in a
	// given timezone.
	PolicyAtDailyTime PolicyKind = "AT_DAILY_TIME"
)

func (k PolicyKind) String() string { return string(k) }

func (k PolicyKind) IsValid() bool {
	switch k {
	case PolicyImmediate, PolicyDelayedBy, PolicyAtDailyTime:
		return true
	}
	return false
}

// TimingPolicy describes when a stream's batches become due. A stream's policy
// is chosen once at registration and never changes afterwards.
type TimingPolicy struct {
	Kind     PolicyKind
	Delay    time.Duration
	Hour     int
	Timezone string
}

// Immediate returns a policy that flushes on the next scheduler tick.
func Immediate() TimingPolicy {
	return TimingPolicy{Kind: PolicyImmediate}
}

// DelayedBy returns a policy that flushes delay after the first event.
func DelayedBy(delay time.Duration) TimingPolicy {
	return TimingPolicy{Kind: PolicyDelayedBy, Delay: delay}
}

// AtDailyTime returns a policy that flushes at the next occurrence of hour
// o'clock in timezone.
func AtDailyTime(hour int, timezone string) TimingPolicy {
	return TimingPolicy{Kind: PolicyAtDailyTime, Hour: hour, Timezone: timezone}
}

func (p TimingPolicy) Validate() error {
	switch p.Kind {
	case PolicyImmediate:
		return nil
	case PolicyDelayedBy:
		if p.Delay <= 0 {
			return fmt.Errorf("%w: delay must be positive, got %s", ErrValidation, p.Delay)
		}
		return nil
	case PolicyAtDailyTime:
		if p.Hour < 0 || p.Hour > 23 {
			return fmt.Errorf("%w: hour must be in [0,23], got %d", ErrValidation, p.Hour)
		}
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("%w: invalid timezone %q: %v", ErrValidation, p.Timezone, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: invalid policy kind %q", ErrValidation, p.Kind)
	}
}

// ComputeDueAt returns the due time for a batch whose first event arrived at
// now. For AtDailyTime the result is strictly after now, so an event arriving
// exactly on the boundary waits for the next day's slot.
func (p TimingPolicy) ComputeDueAt(now time.Time) time.Time {
	switch p.Kind {
	case PolicyImmediate:
		return now
	case PolicyDelayedBy:
		return now.Add(p.Delay)
	case PolicyAtDailyTime:
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			loc = time.UTC
		}
		local := now.In(loc)
		due := time.Date(local.Year(), local.Month(), local.Day(), p.Hour, 0, 0, 0, loc)
		if !due.After(local) {
			due = due.AddDate(0, 0, 1)
		}
		return due
	default:
		return now
	}
}
