package reach

import "sync/atomic"

// Flag is a monotonic predicate. It transitions at most once from unset to
// set, recording the reason given by the goroutine that won the transition.
// The zero value is an unset flag.
type Flag struct {
	reason atomic.Pointer[holder]
}

type holder struct {
	r Reason
}

// TrySet sets the flag with reason r. It reports whether this call
// performed the transition; it returns false when the flag was already set,
// by this goroutine or any other.
func (f *Flag) TrySet(r Reason) bool {
	Check(r)
	if f.reason.Load() != nil {
		return false
	}
	return f.reason.CompareAndSwap(nil, &holder{r: r})
}

// RunOnceAndSet sets the flag and, on the winning goroutine only, runs hook
// synchronously before returning true. Losers return false immediately and
// do not wait for the winner's hook to finish.
func (f *Flag) RunOnceAndSet(r Reason, hook func()) bool {
	if !f.TrySet(r) {
		return false
	}
	if hook != nil {
		hook()
	}
	return true
}

// IsSet reports whether the flag has been set.
func (f *Flag) IsSet() bool {
	return f.reason.Load() != nil
}

// Reason returns the reason recorded by the transition, or nil.
func (f *Flag) Reason() Reason {
	if h := f.reason.Load(); h != nil {
		return h.r
	}
	return nil
}

// Mark is a reason-less once-only predicate, used to guard registrations
// that are expected to be requested repeatedly.
type Mark struct {
	v atomic.Bool
}

// TrySet reports whether this call set the mark.
func (m *Mark) TrySet() bool {
	return m.v.CompareAndSwap(false, true)
}

// IsSet reports whether the mark is set.
func (m *Mark) IsSet() bool {
	return m.v.Load()
}
