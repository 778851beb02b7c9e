package store

// Result is the tagged outcome of a handler: a settled delta to merge, an
// explicit pending marker for in-flight asynchronous work, or nothing.
type Result struct {
	delta   Delta
	settled bool
	pending bool
}

// None reports no state change. The zero Result is equivalent.
func None() Result {
	return Result{}
}

// Settled wraps a delta for merging into state.
func Settled(d Delta) Result {
	return Result{delta: d, settled: true}
}

// Pending marks a result that has not settled yet. It contributes no delta to
// the current cycle; the asynchronous work dispatches again when it resolves.
func Pending() Result {
	return Result{pending: true}
}

// IsPending reports whether the result is an in-flight marker.
func (r Result) IsPending() bool {
	return r.pending
}

// Delta returns the settled delta and whether one exists.
func (r Result) Delta() (Delta, bool) {
	if !r.settled || r.pending {
		return nil, false
	}
	return r.delta, true
}
