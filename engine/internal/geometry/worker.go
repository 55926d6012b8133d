package geometry

import "sync/atomic"

// Snapshot is an immutable, owned copy of the particle set at submission
// time (spec.md §3: "a snapshot is never aliased into live particle
// storage"). Tick records which scheduler tick produced it, for late-result
// detection.
type Snapshot struct {
	Tick    int64
	Points  [][3]float64
	Weights []float64
}

// WorkResult pairs a Result with the tick of the snapshot that produced it,
// so the scheduler can discard results for a cycle it has already moved
// past.
type WorkResult struct {
	Tick   int64
	Result Result
}

// Worker is the single-producer/single-consumer asynchronous wrapper around
// an Adapter (spec.md §4.2): at most one request in flight, two
// non-blocking operations, a dedicated background goroutine owning exactly
// one in-flight slot, since the geometry backend tolerates no concurrent
// calls.
type Worker struct {
	adapter *Adapter

	submitCh chan Snapshot
	resultCh chan WorkResult
	stopCh   chan struct{}
	doneCh   chan struct{}

	pending atomic.Bool
}

// NewWorker starts the background goroutine and returns a ready worker.
func NewWorker(adapter *Adapter) *Worker {
	w := &Worker{
		adapter:  adapter,
		submitCh: make(chan Snapshot, 1),
		resultCh: make(chan WorkResult, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.doneCh)
	for {
		select {
		case snap, ok := <-w.submitCh:
			if !ok {
				return
			}
			result := w.safeCompute(snap)
			select {
			case w.resultCh <- WorkResult{Tick: snap.Tick, Result: result}:
			case <-w.stopCh:
				return
			}
		case <-w.stopCh:
			return
		}
	}
}

// safeCompute guards against a panic escaping the adapter itself (belt and
// braces beyond the adapter's own recover — spec.md §4.2: "worker-internal
// panics are caught and surfaced as an ALL_TRIANGULATION_FAIL result").
func (w *Worker) safeCompute(snap Snapshot) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = totalFailure(len(snap.Points), 0)
		}
	}()
	return w.adapter.Compute(snap.Points, snap.Weights)
}

// TrySubmit accepts snap if and only if no request is currently in flight.
func (w *Worker) TrySubmit(snap Snapshot) bool {
	if !w.pending.CompareAndSwap(false, true) {
		return false
	}
	select {
	case w.submitCh <- snap:
		return true
	default:
		// Should not happen given the single-slot CAS above, but never block
		// the caller's thread.
		w.pending.Store(false)
		return false
	}
}

// TryPoll returns a completed result if one is ready, without blocking.
// Consuming a result re-arms TrySubmit.
func (w *Worker) TryPoll() (WorkResult, bool) {
	select {
	case res := <-w.resultCh:
		w.pending.Store(false)
		return res, true
	default:
		return WorkResult{}, false
	}
}

// Pending reports whether a request is in flight or its result has not yet
// been consumed by TryPoll.
func (w *Worker) Pending() bool { return w.pending.Load() }

// Shutdown stops the background goroutine. Any in-flight result is
// discarded. Shutdown blocks until the goroutine has exited.
func (w *Worker) Shutdown() {
	close(w.stopCh)
	<-w.doneCh
}
