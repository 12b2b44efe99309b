package content

import "sync/atomic"

// jobPhase is the scheduling state of one coalescing job kind.
type jobPhase int32

const (
	jobIdle jobPhase = iota
	jobPending
	jobRunning
)

func (p jobPhase) String() string {
	switch p {
	case jobIdle:
		return "idle"
	case jobPending:
		return "pending"
	case jobRunning:
		return "running"
	default:
		return "unknown"
	}
}

// jobFlag coalesces requests for one kind of background job (reparse or
// re-resolve). Transitions are compare-and-swap:
//
//	idle    -> pending  request accepted, caller enqueues a job
//	pending -> pending  request coalesced into the already-queued job
//	running -> pending  request accepted, a fresh job is enqueued; the
//	                    running job's finish transition then no-ops
//	pending -> running  job dequeued and started
//	running -> idle     job finished with no interleaved request
//
// The pending state is cleared when the job starts, not when it is
// requested, so a request arriving between enqueue and dequeue is never
// silently dropped.
type jobFlag struct {
	v atomic.Int32
}

// request records that a job of this kind is wanted. It returns true when
// the caller must enqueue a new job, false when an already-pending job will
// cover the request.
func (f *jobFlag) request() bool {
	for {
		switch s := jobPhase(f.v.Load()); s {
		case jobIdle:
			if f.v.CompareAndSwap(int32(jobIdle), int32(jobPending)) {
				return true
			}
		case jobPending:
			return false
		case jobRunning:
			if f.v.CompareAndSwap(int32(jobRunning), int32(jobPending)) {
				return true
			}
		}
	}
}

// start marks the dequeued job as running.
func (f *jobFlag) start() {
	f.v.CompareAndSwap(int32(jobPending), int32(jobRunning))
}

// finish returns the flag to idle unless a request arrived while the job
// was running, in which case the pending state is left for the next job.
func (f *jobFlag) finish() {
	f.v.CompareAndSwap(int32(jobRunning), int32(jobIdle))
}

func (f *jobFlag) phase() jobPhase {
	return jobPhase(f.v.Load())
}
