package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/tschain/internal/metrics"
)

// Role identifies an executor's position in the chain.
type Role int

const (
	RoleInput Role = iota
	RoleProcessor
	RoleOutput
)

// String returns the lower-case role name.
func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleProcessor:
		return "processor"
	case RoleOutput:
		return "output"
	}
	return "unknown"
}

// State is an executor's position in its lifecycle. It changes only under
// the ring lock.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateWaiting
	StateDraining
	StateFinished
	StateAborted
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// window is the contiguous (possibly wrapping) sub-range of the shared
// buffer currently owned by one executor, plus the stream conditions that
// travel with hand-offs. Mutated only under the ring lock. inputEnd and
// aborted are monotonic: once true they stay true for the rest of the run.
type window struct {
	first    int
	count    int
	inputEnd bool
	aborted  bool
	bitrate  uint64
}

// grant is the contiguous run of packets returned by one waitWork call.
// If the owning window wraps past the end of the buffer, only the
// non-wrapping head is granted; the remainder comes from the next call.
// last is set when the stream ended and the grant covers the executor's
// whole remaining window, so the end may be forwarded with it.
type grant struct {
	first    int
	count    int
	bitrate  uint64
	inputEnd bool
	last     bool
	aborted  bool
}

// Ring is the fixed circular chain of executors sharing one packet buffer:
// input, processors in chain order, output, and back to input so that
// retired buffer space is immediately visible to the input executor.
// Executors are held in a slice and linked by index.
type Ring struct {
	mu    sync.Mutex
	buf   *PacketBuffer
	execs []*executor
	joint *JointTermination
}

// next returns the consumer side of executor i's hand-offs.
func (r *Ring) next(i int) *executor {
	return r.execs[(i+1)%len(r.execs)]
}

// prev returns the producer side of executor i's hand-offs.
func (r *Ring) prev(i int) *executor {
	return r.execs[(i+len(r.execs)-1)%len(r.execs)]
}

// executor is the per-stage endpoint of the buffer-sharing protocol. Each
// executor runs its plugin on its own goroutine and suspends only inside
// waitWork, on its own condition variable.
type executor struct {
	name  string
	role  Role
	ring  *Ring
	index int
	cond  *sync.Cond
	win   window
	state State

	// timeout bounds one waitWork call; 0 means wait forever. Expiry is
	// treated exactly like an external setAbort.
	timeout time.Duration

	// processed counts packets this stage has fully processed: received
	// and validated for the input, Process calls for processors, sent for
	// the output. Read by the control channel and joint termination.
	processed atomic.Uint64

	// joint termination opt-in bookkeeping, guarded by the ring lock.
	// ignoreJoint turns UseJointTermination into a no-op.
	opted       bool
	voted       bool
	ignoreJoint bool

	log *slog.Logger
	met *metrics.Collector
}

func newExecutor(name string, role Role, timeout time.Duration, log *slog.Logger, met *metrics.Collector) *executor {
	if log == nil {
		log = slog.Default()
	}
	return &executor{
		name:    name,
		role:    role,
		timeout: timeout,
		log:     log.With("component", "executor", "plugin", name),
		met:     met,
	}
}

// attach wires the executor into its ring slot. Called once, before any
// executor goroutine starts.
func (e *executor) attach(r *Ring, index int) {
	e.ring = r
	e.index = index
	e.cond = sync.NewCond(&r.mu)
}

// initBuffer assigns the executor's initial window. Called once per
// executor before any goroutine runs; the union of all initial windows
// must already partition the buffer. An external abort may land during
// pre-load, so the monotonic flags are ORed in under the ring lock
// rather than assigned.
func (e *executor) initBuffer(first, count int, inputEnd, aborted bool, bitrate uint64) {
	r := e.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	e.win.first = first
	e.win.count = count
	e.win.inputEnd = e.win.inputEnd || inputEnd
	e.win.aborted = e.win.aborted || aborted
	e.win.bitrate = bitrate
}

// passPackets hands the count packets at the head of this executor's
// window to the next executor in the ring. bitrate, inputEnd and aborted
// travel with the hand-off: inputEnd is ORed into the next window, aborted
// reports the caller's own failure. Returns false when the caller should
// stop its loop (end of stream or abort, in either direction).
func (e *executor) passPackets(count int, bitrate uint64, inputEnd, aborted bool) bool {
	r := e.ring
	r.mu.Lock()

	capacity := r.buf.Capacity()
	next := r.next(e.index)

	e.win.first = (e.win.first + count) % capacity
	e.win.count -= count

	next.win.count += count
	next.win.inputEnd = next.win.inputEnd || inputEnd
	next.win.bitrate = bitrate

	if count > 0 || inputEnd {
		next.cond.Signal()
	}

	// A failure here, or a consumer that already gave up, makes upstream
	// production useless: mark ourselves aborted and wake the producer so
	// the abort wave travels backward through the ring. An executor that
	// is already draining toward the end of stream finishes either way, so
	// the consumer's refusal is not adopted as its own failure.
	if aborted || (next.win.aborted && !e.win.inputEnd && !inputEnd) {
		e.win.aborted = true
		r.prev(e.index).cond.Signal()
	}

	cont := !inputEnd && !e.win.aborted
	r.mu.Unlock()

	e.met.AddPackets(e.name, count)
	return cont
}

// waitWork blocks until this executor owns at least one packet, or the
// stream ended, or the next executor refuses further packets. The returned
// grant never wraps: a wrapping window is served in two calls. The aborted
// field reflects the next executor's flag, not the caller's own.
func (e *executor) waitWork() grant {
	r := e.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.next(e.index)

	var timedOut bool
	if e.timeout > 0 {
		t := time.AfterFunc(e.timeout, func() {
			r.mu.Lock()
			timedOut = true
			e.cond.Signal()
			r.mu.Unlock()
		})
		defer t.Stop()
	}

	e.setState(StateWaiting)
	for e.win.count == 0 && !e.win.inputEnd && !next.win.aborted && !timedOut {
		e.cond.Wait()
	}

	if timedOut && e.win.count == 0 && !e.win.inputEnd && !next.win.aborted {
		// Nothing arrived in time: treated identically to an externally
		// forced abort. The producer is told to stop; no drain is
		// attempted.
		e.log.Warn("no packets within timeout, aborting", "timeout", e.timeout)
		e.win.aborted = true
		r.prev(e.index).cond.Signal()
		e.setState(StateRunning)
		return grant{bitrate: e.win.bitrate, aborted: true}
	}

	if e.win.inputEnd {
		e.setState(StateDraining)
	} else {
		e.setState(StateRunning)
	}

	count := e.win.count
	if max := r.buf.Capacity() - e.win.first; count > max {
		count = max
	}
	return grant{
		first:    e.win.first,
		count:    count,
		bitrate:  e.win.bitrate,
		inputEnd: e.win.inputEnd,
		last:     e.win.inputEnd && count == e.win.count,
		aborted:  next.win.aborted,
	}
}

// setAbort externally forces this executor's abort flag and wakes its
// predecessor, so production toward this executor stops. Used by the
// control channel and by pipeline shutdown.
func (e *executor) setAbort() {
	r := e.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	e.win.aborted = true
	r.prev(e.index).cond.Signal()
}

// finish records the executor's terminal state once its loop exits.
func (e *executor) finish(aborted bool) {
	r := e.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if aborted {
		e.setState(StateAborted)
	} else {
		e.setState(StateFinished)
	}
}

// wasAborted reports whether this executor's abort flag was ever set.
func (e *executor) wasAborted() bool {
	r := e.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.win.aborted
}

// setState must be called with the ring lock held.
func (e *executor) setState(s State) {
	e.state = s
	e.met.SetState(e.name, int(s))
}

// UseJointTermination implements plugin.Host. Idempotent opt-in/opt-out of
// the joint termination vote.
func (e *executor) UseJointTermination(on bool) {
	r := e.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ignoreJoint || on == e.opted {
		return
	}
	e.opted = on
	r.joint.addUser(on)
}

// JointTerminate implements plugin.Host. Records this stage's vote at its
// current processed-packet count. Ignored if the stage never opted in;
// only the first call counts.
func (e *executor) JointTerminate() {
	r := e.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if !e.opted || e.voted {
		return
	}
	e.voted = true
	r.joint.terminate(e.processed.Load())
}

// TotalPackets implements plugin.Host.
func (e *executor) TotalPackets() uint64 {
	return e.processed.Load()
}

// jointLimit returns how many more packets this stage may process before
// the agreed joint termination point, or Unbounded if none is in effect.
func (e *executor) jointLimit() uint64 {
	limit := e.ring.joint.TotalPacketsBeforeJointTermination()
	if limit == Unbounded {
		return Unbounded
	}
	done := e.processed.Load()
	if done >= limit {
		return 0
	}
	return limit - done
}

// ExecutorInfo is a point-in-time snapshot of one executor, taken under
// the ring lock, for the control channel's list command.
type ExecutorInfo struct {
	Name      string
	Role      string
	State     string
	First     int
	Count     int
	InputEnd  bool
	Aborted   bool
	Bitrate   uint64
	Processed uint64
	Joint     bool
}

func (e *executor) info() ExecutorInfo {
	return ExecutorInfo{
		Name:      e.name,
		Role:      e.role.String(),
		State:     e.state.String(),
		First:     e.win.first,
		Count:     e.win.count,
		InputEnd:  e.win.inputEnd,
		Aborted:   e.win.aborted,
		Bitrate:   e.win.bitrate,
		Processed: e.processed.Load(),
		Joint:     e.opted,
	}
}
