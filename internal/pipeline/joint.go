package pipeline

import (
	"math"
	"sync"
)

// Unbounded is returned by TotalPacketsBeforeJointTermination while no
// joint termination point is in effect.
const Unbounded = math.MaxUint64

// JointTermination is the process-wide consensus object letting several
// stages agree on one common stopping packet count instead of each ending
// the run independently. One instance exists per pipeline run.
type JointTermination struct {
	mu        sync.Mutex
	users     int
	remaining int
	highest   uint64
}

// NewJointTermination creates an empty consensus state: no users, no
// termination point.
func NewJointTermination() *JointTermination {
	return &JointTermination{}
}

// addUser registers (on=true) or deregisters (on=false) one opted-in stage.
func (j *JointTermination) addUser(on bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if on {
		j.users++
		j.remaining++
	} else {
		j.users--
		j.remaining--
	}
}

// terminate records one opted-in stage's vote: the stage has processed
// totalPackets and believes it has nothing more useful to contribute.
func (j *JointTermination) terminate(totalPackets uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.remaining--
	if totalPackets > j.highest {
		j.highest = totalPackets
	}
}

// TotalPacketsBeforeJointTermination returns the agreed stopping packet
// count, or Unbounded while joint termination is not in effect or not all
// opted-in stages have voted. The highest of the per-stage counts is used
// so no stage stops before it has reproduced as much output as the most
// conservative voter judged necessary.
func (j *JointTermination) TotalPacketsBeforeJointTermination() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.users == 0 || j.remaining > 0 {
		return Unbounded
	}
	return j.highest
}
