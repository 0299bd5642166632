package ts

// Bitrate estimation from the timing references carried in a batch of
// packets. PCRs (27 MHz) give the precise estimate; PTS (90 kHz, and tied
// to presentation rather than transport time) is the coarse fallback used
// when the batch carries no usable PCR pair.

// pidClock tracks the first and last observed clock value on one PID,
// together with the packet indexes they were seen at.
type pidClock struct {
	firstValue uint64
	firstIndex int
	lastValue  uint64
	lastIndex  int
	seen       int
}

// BitrateFromPCR estimates the transport bitrate in bits per second from
// the PCR values in pkts. Each PID carrying at least two PCRs contributes
// one estimate (packet distance over clock distance); the result is the
// average of the per-PID estimates weighted by packet distance. Returns 0
// if no PID carries two usable PCRs.
func BitrateFromPCR(pkts []Packet) uint64 {
	return bitrateFromClocks(pkts, SystemClockFreq, func(p *Packet) (uint64, bool) {
		if !p.HasPCR() {
			return 0, false
		}
		return p.PCR(), true
	})
}

// BitrateFromPTS estimates the transport bitrate in bits per second from
// PTS values, the same way BitrateFromPCR does from PCRs. Less precise:
// presentation timestamps are not monotonic with transport time for
// reordered video frames. Returns 0 if no PID carries two usable PTS.
func BitrateFromPTS(pkts []Packet) uint64 {
	return bitrateFromClocks(pkts, PTSClockFreq, func(p *Packet) (uint64, bool) {
		if !p.HasPTS() {
			return 0, false
		}
		return p.PTS(), true
	})
}

func bitrateFromClocks(pkts []Packet, freq uint64, clock func(*Packet) (uint64, bool)) uint64 {
	clocks := make(map[uint16]*pidClock)
	for i := range pkts {
		p := &pkts[i]
		if !p.HasSync() {
			continue
		}
		v, ok := clock(p)
		if !ok {
			continue
		}
		c := clocks[p.PID()]
		if c == nil {
			c = &pidClock{firstValue: v, firstIndex: i}
			clocks[p.PID()] = c
		}
		c.lastValue = v
		c.lastIndex = i
		c.seen++
	}

	var weightedBits, weight uint64
	for _, c := range clocks {
		if c.seen < 2 || c.lastValue <= c.firstValue {
			continue
		}
		pktDist := uint64(c.lastIndex - c.firstIndex)
		clockDist := c.lastValue - c.firstValue
		bits := pktDist * PacketSize * 8
		weightedBits += bits * freq / clockDist * pktDist
		weight += pktDist
	}
	if weight == 0 {
		return 0
	}
	return weightedBits / weight
}
