// Package ts defines the fixed-size MPEG transport stream packet and the
// small set of header accessors the pipeline core needs: sync validation,
// PID extraction, and the PCR/PTS clock references used for bitrate
// estimation. Payload semantics beyond that are left to plugins.
package ts

const (
	// PacketSize is the fixed size of a transport stream packet in bytes.
	PacketSize = 188

	// SyncByte is the marker every valid packet starts with.
	SyncByte = 0x47

	// PIDNull is the PID reserved for null (stuffing) packets.
	PIDNull = 0x1FFF
)

// Clock frequencies of the two timestamp classes carried in a TS.
const (
	// SystemClockFreq is the 27 MHz frequency of the PCR clock.
	SystemClockFreq = 27_000_000

	// PTSClockFreq is the 90 kHz frequency of the PTS/DTS clock.
	PTSClockFreq = 90_000
)

// Packet is a raw 188-byte transport stream packet. The pipeline core only
// interprets the sync byte and, for bitrate discovery, the PCR and PTS
// fields; everything else is opaque payload handed to plugins.
type Packet [PacketSize]byte

// Null is the canonical null packet used for stuffing: PID 0x1FFF,
// payload-only, payload filled with 0xFF.
var Null = func() Packet {
	var p Packet
	p[0] = SyncByte
	p[1] = 0x1F
	p[2] = 0xFF
	p[3] = 0x10
	for i := 4; i < PacketSize; i++ {
		p[i] = 0xFF
	}
	return p
}()

// HasSync reports whether the packet starts with the sync byte.
func (p *Packet) HasSync() bool {
	return p[0] == SyncByte
}

// PID returns the 13-bit packet identifier.
func (p *Packet) PID() uint16 {
	return uint16(p[1]&0x1F)<<8 | uint16(p[2])
}

// IsNull reports whether the packet is a null (stuffing) packet.
func (p *Packet) IsNull() bool {
	return p.PID() == PIDNull
}

// PayloadUnitStart reports whether the payload_unit_start_indicator is set.
func (p *Packet) PayloadUnitStart() bool {
	return p[1]&0x40 != 0
}

// HasAdaptationField reports whether an adaptation field is present.
func (p *Packet) HasAdaptationField() bool {
	return p[3]&0x20 != 0
}

// HasPayload reports whether a payload is present.
func (p *Packet) HasPayload() bool {
	return p[3]&0x10 != 0
}

// ContinuityCounter returns the 4-bit continuity counter.
func (p *Packet) ContinuityCounter() uint8 {
	return p[3] & 0x0F
}

// adaptationFieldLength returns the length byte of the adaptation field,
// or 0 if none is present.
func (p *Packet) adaptationFieldLength() int {
	if !p.HasAdaptationField() {
		return 0
	}
	return int(p[4])
}

// HasPCR reports whether the adaptation field carries a program clock
// reference.
func (p *Packet) HasPCR() bool {
	return p.HasAdaptationField() && p.adaptationFieldLength() >= 7 && p[5]&0x10 != 0
}

// PCR returns the program clock reference in 27 MHz units
// (33-bit base at 90 kHz times 300, plus 9-bit extension).
// The result is meaningless if HasPCR is false.
func (p *Packet) PCR() uint64 {
	base := uint64(p[6])<<25 | uint64(p[7])<<17 | uint64(p[8])<<9 | uint64(p[9])<<1 | uint64(p[10])>>7
	ext := uint64(p[10]&0x01)<<8 | uint64(p[11])
	return base*300 + ext
}

// payloadOffset returns the index of the first payload byte, or PacketSize
// if the packet has no payload.
func (p *Packet) payloadOffset() int {
	if !p.HasPayload() {
		return PacketSize
	}
	off := 4
	if p.HasAdaptationField() {
		off += 1 + p.adaptationFieldLength()
	}
	if off > PacketSize {
		off = PacketSize
	}
	return off
}

// HasPTS reports whether the packet starts a PES packet whose header
// carries a presentation timestamp.
func (p *Packet) HasPTS() bool {
	if !p.PayloadUnitStart() {
		return false
	}
	off := p.payloadOffset()
	if off+14 > PacketSize {
		return false
	}
	pl := p[off:]
	if pl[0] != 0x00 || pl[1] != 0x00 || pl[2] != 0x01 {
		return false
	}
	return pl[7]&0x80 != 0
}

// PTS returns the presentation timestamp in 90 kHz units. The result is
// meaningless if HasPTS is false.
func (p *Packet) PTS() uint64 {
	pl := p[p.payloadOffset():]
	return uint64(pl[9]&0x0E)<<29 |
		uint64(pl[10])<<22 |
		uint64(pl[11]&0xFE)<<14 |
		uint64(pl[12])<<7 |
		uint64(pl[13])>>1
}

// SetNull overwrites the packet with the canonical null packet.
func (p *Packet) SetNull() {
	*p = Null
}
