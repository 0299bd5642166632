// gen-ts writes a synthetic constant-bitrate transport stream: null
// packets on a single PID with periodic PCRs encoding the requested
// bitrate. Useful for exercising bitrate discovery and the file input
// without a real encoder.
//
// Usage:
//
//	go run ./test/tools/gen-ts --packets 100000 --bitrate 10000000 -o stream.ts
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/zsiec/tschain/internal/ts"
)

func main() {
	packets := pflag.Int("packets", 100_000, "number of packets to generate")
	bitrate := pflag.Uint64("bitrate", 10_000_000, "bitrate the PCRs encode, in bits per second")
	pcrEvery := pflag.Int("pcr-interval", 100, "packets between PCRs")
	pid := pflag.Uint16("pid", 0x100, "PID carrying the PCRs")
	output := pflag.StringP("output", "o", "-", "output file, - for stdout")

	pflag.Parse()

	if *bitrate == 0 || *pcrEvery < 1 || *pid > ts.PIDNull {
		fmt.Fprintln(os.Stderr, "gen-ts: invalid parameters")
		os.Exit(2)
	}

	f := os.Stdout
	if *output != "-" {
		var err error
		f, err = os.Create(*output)
		if err != nil {
			fmt.Fprintln(os.Stderr, "gen-ts:", err)
			os.Exit(1)
		}
		defer f.Close()
	}
	w := bufio.NewWriterSize(f, 64*ts.PacketSize)

	for i := 0; i < *packets; i++ {
		var pkt ts.Packet
		if i%*pcrEvery == 0 {
			pkt = pcrPacket(*pid, pcrAt(i, *bitrate))
		} else {
			pkt = ts.Null
		}
		if _, err := w.Write(pkt[:]); err != nil {
			fmt.Fprintln(os.Stderr, "gen-ts:", err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, "gen-ts:", err)
		os.Exit(1)
	}
}

// pcrAt returns the 27 MHz clock value of packet index i in a stream of
// the given constant bitrate.
func pcrAt(i int, bitrate uint64) uint64 {
	return uint64(i) * ts.PacketSize * 8 * ts.SystemClockFreq / bitrate
}

// pcrPacket builds a payload-less packet whose adaptation field carries
// the given PCR.
func pcrPacket(pid uint16, pcr uint64) ts.Packet {
	var pkt ts.Packet
	pkt[0] = ts.SyncByte
	pkt[1] = byte(pid >> 8)
	pkt[2] = byte(pid)
	pkt[3] = 0x20
	pkt[4] = 183
	pkt[5] = 0x10
	base := pcr / 300
	ext := pcr % 300
	pkt[6] = byte(base >> 25)
	pkt[7] = byte(base >> 17)
	pkt[8] = byte(base >> 9)
	pkt[9] = byte(base >> 1)
	pkt[10] = byte(base<<7) | 0x7E | byte(ext>>8)
	pkt[11] = byte(ext)
	for i := 12; i < ts.PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}
