// Command wiredump replays a cross-link capture through the packet decoder.
//
// It accepts either a raw byte capture of the serial line (the default) or a
// pcap file whose UDP payloads carry the link stream, prints one line per
// decoded packet, and finishes with a link-health summary on stderr. Run it
// over a capture before blaming the detector: a healthy link shows zero bad
// headers and near-zero discarded bytes.
//
// Usage:
//
//	wiredump capture.bin
//	wiredump -json capture.bin > packets.jsonl
//	wiredump -pcap -port 9000 link.pcap
package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lumen.report/internal/wire"
)

// readChunkBytes is the raw-mode read size. Deliberately misaligned with the
// packet size so the decoder's reassembly path is exercised the same way a
// UART FIFO would.
const readChunkBytes = 512

// slotJSON mirrors wire.Slot with JSON field names for -json output.
type slotJSON struct {
	CX         uint16 `json:"cx"`
	CY         uint16 `json:"cy"`
	PixelCount uint16 `json:"pixel_count"`
}

type packetJSON struct {
	Seq   uint64     `json:"seq"`
	Blobs []slotJSON `json:"blobs"`
}

// dump owns the decoder and accumulates capture-wide counters.
type dump struct {
	dec     wire.Decoder
	out     io.Writer
	enc     *json.Encoder
	hexOut  io.Writer // raw input chunks as a hex dump, nil when off
	packets uint64
	blobs   uint64
	badHdrs uint64
}

func newDump(out io.Writer, asJSON bool) *dump {
	d := &dump{out: out}
	if asJSON {
		d.enc = json.NewEncoder(out)
	}
	return d
}

// feed pushes one chunk into the decoder and drains every packet it
// completes. Draining after each chunk matters: the decoder bounds its
// buffer and silently drops the oldest bytes once it fills.
func (d *dump) feed(chunk []byte) error {
	if d.hexOut != nil {
		fmt.Fprint(d.hexOut, hex.Dump(chunk))
	}
	d.dec.Write(chunk)
	for {
		slots, err := d.dec.Next()
		switch {
		case err == nil:
			d.packets++
			d.blobs += uint64(len(slots))
			if err := d.emit(slots); err != nil {
				return err
			}
		case errors.Is(err, wire.ErrBadCount):
			d.badHdrs++
		default:
			return nil
		}
	}
}

func (d *dump) emit(slots []wire.Slot) error {
	if d.enc != nil {
		pkt := packetJSON{Seq: d.packets, Blobs: make([]slotJSON, len(slots))}
		for i, s := range slots {
			pkt.Blobs[i] = slotJSON{CX: s.CX, CY: s.CY, PixelCount: s.PixelCount}
		}
		return d.enc.Encode(pkt)
	}

	if _, err := fmt.Fprintf(d.out, "#%-6d blobs=%d", d.packets, len(slots)); err != nil {
		return err
	}
	for i, s := range slots {
		if _, err := fmt.Fprintf(d.out, "  [%d] cx=%d cy=%d px=%d", i, s.CX, s.CY, s.PixelCount); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(d.out)
	return err
}

// summary describes the whole capture in one line. Trailing bytes are a
// truncated final packet; discarded bytes are garbage the decoder skipped.
func (d *dump) summary() string {
	return fmt.Sprintf("%d packets, %d blobs, %d bad headers, %d bytes discarded, %d bytes trailing",
		d.packets, d.blobs, d.badHdrs, d.dec.Discarded(), d.dec.Buffered())
}

// dumpRaw streams a raw serial capture through the decoder in chunks.
func dumpRaw(d *dump, r io.Reader) error {
	buf := make([]byte, readChunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := d.feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// dumpPcap decodes the UDP payloads of a pcap capture, either every UDP
// packet or only those matching port. Payload boundaries are irrelevant to
// the decoder, so captures that split link packets across datagrams still
// decode cleanly.
func dumpPcap(d *dump, r io.Reader, port int) error {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("read pcap header: %w", err)
	}
	source := gopacket.NewPacketSource(pr, pr.LinkType())
	for packet := range source.Packets() {
		layer := packet.Layer(layers.LayerTypeUDP)
		if layer == nil {
			continue
		}
		udp := layer.(*layers.UDP)
		if port != 0 && int(udp.SrcPort) != port && int(udp.DstPort) != port {
			continue
		}
		if err := d.feed(udp.Payload); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	pcapFile := flag.Bool("pcap", false, "input is a pcap file; decode its UDP payloads")
	port := flag.Int("port", 0, "with -pcap, only decode UDP packets to or from this port (0 = all)")
	asJSON := flag.Bool("json", false, "emit one JSON object per packet instead of text")
	hexDump := flag.Bool("hex", false, "hex dump the raw input to stderr alongside the decode")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <capture-file>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("Error opening capture: %v", err)
	}
	defer f.Close()

	out := bufio.NewWriter(os.Stdout)
	d := newDump(out, *asJSON)
	if *hexDump {
		d.hexOut = os.Stderr
	}

	if *pcapFile {
		err = dumpPcap(d, f, *port)
	} else {
		err = dumpRaw(d, f)
	}
	if err != nil {
		log.Fatalf("Error decoding %s: %v", flag.Arg(0), err)
	}
	if err := out.Flush(); err != nil {
		log.Fatalf("Error writing output: %v", err)
	}

	fmt.Fprintln(os.Stderr, d.summary())
}
