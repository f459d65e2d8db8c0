// Package wire implements the fixed-size detection packet exchanged between
// the two headlight nodes over the serial cross-link.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/banshee-data/lumen.report/internal/vision"
)

/*
Cross-link packet structure (20 bytes total, big-endian):

	├── Sync (1 byte)  - 0xAA frame marker
	├── Count (1 byte) - number of populated slots, 0..3
	└── Slots (18 bytes) - 3 slots × 6 bytes each, largest blob first
	    └── Each slot: 2-byte centroid X + 2-byte centroid Y + 2-byte pixel count

Every packet is exactly PACKET_SIZE bytes regardless of how many blobs the
sender saw: unused slots are zero-filled so the receiver can consume the
stream in fixed strides. Pixel counts wider than 16 bits saturate to 65535;
at that size the blob is our own reflection or a flooded sensor, and "very
large" is all the peer needs to know.

The sync byte is a resynchronization aid, not a guarantee: 0xAA can also
occur inside slot payloads, so a reader that joins mid-stream may lock onto
a false boundary for one packet before the fixed stride realigns it.
*/
const (
	PACKET_SYNC      = 0xAA                              // Start-of-packet marker byte
	PACKET_SLOTS     = 3                                 // Slots per packet (largest blobs win)
	PACKET_SLOT_SIZE = 6                                 // Slot payload: CX(2) + CY(2) + PixelCount(2)
	PACKET_SIZE      = 2 + PACKET_SLOTS*PACKET_SLOT_SIZE // Sync + count + slots = 20 bytes
)

// Slot is one decoded detection slot: the blob centroid in sender frame
// coordinates plus its (saturated) pixel count.
type Slot struct {
	CX         uint16 // Centroid column in the sender's frame
	CY         uint16 // Centroid row in the sender's frame
	PixelCount uint16 // Blob size in pixels, saturated to 65535
}

// slotFromBlob narrows a detected blob to its wire form.
func slotFromBlob(b vision.Blob) Slot {
	pc := b.PixelCount
	if pc > math.MaxUint16 {
		pc = math.MaxUint16
	}
	return Slot{CX: b.CX, CY: b.CY, PixelCount: uint16(pc)}
}

// EncodePacket serializes the leading blobs (largest first, as the detector
// orders them) into a fresh PACKET_SIZE buffer. Blobs beyond PACKET_SLOTS
// are dropped; missing slots are zero-filled.
func EncodePacket(blobs []vision.Blob) []byte {
	return AppendPacket(make([]byte, 0, PACKET_SIZE), blobs)
}

// AppendPacket appends one encoded packet to dst and returns the extended
// slice, for send loops that reuse their buffer.
func AppendPacket(dst []byte, blobs []vision.Blob) []byte {
	n := len(blobs)
	if n > PACKET_SLOTS {
		n = PACKET_SLOTS
	}
	dst = append(dst, PACKET_SYNC, byte(n))
	for i := 0; i < PACKET_SLOTS; i++ {
		var s Slot
		if i < n {
			s = slotFromBlob(blobs[i])
		}
		dst = binary.BigEndian.AppendUint16(dst, s.CX)
		dst = binary.BigEndian.AppendUint16(dst, s.CY)
		dst = binary.BigEndian.AppendUint16(dst, s.PixelCount)
	}
	return dst
}

// decodeSlot reads one slot from b, which must hold PACKET_SLOT_SIZE bytes.
func decodeSlot(b []byte) Slot {
	return Slot{
		CX:         binary.BigEndian.Uint16(b[0:2]),
		CY:         binary.BigEndian.Uint16(b[2:4]),
		PixelCount: binary.BigEndian.Uint16(b[4:6]),
	}
}
