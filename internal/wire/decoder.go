package wire

import (
	"bytes"
	"errors"
)

// Decoder errors. ErrIncomplete is the steady-state "feed me more bytes"
// signal; ErrBadCount marks a corrupted header.
var (
	ErrIncomplete = errors.New("wire: incomplete packet")
	ErrBadCount   = errors.New("wire: slot count out of range")
)

// maxBufferBytes bounds the decoder's internal buffer. Detections are
// perishable: if the consumer falls this far behind, the oldest bytes are
// stale frames and dropping them loses nothing worth keeping.
const maxBufferBytes = 64 * PACKET_SIZE

// Decoder reassembles packets from an arbitrarily chunked byte stream. Serial
// reads deliver whatever the UART FIFO holds, so packet boundaries rarely
// line up with read boundaries; the decoder buffers across calls and
// resynchronizes on the sync byte after corruption.
//
// Not safe for concurrent use; the read loop owns it.
type Decoder struct {
	buf       []byte
	discarded uint64
}

// Write appends raw link bytes to the decode buffer, dropping the oldest
// bytes if the buffer would exceed its bound. It never returns an error and
// always reports the full length consumed, satisfying io.Writer.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	if excess := len(d.buf) - maxBufferBytes; excess > 0 {
		d.drop(excess)
	}
	return len(p), nil
}

// Buffered returns the number of undecoded bytes held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discarded returns the total bytes dropped so far: leading garbage before a
// sync byte, corrupted headers, and overflow trims. A rising value on an
// otherwise healthy link means noise or a baud mismatch.
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// Next extracts the next packet from the buffer and returns its decoded
// slots. A zero-count packet (dark frame heartbeat) returns an empty slice
// and nil error.
//
// ErrIncomplete means no full packet is buffered yet; nothing past the sync
// byte is consumed, so the caller just writes more bytes and retries. A slot
// count above PACKET_SLOTS consumes only the two header bytes and returns
// ErrBadCount: the bytes after a corrupted header may themselves be a valid
// packet boundary, so they stay buffered for the next scan.
func (d *Decoder) Next() ([]Slot, error) {
	// Discard leading garbage up to the first sync byte.
	if i := bytes.IndexByte(d.buf, PACKET_SYNC); i > 0 {
		d.drop(i)
	} else if i < 0 {
		d.drop(len(d.buf))
		return nil, ErrIncomplete
	}

	if len(d.buf) < PACKET_SIZE {
		return nil, ErrIncomplete
	}

	count := int(d.buf[1])
	if count > PACKET_SLOTS {
		d.drop(2)
		return nil, ErrBadCount
	}

	slots := make([]Slot, count)
	for i := 0; i < count; i++ {
		off := 2 + i*PACKET_SLOT_SIZE
		slots[i] = decodeSlot(d.buf[off : off+PACKET_SLOT_SIZE])
	}

	d.buf = d.buf[PACKET_SIZE:]
	return slots, nil
}

// drop discards the oldest n bytes and accounts for them.
func (d *Decoder) drop(n int) {
	if n <= 0 {
		return
	}
	d.buf = d.buf[n:]
	d.discarded += uint64(n)
}
