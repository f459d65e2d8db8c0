// Package serialmux provides an abstraction over the serial cross-link with
// the ability for multiple clients to subscribe to decoded detection packets
// from the peer node and to send this node's detections back.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

var ErrWriteFailed = fmt.Errorf("failed to write full packet to serial port")

// subscriberBuffer is the per-subscriber channel depth. Packets are
// perishable: a subscriber that falls further behind than this loses the
// oldest packets rather than stalling the monitor loop.
const subscriberBuffer = 4

// readChunkSize is the read buffer handed to the port. UART FIFOs deliver a
// few bytes at a time, so this comfortably covers several packets per read.
const readChunkSize = 256

// SerialMux is a generic serial port multiplexer that decodes the peer's
// packet stream once and fans the decoded packets out to any number of
// subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	decoder      wire.Decoder
	subscribers  map[string]chan []wire.Slot
	subscriberMu sync.Mutex
	sendMu       sync.Mutex
	sendBuf      []byte
	closing      bool
	closingMu    sync.Mutex
	statsMu      sync.Mutex
	stats        LinkStats
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving decoded packets from the
	// peer node. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan []wire.Slot)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Send encodes the given blobs as one packet and writes it to the port.
	Send([]vision.Blob) error
	// Monitor reads bytes from the serial port, reassembles packets and
	// fans them out to subscribers.
	Monitor(context.Context) error
	// Stats returns a snapshot of the link counters.
	Stats() LinkStats
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan []wire.Slot),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []wire.Slot) {
	id := randomID()
	ch := make(chan []wire.Slot, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Send encodes the leading blobs into one fixed-size packet and writes it to
// the serial port. The secondary node calls this once per processed frame;
// losing a packet to a write error is acceptable, blocking the frame loop on
// a retry is not, so the error is reported and the caller moves on.
func (s *SerialMux[T]) Send(blobs []vision.Blob) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.sendBuf = wire.AppendPacket(s.sendBuf[:0], blobs)
	n, err := s.port.Write(s.sendBuf)
	if err != nil {
		return err
	}
	if n != len(s.sendBuf) {
		return ErrWriteFailed
	}

	s.statsMu.Lock()
	s.stats.PacketsOut++
	s.stats.BytesOut += uint64(n)
	s.statsMu.Unlock()
	return nil
}

// Monitor reads the serial port until the context is cancelled, the port
// fails, or the mux is closed, decoding packets and fanning them out.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// Reads block in their own goroutine so the outer loop stays free to
	// observe context cancellation.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, readChunkSize)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case readErrChan <- err:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err

		case chunk, ok := <-chunkChan:
			if !ok {
				return nil
			}
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.decodeAndPublish(chunk)
		}
	}
}

// decodeAndPublish feeds one raw chunk through the decoder and fans out every
// complete packet it yields.
func (s *SerialMux[T]) decodeAndPublish(chunk []byte) {
	s.decoder.Write(chunk)

	var packets, decodeErrs uint64
	for {
		slots, err := s.decoder.Next()
		if err != nil {
			if errors.Is(err, wire.ErrBadCount) {
				// The bytes behind a corrupt header may open a valid
				// packet, so keep scanning this chunk.
				decodeErrs++
				continue
			}
			break // incomplete: wait for the next chunk
		}
		packets++
		s.publish(slots)
	}

	s.statsMu.Lock()
	s.stats.BytesIn += uint64(len(chunk))
	s.stats.PacketsIn += packets
	s.stats.DecodeErrors += decodeErrs
	s.stats.BytesDiscarded = s.decoder.Discarded()
	s.statsMu.Unlock()
}

// publish hands one decoded packet to every subscriber without blocking:
// a subscriber with a full buffer loses this packet, not the monitor loop.
func (s *SerialMux[T]) publish(slots []wire.Slot) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		pkt := make([]wire.Slot, len(slots))
		copy(pkt, slots)
		select {
		case ch <- pkt:
		default:
			s.statsMu.Lock()
			s.stats.PacketsDropped++
			s.statsMu.Unlock()
		}
	}
}

// Stats returns a snapshot of the link counters.
func (s *SerialMux[T]) Stats() LinkStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Link counter snapshot as JSON.
	debug.HandleSilentFunc("link-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Stats())
	})

	// Server-Side Events (SSE) stream of decoded packets for live debugging
	// of the cross-link.
	debug.HandleSilentFunc("link-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case slots, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				payload, err := json.Marshal(slots)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
