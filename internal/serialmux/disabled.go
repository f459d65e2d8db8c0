package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

// DisabledSerialMux is a no-op SerialMux implementation used when the node
// runs without a peer (single-headlight mode, or bench work with no cable
// plugged in). It allows the daemon and admin routes to run without a real
// device. Subscribers are tracked so their channels can be deterministically
// closed on Unsubscribe() or Close(), allowing readers to unblock predictably
// during shutdown.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan []wire.Slot
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan []wire.Slot),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan []wire.Slot) {
	id := randomID()
	ch := make(chan []wire.Slot, subscriberBuffer)

	d.mu.Lock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		d.mu.Unlock()
		return id, ch
	}
	d.subscribers[id] = ch
	d.mu.Unlock()
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
}

// Send drops the packet: there is no peer to tell.
func (d *DisabledSerialMux) Send([]vision.Blob) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Stats() LinkStats { return LinkStats{} }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	// Close all subscriber channels
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/link-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("cross-link disabled"))
	})
}
