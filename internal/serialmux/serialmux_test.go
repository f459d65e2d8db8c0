package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

// startMonitor runs mux.Monitor in the background and returns a cancel
// function plus the channel carrying Monitor's return value.
func startMonitor[T SerialPorter](mux *SerialMux[T]) (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mux.Monitor(ctx)
	}()
	return cancel, done
}

// waitForStats polls the mux counters until cond is satisfied or the
// deadline passes.
func waitForStats[T SerialPorter](t *testing.T, mux *SerialMux[T], cond func(LinkStats) bool) LinkStats {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		stats := mux.Stats()
		if cond(stats) {
			return stats
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for link stats, last snapshot: %+v", stats)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestNewSerialMux tests creation of a new SerialMux
func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if mux == nil {
		t.Fatal("NewSerialMux returned nil")
	}
	if mux.port != port {
		t.Error("SerialMux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("SerialMux subscribers map not initialized")
	}
}

// TestSerialMux_Subscribe tests subscribing to the serial mux
func TestSerialMux_Subscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()

	if id1 == "" || id2 == "" {
		t.Error("subscription returned empty ID")
	}
	if id1 == id2 {
		t.Error("Subscription IDs should be unique")
	}
	if ch1 == nil || ch2 == nil {
		t.Error("subscription returned nil channel")
	}
	if cap(ch1) != subscriberBuffer {
		t.Errorf("subscriber channel capacity = %d, want %d", cap(ch1), subscriberBuffer)
	}

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 2 {
		t.Errorf("Expected 2 subscribers, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()
}

// TestSerialMux_Unsubscribe tests unsubscribing from the serial mux
func TestSerialMux_Unsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 0 {
		t.Errorf("Expected 0 subscribers, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()

	// Unsubscribing an unknown ID should not panic
	mux.Unsubscribe("non-existent-id")
}

// TestSerialMux_Send tests encoding and writing a detection packet
func TestSerialMux_Send(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	blobs := []vision.Blob{
		{CX: 420, CY: 280, PixelCount: 1500},
		{CX: 100, CY: 300, PixelCount: 90},
	}
	if err := mux.Send(blobs); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	written := port.GetWrittenData()
	if len(written) != wire.PACKET_SIZE {
		t.Fatalf("wrote %d bytes, want %d", len(written), wire.PACKET_SIZE)
	}
	if written[0] != wire.PACKET_SYNC || written[1] != 2 {
		t.Errorf("packet header = % x, want sync byte and count 2", written[:2])
	}

	stats := mux.Stats()
	if stats.PacketsOut != 1 || stats.BytesOut != wire.PACKET_SIZE {
		t.Errorf("stats after send = %+v, want 1 packet / %d bytes out", stats, wire.PACKET_SIZE)
	}
}

// TestSerialMux_Send_WriteError tests error handling in Send
func TestSerialMux_Send_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	port.WriteError = errors.New("write failed")

	if err := mux.Send(nil); err == nil {
		t.Error("Expected error when write fails")
	}
	if stats := mux.Stats(); stats.PacketsOut != 0 {
		t.Errorf("failed send counted as success: %+v", stats)
	}
}

// TestSerialMux_Send_PartialWrite tests handling of short writes
func TestSerialMux_Send_PartialWrite(t *testing.T) {
	port := NewTestableSerialPort()
	port.ShortWrites = 7
	mux := NewSerialMux(port)

	err := mux.Send([]vision.Blob{{CX: 1, CY: 2, PixelCount: 3}})
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Expected ErrWriteFailed for partial write, got %v", err)
	}
}

// TestSerialMux_Monitor_DeliversPackets tests the read-decode-fanout path
func TestSerialMux_Monitor_DeliversPackets(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, ch := mux.Subscribe()
	cancel, done := startMonitor(mux)
	defer cancel()

	sent := []vision.Blob{{CX: 321, CY: 123, PixelCount: 640}}
	port.AddReadData(wire.EncodePacket(sent))

	select {
	case slots := <-ch:
		if len(slots) != 1 {
			t.Fatalf("received %d slots, want 1", len(slots))
		}
		if slots[0].CX != 321 || slots[0].CY != 123 || slots[0].PixelCount != 640 {
			t.Errorf("received slot %+v", slots[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for packet")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not exit after cancel")
	}
}

// TestSerialMux_Monitor_ReassemblesSplitPackets tests decoding across read
// boundaries
func TestSerialMux_Monitor_ReassemblesSplitPackets(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, ch := mux.Subscribe()
	cancel, _ := startMonitor(mux)
	defer cancel()

	packet := wire.EncodePacket([]vision.Blob{{CX: 88, CY: 99, PixelCount: 111}})
	port.AddReadData(packet[:9])

	// Half a packet must deliver nothing.
	select {
	case slots := <-ch:
		t.Fatalf("received %+v from half a packet", slots)
	case <-time.After(50 * time.Millisecond):
	}

	port.AddReadData(packet[9:])
	select {
	case slots := <-ch:
		if slots[0].CX != 88 {
			t.Errorf("slot CX = %d, want 88", slots[0].CX)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reassembled packet")
	}
}

// TestSerialMux_Monitor_CountsDecodeErrors tests corrupt header accounting
func TestSerialMux_Monitor_CountsDecodeErrors(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, ch := mux.Subscribe()
	cancel, _ := startMonitor(mux)
	defer cancel()

	// A corrupt header glued onto a valid packet: the decoder must step
	// over the header and still deliver the packet.
	data := []byte{wire.PACKET_SYNC, 200}
	data = append(data, wire.EncodePacket([]vision.Blob{{CX: 7, CY: 8, PixelCount: 9}})...)
	port.AddReadData(data)

	select {
	case slots := <-ch:
		if slots[0].CX != 7 {
			t.Errorf("slot CX = %d, want 7", slots[0].CX)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for packet after corrupt header")
	}

	stats := waitForStats(t, mux, func(s LinkStats) bool { return s.DecodeErrors >= 1 })
	if stats.PacketsIn != 1 {
		t.Errorf("PacketsIn = %d, want 1", stats.PacketsIn)
	}
}

// TestSerialMux_Monitor_SlowSubscriberDrops tests that a full subscriber
// buffer sheds packets instead of stalling the monitor
func TestSerialMux_Monitor_SlowSubscriberDrops(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	mux.Subscribe() // never read from

	cancel, _ := startMonitor(mux)
	defer cancel()

	var burst []byte
	for i := 0; i < subscriberBuffer+3; i++ {
		burst = wire.AppendPacket(burst, []vision.Blob{{CX: uint16(i), CY: 1, PixelCount: 1}})
	}
	port.AddReadData(burst)

	stats := waitForStats(t, mux, func(s LinkStats) bool {
		return s.PacketsIn == uint64(subscriberBuffer+3)
	})
	if stats.PacketsDropped != 3 {
		t.Errorf("PacketsDropped = %d, want 3", stats.PacketsDropped)
	}
}

// TestSerialMux_Monitor_ReadError tests Monitor returning the port error
func TestSerialMux_Monitor_ReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("simulated read error")
	mux := NewSerialMux(port)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := mux.Monitor(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor returned %v, want the port's read error", err)
	}
}

// TestSerialMux_Monitor_CloseDuringRead tests closing while Monitor is
// blocked on a read
func TestSerialMux_Monitor_CloseDuringRead(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, done := startMonitor(mux)

	// Give the read goroutine time to block, then tear down.
	time.Sleep(10 * time.Millisecond)
	if err := mux.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned %v after Close, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Monitor did not exit after Close")
	}
}

// TestSerialMux_Close tests closing the serial mux
func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}

	if _, ok := <-ch1; ok {
		t.Error("Expected channel 1 to be closed")
	}
	if _, ok := <-ch2; ok {
		t.Error("Expected channel 2 to be closed")
	}

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 0 {
		t.Errorf("Expected 0 subscribers after close, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()

	mux.closingMu.Lock()
	if !mux.closing {
		t.Error("Expected closing flag to be true after Close")
	}
	mux.closingMu.Unlock()

	if !port.Closed {
		t.Error("Expected underlying port to be closed")
	}

	// Unsubscribing after close should be safe
	mux.Unsubscribe(id1)
}

// TestSerialMux_AttachAdminRoutes tests the admin routes attachment
func TestSerialMux_AttachAdminRoutes(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	// Debug routes are protected by tailscale auth, so they may return 403
	// when not authorized. We only verify the routes are registered.
	for _, route := range []string{"/debug/link-stats", "/debug/link-tail"} {
		t.Run(route, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, route, nil)
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)
			if w.Code == http.StatusNotFound {
				t.Errorf("Route %s should be registered, got 404", route)
			}
		})
	}
}

// TestRandomID tests the randomID helper function
func TestRandomID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := randomID()
		if len(id) != 16 { // 8 bytes hex encoded = 16 chars
			t.Errorf("Expected ID length 16, got %d", len(id))
		}
		if ids[id] {
			t.Errorf("Duplicate ID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestErrWriteFailed tests the error constant
func TestErrWriteFailed(t *testing.T) {
	if ErrWriteFailed == nil {
		t.Error("ErrWriteFailed should not be nil")
	}
	if ErrWriteFailed.Error() == "" {
		t.Error("ErrWriteFailed should have error message")
	}
}
