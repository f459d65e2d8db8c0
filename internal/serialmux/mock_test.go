package serialmux

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/banshee-data/lumen.report/internal/vision"
	"github.com/banshee-data/lumen.report/internal/wire"
)

func TestMockSerialPort_WritesAreCountedAndDropped(t *testing.T) {
	port := &MockSerialPort{}

	n, err := port.Write([]byte("ignored"))
	if err != nil {
		t.Errorf("Write returned unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("Write returned %d bytes, expected 7", n)
	}

	port.Write([]byte("more"))
	if got := port.BytesWritten(); got != 11 {
		t.Errorf("BytesWritten() = %d, expected 11", got)
	}
}

func TestNewMockSerialMux(t *testing.T) {
	// The fake port scripts a single valid packet on repeat, so a monitored
	// mux should deliver decoded slots to subscribers just like a real link.
	packet := wire.EncodePacket([]vision.Blob{{CX: 320, CY: 240, PixelCount: 1200}})
	mux := NewMockSerialMux(packet)
	if mux == nil {
		t.Fatal("NewMockSerialMux returned nil")
	}
	defer mux.Close()

	cancel, _ := startMonitor(mux)
	defer cancel()

	id, ch := mux.Subscribe()
	if id == "" {
		t.Error("Subscribe returned empty ID")
	}
	defer mux.Unsubscribe(id)

	select {
	case slots := <-ch:
		if len(slots) != 1 {
			t.Fatalf("got %d slots, expected 1", len(slots))
		}
		if slots[0].CX != 320 || slots[0].CY != 240 || slots[0].PixelCount != 1200 {
			t.Errorf("slot = %+v, expected {320 240 1200}", slots[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for scripted packet")
	}

	// Send is accepted and counted even though the fake port discards it.
	if err := mux.Send([]vision.Blob{{CX: 1, CY: 2, PixelCount: 3}}); err != nil {
		t.Errorf("Send returned error: %v", err)
	}
	if mux.port.BytesWritten() != wire.PACKET_SIZE {
		t.Errorf("port saw %d bytes, expected %d", mux.port.BytesWritten(), wire.PACKET_SIZE)
	}
}

func TestMockSerialPort_CloseIsIdempotent(t *testing.T) {
	packet := wire.EncodePacket(nil)
	mux := NewMockSerialMux(packet)

	if err := mux.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if err := mux.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestTestableSerialPort_ReadWrite(t *testing.T) {
	port := NewTestableSerialPort()

	// Add data to read buffer
	testData := []byte("test data")
	port.AddReadData(testData)

	// Read data
	buf := make([]byte, 100)
	n, err := port.Read(buf)
	if err != nil {
		t.Errorf("Read returned error: %v", err)
	}
	if string(buf[:n]) != string(testData) {
		t.Errorf("Read returned %q, expected %q", string(buf[:n]), string(testData))
	}
	if port.ReadCalls != 1 {
		t.Errorf("Expected 1 read call, got %d", port.ReadCalls)
	}

	// Write data
	writeData := []byte("write data")
	n, err = port.Write(writeData)
	if err != nil {
		t.Errorf("Write returned error: %v", err)
	}
	if n != len(writeData) {
		t.Errorf("Write returned %d, expected %d", n, len(writeData))
	}
	if port.WriteCalls != 1 {
		t.Errorf("Expected 1 write call, got %d", port.WriteCalls)
	}

	// Verify written data
	if string(port.GetWrittenData()) != string(writeData) {
		t.Errorf("Written data = %q, expected %q", string(port.GetWrittenData()), string(writeData))
	}
}

func TestTestableSerialPort_Errors(t *testing.T) {
	port := NewTestableSerialPort()

	// Test read error
	port.ReadError = errors.New("read error")
	_, err := port.Read(make([]byte, 10))
	if err == nil || err.Error() != "read error" {
		t.Errorf("Expected 'read error', got: %v", err)
	}
	// Error should be cleared
	port.AddReadData([]byte("x"))
	_, err = port.Read(make([]byte, 10))
	if err != nil {
		t.Errorf("Expected no error after error cleared, got: %v", err)
	}

	// Test write error
	port.WriteError = errors.New("write error")
	_, err = port.Write([]byte("test"))
	if err == nil || err.Error() != "write error" {
		t.Errorf("Expected 'write error', got: %v", err)
	}

	// Test close error
	port.CloseError = errors.New("close error")
	err = port.Close()
	if err == nil || err.Error() != "close error" {
		t.Errorf("Expected 'close error', got: %v", err)
	}
}

func TestTestableSerialPort_Closed(t *testing.T) {
	port := NewTestableSerialPort()

	// Close the port
	port.Close()

	if !port.Closed {
		t.Error("Expected port to be closed")
	}

	// Read should report EOF so a reader loop terminates cleanly
	_, err := port.Read(make([]byte, 10))
	if !errors.Is(err, io.EOF) {
		t.Errorf("Read on closed port returned %v, expected io.EOF", err)
	}

	// Write should fail
	_, err = port.Write([]byte("test"))
	if err == nil {
		t.Error("Expected error writing to closed port")
	}
}

func TestTestableSerialPort_ShortWrites(t *testing.T) {
	port := NewTestableSerialPort()
	port.ShortWrites = 3

	n, err := port.Write([]byte("packet"))
	if err != nil {
		t.Errorf("Write returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("Write returned %d, expected short write of 3", n)
	}
	if string(port.GetWrittenData()) != "pac" {
		t.Errorf("Written data = %q, expected %q", string(port.GetWrittenData()), "pac")
	}

	// Writes at or under the cap pass through whole
	port.Reset()
	port.ShortWrites = 10
	n, err = port.Write([]byte("packet"))
	if err != nil || n != 6 {
		t.Errorf("Write = (%d, %v), expected (6, nil)", n, err)
	}
}

func TestTestableSerialPort_BlockReads(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 10)
		n, err := port.Read(buf)
		if err != nil {
			got <- nil
			return
		}
		got <- buf[:n]
	}()

	// Reader should be parked until data arrives
	select {
	case <-got:
		t.Fatal("Read returned before data was added")
	case <-time.After(20 * time.Millisecond):
	}

	port.AddReadData([]byte("late"))
	select {
	case data := <-got:
		if string(data) != "late" {
			t.Errorf("Read returned %q, expected %q", string(data), "late")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Read did not wake after AddReadData")
	}
}

func TestTestableSerialPort_CloseWakesBlockedReader(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 10))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	port.Close()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("blocked Read returned %v after Close, expected io.EOF", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("blocked Read did not wake after Close")
	}
}

func TestTestableSerialPort_SetReadTimeout(t *testing.T) {
	port := NewTestableSerialPort()

	err := port.SetReadTimeout(100 * time.Millisecond)
	if err != nil {
		t.Errorf("SetReadTimeout returned error: %v", err)
	}
	if port.ReadTimeout != 100*time.Millisecond {
		t.Errorf("Expected timeout 100ms, got %v", port.ReadTimeout)
	}
}

func TestTestableSerialPort_Reset(t *testing.T) {
	port := NewTestableSerialPort()

	// Set up state
	port.AddReadData([]byte("test"))
	port.Write([]byte("write"))
	port.ReadError = errors.New("error")
	port.WriteError = errors.New("error")
	port.ShortWrites = 3
	port.Close()

	// Reset
	port.Reset()

	// Verify reset state
	if port.ReadCalls != 0 {
		t.Errorf("Expected ReadCalls 0, got %d", port.ReadCalls)
	}
	if port.WriteCalls != 0 {
		t.Errorf("Expected WriteCalls 0, got %d", port.WriteCalls)
	}
	if port.Closed {
		t.Error("Expected port not closed")
	}
	if port.ReadError != nil || port.WriteError != nil {
		t.Error("Expected errors to be nil")
	}
	if port.ShortWrites != 0 {
		t.Error("Expected ShortWrites to be 0")
	}
	if port.ReadBuffer.Len() != 0 {
		t.Error("Expected ReadBuffer to be empty")
	}
	if port.WriteBuffer.Len() != 0 {
		t.Error("Expected WriteBuffer to be empty")
	}
}

func TestMockSerialPortFactory(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	mode := &SerialPortMode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}

	result, err := factory.Open("/dev/ttyUSB0", mode)
	if err != nil {
		t.Errorf("Open returned error: %v", err)
	}
	if result != SerialPorter(port) {
		t.Error("Expected returned port to match configured port")
	}

	// Verify call was recorded
	if len(factory.OpenCalls) != 1 {
		t.Fatalf("Expected 1 open call, got %d", len(factory.OpenCalls))
	}
	if factory.OpenCalls[0].Path != "/dev/ttyUSB0" {
		t.Errorf("Expected path '/dev/ttyUSB0', got '%s'", factory.OpenCalls[0].Path)
	}
	if factory.OpenCalls[0].Mode.BaudRate != 9600 {
		t.Errorf("Expected baud rate 9600, got %d", factory.OpenCalls[0].Mode.BaudRate)
	}
}

func TestMockSerialPortFactory_Error(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	factory.Error = errors.New("open error")

	_, err := factory.Open("/dev/ttyUSB0", nil)
	if err == nil || err.Error() != "open error" {
		t.Errorf("Expected 'open error', got: %v", err)
	}
}

func TestMockSerialPortFactory_LastCall(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	// No calls yet
	if factory.LastCall() != nil {
		t.Error("Expected nil when no calls")
	}

	factory.Open("/dev/tty1", nil)
	factory.Open("/dev/tty2", nil)

	last := factory.LastCall()
	if last == nil {
		t.Fatal("Expected non-nil last call")
	}
	if last.Path != "/dev/tty2" {
		t.Errorf("Expected '/dev/tty2', got '%s'", last.Path)
	}
}

func TestMockSerialPortFactory_Reset(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	factory.Error = errors.New("boom")
	factory.Open("/dev/tty1", nil)

	factory.Reset()

	if len(factory.OpenCalls) != 0 {
		t.Errorf("Expected 0 open calls after Reset, got %d", len(factory.OpenCalls))
	}
	if factory.Error != nil {
		t.Error("Expected Error to be nil after Reset")
	}
}
