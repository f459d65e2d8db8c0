package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	saved := Logf
	defer func() { Logf = saved }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("frame capture failed: %v", "sensor timeout")

	if got != "frame capture failed: sensor timeout" {
		t.Errorf("logged %q", got)
	}
}

func TestSetLoggerNilInstallsNoOp(t *testing.T) {
	saved := Logf
	defer func() { Logf = saved }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	Logf("probe")
	if !called {
		t.Fatal("replacement logger never ran")
	}

	called = false
	SetLogger(nil)
	Logf("dropped %d packets", 3)
	if called {
		t.Error("no-op logger still reached the old sink")
	}
}

func TestLogfDefaultIsUsable(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf is nil before any SetLogger call")
	}
}
