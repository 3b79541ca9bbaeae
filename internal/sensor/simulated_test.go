package sensor

import (
	"testing"
	"time"
)

func TestSimulated_NoSendsAfterUnregister(t *testing.T) {
	svc := NewSimulated(DefaultSimulatedSensors())
	sensors, _ := svc.List()

	// Unbuffered and never drained: pollers block on send until stopped
	events := make(chan Sample)
	for _, d := range sensors {
		if err := svc.Register(d, time.Millisecond, events); err != nil {
			t.Fatalf("Expected register to succeed, got: %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- svc.UnregisterAll() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected unregister to succeed, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("UnregisterAll blocked on a pending send")
	}

	select {
	case s := <-events:
		t.Errorf("Expected no sample after unregister, got %+v", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSimulated_ValueArity(t *testing.T) {
	svc := NewSimulated(DefaultSimulatedSensors())
	sensors, _ := svc.List()

	events := make(chan Sample, 1)
	rotation := sensors[2]
	if err := svc.Register(rotation, time.Millisecond, events); err != nil {
		t.Fatal(err)
	}
	defer svc.UnregisterAll()

	select {
	case s := <-events:
		if len(s.Values) != Arity(TypeRotationVector) {
			t.Errorf("Expected %d values, got %d", Arity(TypeRotationVector), len(s.Values))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a sample")
	}
}

func TestSimulated_RegisterUnknown(t *testing.T) {
	svc := NewSimulated(nil)
	if err := svc.Register(Descriptor{ID: "ghost"}, time.Millisecond, make(chan Sample)); err == nil {
		t.Error("Expected error for unknown sensor")
	}
}
