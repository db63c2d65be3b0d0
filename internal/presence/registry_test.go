package presence

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("lookup on empty registry should miss")
	}

	r.Register("u1", "c1")
	connID, ok := r.Lookup("u1")
	if !ok || connID != "c1" {
		t.Errorf("expected c1, got %q (ok=%v)", connID, ok)
	}
}

func TestRegisterSupersedes(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u1", "c2")

	connID, ok := r.Lookup("u1")
	if !ok || connID != "c2" {
		t.Errorf("second connect should win: got %q (ok=%v)", connID, ok)
	}
	if r.Count() != 1 {
		t.Errorf("expected a single entry per user, got %d", r.Count())
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")

	if !r.Unregister("u1", "c1") {
		t.Error("unregister of current connection should report removal")
	}
	if _, ok := r.Lookup("u1"); ok {
		t.Error("entry should be gone after unregister")
	}
}

func TestUnregisterStaleConnection(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u1", "c2") // c1 superseded before its disconnect arrives

	if r.Unregister("u1", "c1") {
		t.Error("stale unregister should be a no-op")
	}

	connID, ok := r.Lookup("u1")
	if !ok || connID != "c2" {
		t.Errorf("newer entry should survive stale unregister: got %q (ok=%v)", connID, ok)
	}
}

func TestUnregisterUnknownUser(t *testing.T) {
	r := NewRegistry()
	if r.Unregister("ghost", "c1") {
		t.Error("unregister of unknown user should report nothing removed")
	}
}
