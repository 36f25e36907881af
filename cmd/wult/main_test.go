package main

import (
	"testing"
)

func TestParseCStatesValid(t *testing.T) {
	got, err := parseCStates("0:POLL,1:C1,3:C6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[int]string{0: "POLL", 1: "C1", 3: "C6"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for idx, name := range want {
		if got[idx] != name {
			t.Errorf("index %d: got %q, want %q", idx, got[idx], name)
		}
	}
}

func TestParseCStatesTrimsWhitespace(t *testing.T) {
	got, err := parseCStates("0: POLL , 1 :C6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != "POLL" || got[1] != "C6" {
		t.Fatalf("got %v", got)
	}
}

func TestParseCStatesBadEntry(t *testing.T) {
	if _, err := parseCStates("POLL"); err == nil {
		t.Fatal("expected an error for a missing colon")
	}
}

func TestParseCStatesBadIndex(t *testing.T) {
	if _, err := parseCStates("notanumber:POLL"); err == nil {
		t.Fatal("expected an error for a non-numeric index")
	}
}

func TestNewCLIBackendFixture(t *testing.T) {
	src, err := newCLIBackend("fixture", "", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src == nil {
		t.Fatal("expected a non-nil RawSource")
	}
	if src.TscNative() {
		t.Error("fixture backend should not report TSC-native time")
	}
}

func TestNewCLIBackendNative(t *testing.T) {
	src, err := newCLIBackend("native", "", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !src.TscNative() {
		t.Error("native backend should report TSC-native time")
	}
}

func TestNewCLIBackendUnknown(t *testing.T) {
	if _, err := newCLIBackend("bogus", "", "", 0); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestDemoDatapointsNonEmpty(t *testing.T) {
	dps := demoDatapoints()
	if len(dps) == 0 {
		t.Fatal("expected a non-empty demo dataset")
	}
}
