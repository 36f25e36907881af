package rawsource

import (
	"testing"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

func TestParseRecord(t *testing.T) {
	dp, err := parseRecord("ReqCState=6 TotCyc=1000000 CC0Cyc=10000.5")
	if err != nil {
		t.Fatalf("parseRecord: %v", err)
	}
	if dp["ReqCState"].Int() != 6 {
		t.Errorf("ReqCState = %d, want 6", dp["ReqCState"].Int())
	}
	if dp["TotCyc"].Int() != 1_000_000 {
		t.Errorf("TotCyc = %d, want 1000000", dp["TotCyc"].Int())
	}
	if dp["CC0Cyc"].Float() != 10000.5 {
		t.Errorf("CC0Cyc = %v, want 10000.5", dp["CC0Cyc"].Float())
	}
}

func TestParseRecordMalformed(t *testing.T) {
	if _, err := parseRecord("not-a-kv-pair"); err == nil {
		t.Fatal("expected an error for a malformed field")
	}
	if _, err := parseRecord(""); err == nil {
		t.Fatal("expected an error for an empty record")
	}
}

func TestParseDeviceInfo(t *testing.T) {
	info := parseDeviceInfo("devid=wult-tdt devdescr=\"TSC deadline timer\" resolution_nsec=100\n")
	if info.DevID != "wult-tdt" {
		t.Errorf("DevID = %q, want wult-tdt", info.DevID)
	}
	if info.Resolution != 100 {
		t.Errorf("Resolution = %d, want 100", info.Resolution)
	}
}

func TestParseDeviceInfoIgnoresMalformedFields(t *testing.T) {
	info := parseDeviceInfo("devid=wult-tdt garbage resolution_nsec=notanumber\n")
	if info.DevID != "wult-tdt" {
		t.Errorf("DevID = %q, want wult-tdt", info.DevID)
	}
	if info.Resolution != 0 {
		t.Errorf("Resolution = %d, want 0 (unparsed)", info.Resolution)
	}
}

func TestFixtureSourceReplaysInOrder(t *testing.T) {
	dps := []model.RawDatapoint{
		{"ReqCState": model.IntVal(0)},
		{"ReqCState": model.IntVal(1)},
	}
	f := NewFixtureSource(dps, false)

	first, ok, err := f.Next()
	if err != nil || !ok || first["ReqCState"].Int() != 0 {
		t.Fatalf("first Next() = %v, %v, %v", first, ok, err)
	}
	second, ok, err := f.Next()
	if err != nil || !ok || second["ReqCState"].Int() != 1 {
		t.Fatalf("second Next() = %v, %v, %v", second, ok, err)
	}
	_, ok, err = f.Next()
	if err != nil || ok {
		t.Fatal("expected end of sequence")
	}
}
