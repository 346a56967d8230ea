package rtc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sweeney/now-remote/internal/link"
)

var hubMAC = link.MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}

func TestFileStoreMissingIsColdBoot(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "rtc.toml"))
	s, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s != (State{}) {
		t.Errorf("expected zero state, got %+v", s)
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rtc.toml")
	f := NewFileStore(path)

	want := State{HubAddrPresent: true, HubMAC: hubMAC, WifiChannel: 6, ErrorCount: 2}
	if err := f.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "AA:BB:CC:DD:EE:01") {
		t.Errorf("expected MAC in text form, got:\n%s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestFileStoreClear(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "rtc.toml"))
	if err := f.Clear(); err != nil {
		t.Errorf("clearing a missing file: %v", err)
	}
	if err := f.Save(State{ErrorCount: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	s, _ := f.Load()
	if s.ErrorCount != 0 {
		t.Errorf("expected cleared state, got %+v", s)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtc.toml")
	if err := os.WriteFile(path, []byte("hub_mac = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestClearHub(t *testing.T) {
	s := State{HubAddrPresent: true, HubMAC: hubMAC, WifiChannel: 6, ErrorCount: 3}
	s.ClearHub()
	if s != (State{}) {
		t.Errorf("expected zero state, got %+v", s)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore(State{ErrorCount: 1})
	s, _ := m.Load()
	s.ErrorCount++
	m.Save(s)
	got, _ := m.Load()
	if got.ErrorCount != 2 || m.Saves != 1 {
		t.Errorf("expected error_count 2 after 1 save, got %+v (%d saves)", got, m.Saves)
	}
	m.Clear()
	if got, _ := m.Load(); got != (State{}) {
		t.Errorf("expected zero state, got %+v", got)
	}
}
