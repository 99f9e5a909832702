package device

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseFaultLineMatchesXid(t *testing.T) {
	entry, ok := ParseFaultLine("NVRM: Xid (PCI:0000:41:00): 79, GPU has fallen off the bus")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if entry.Code != 79 {
		t.Errorf("code = %d, want 79", entry.Code)
	}
	if entry.Message != "GPU has fallen off the bus" {
		t.Errorf("message = %q", entry.Message)
	}
}

func TestParseFaultLineFallsBackToXidDescription(t *testing.T) {
	entry, ok := ParseFaultLine("NVRM: Xid (PCI:0000:41:00): 31")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if entry.Message != XIDDescription(31) {
		t.Errorf("message = %q, want the XID table description", entry.Message)
	}
}

func TestParseFaultLineIgnoresNonXidLines(t *testing.T) {
	if _, ok := ParseFaultLine("some unrelated kernel message"); ok {
		t.Error("expected non-Xid line to not match")
	}
}

func TestFaultLogReaderTracksOffsetAcrossReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kern.log")
	if err := os.WriteFile(path, []byte("NVRM: Xid (PCI:0000:41:00): 79, fell off bus\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := NewFaultLogReader(path, 0)
	entries, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	// A second read with no new content returns nothing new.
	entries, err = r.Read()
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("second read = %+v, want empty (already consumed)", entries)
	}

	// Appending a new line surfaces only the new entry.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("NVRM: Xid (PCI:0000:41:00): 31, page fault\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	entries, err = r.Read()
	if err != nil {
		t.Fatalf("third Read: %v", err)
	}
	if len(entries) != 1 || entries[0].Code != 31 {
		t.Fatalf("third read = %+v, want one entry with code 31", entries)
	}
}

func TestFaultLogReaderHandlesRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kern.log")
	long := "NVRM: Xid (PCI:0000:41:00): 79, fell off bus\nNVRM: Xid (PCI:0000:41:00): 48, double bit ecc\n"
	if err := os.WriteFile(path, []byte(long), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := NewFaultLogReader(path, 0)
	if _, err := r.Read(); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	// Simulate rotation: file is truncated and replaced with a shorter one.
	short := "NVRM: Xid (PCI:0000:41:00): 13, graphics exception\n"
	if err := os.WriteFile(path, []byte(short), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	entries, err := r.Read()
	if err != nil {
		t.Fatalf("post-rotation read: %v", err)
	}
	if len(entries) != 1 || entries[0].Code != 13 {
		t.Fatalf("post-rotation entries = %+v, want one entry with code 13", entries)
	}
}

func TestFaultLogReaderWindowFiltersOldEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kern.log")

	stale := time.Now().Add(-time.Hour).Format(time.RFC3339Nano)
	fresh := time.Now().Format(time.RFC3339Nano)
	lines := stale + " host kernel: NVRM: Xid (PCI:0000:41:00): 79, fell off bus\n" +
		fresh + " host kernel: NVRM: Xid (PCI:0000:41:00): 31, page fault\n"
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := NewFaultLogReader(path, 5*time.Minute)

	entries, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].Code != 31 {
		t.Errorf("entries = %+v, want only the fresh code-31 entry inside the window", entries)
	}
}

// Lines with no syslog timestamp are stamped at read time, so the window
// never filters them.
func TestFaultLogReaderKeepsUntimestampedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kern.log")
	if err := os.WriteFile(path, []byte("NVRM: Xid (PCI:0000:41:00): 79, fell off bus\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := NewFaultLogReader(path, time.Minute)
	entries, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %+v, want the untimestamped entry to be kept", entries)
	}
}

func TestFaultLogReaderMapsPCIBusToDeviceIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kern.log")
	if err := os.WriteFile(path, []byte("NVRM: Xid (PCI:0000:41:00): 79, fell off bus\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := NewFaultLogReader(path, 0)
	r.SetPCIMappings(map[string]int{"0000:41:00.0": 2})

	entries, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].DeviceIndex != 2 {
		t.Fatalf("entries = %+v, want DeviceIndex=2", entries)
	}
}
