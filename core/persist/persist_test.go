package persist

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
)

func dataset() map[string][]core.Record {
	return map[string][]core.Record{
		"users": {{"id": float64(1), "name": "alice"}},
	}
}

func TestMemoryAdapterRoundTrip(t *testing.T) {
	m := NewMemoryAdapter()
	if err := m.Initialize(dataset()); err != nil {
		t.Fatal(err)
	}
	loaded, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded["users"]) != 1 {
		t.Fatalf("unexpected dataset: %v", loaded)
	}

	// loads are isolated copies
	loaded["users"][0]["name"] = "mutated"
	again, _ := m.Load()
	if again["users"][0]["name"] != "alice" {
		t.Error("load returned a shared reference")
	}

	// initialize does not overwrite existing data
	if err := m.Initialize(map[string][]core.Record{"other": {}}); err != nil {
		t.Fatal(err)
	}
	again, _ = m.Load()
	if _, ok := again["other"]; ok {
		t.Error("initialize overwrote existing data")
	}
}

func TestMemoryAdapterBackupRestore(t *testing.T) {
	m := NewMemoryAdapter()
	if err := m.Save(dataset()); err != nil {
		t.Fatal(err)
	}
	id, err := m.Backup("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "backup-") {
		t.Errorf("generated label: got %q", id)
	}

	if err := m.Save(map[string][]core.Record{"users": {}}); err != nil {
		t.Fatal(err)
	}
	restored, err := m.Restore(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored["users"]) != 1 {
		t.Errorf("restore did not bring the snapshot back: %v", restored)
	}

	if _, err := m.Restore("nope"); apierror.KindOf(err) != apierror.KindNotFound {
		t.Errorf("unknown backup: got %v", err)
	}
}

func TestFileAdapterLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	f := NewFileAdapter(path, FileOptions{})
	defer f.Close()

	data, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty dataset, got %v", data)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("load did not create an empty file")
	}
}

func TestFileAdapterSaveFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	f := NewFileAdapter(path, FileOptions{})
	defer f.Close()

	if err := f.Save(dataset()); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// pretty printed with two-space indentation
	if !strings.Contains(string(raw), "\n  \"users\"") {
		t.Errorf("unexpected file format:\n%s", raw)
	}

	loaded, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded["users"][0]["id"] != float64(1) {
		t.Errorf("round trip lost data: %v", loaded)
	}
}

func TestFileAdapterBackupRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	f := NewFileAdapter(path, FileOptions{})
	defer f.Close()

	if err := f.Save(dataset()); err != nil {
		t.Fatal(err)
	}
	id, err := f.Backup("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, path+".") || !strings.HasSuffix(id, ".backup") {
		t.Errorf("backup path: got %q", id)
	}
	if strings.ContainsAny(filepath.Base(strings.TrimPrefix(id, path)), ":") {
		t.Errorf("backup path contains a colon: %q", id)
	}

	if err := f.Save(map[string][]core.Record{}); err != nil {
		t.Fatal(err)
	}
	restored, err := f.Restore(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored["users"]) != 1 {
		t.Errorf("restore did not bring the snapshot back: %v", restored)
	}
	// the main file was overwritten as well
	data, _ := f.Load()
	if len(data["users"]) != 1 {
		t.Errorf("main file not restored: %v", data)
	}

	if _, err := f.Restore(filepath.Join(t.TempDir(), "missing.backup")); apierror.KindOf(err) != apierror.KindNotFound {
		t.Errorf("unknown backup: got %v", err)
	}
}

func TestFileAdapterBackupPath(t *testing.T) {
	f := NewFileAdapter("/tmp/db.json", FileOptions{})
	defer f.Close()
	at := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	got := f.BackupPath(at)
	want := "/tmp/db.json.2026-03-14T09-26-53-589Z.backup"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestFileAdapterAutosaveCoalesces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	f := NewFileAdapter(path, FileOptions{AutoSave: true, SaveInterval: time.Hour})

	if err := f.Save(dataset()); err != nil {
		t.Fatal(err)
	}
	// nothing written yet, the timer has not fired
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("autosave wrote inline")
	}
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("flush did not write")
	}
	// close flushes the remaining state
	if err := f.Save(map[string][]core.Record{"users": {}}); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	final := NewFileAdapter(path, FileOptions{})
	defer final.Close()
	data, err := final.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(data["users"]) != 0 {
		t.Errorf("close did not flush the last save: %v", data)
	}
}

func TestDatasetCRUDMirror(t *testing.T) {
	m := NewMemoryAdapter()
	if err := m.Save(dataset()); err != nil {
		t.Fatal(err)
	}

	added, err := m.AddRecord("users", core.Record{"name": "bob"}, "id")
	if err != nil {
		t.Fatal(err)
	}
	if added["id"] != float64(2) {
		t.Errorf("generated id: got %v", added["id"])
	}

	record, found, err := m.GetRecord("users", "2", "id")
	if err != nil || !found || record["name"] != "bob" {
		t.Fatalf("get: %v %v %v", record, found, err)
	}

	if _, err := m.UpdateRecord("users", float64(2), core.Record{"name": "robert"}, "id"); err != nil {
		t.Fatal(err)
	}
	record, _, _ = m.GetRecord("users", float64(2), "id")
	if record["name"] != "robert" {
		t.Errorf("update: %v", record)
	}

	deleted, err := m.DeleteRecord("users", float64(2), "id")
	if err != nil || !deleted {
		t.Fatal(err, deleted)
	}
	if _, found, _ := m.GetRecord("users", float64(2), "id"); found {
		t.Error("record still present after delete")
	}
}

func TestDatasetCRUDMirrorConcurrent(t *testing.T) {
	m := NewMemoryAdapter()
	if err := m.Initialize(map[string][]core.Record{"events": {}}); err != nil {
		t.Fatal(err)
	}
	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := m.AddRecord("events", core.Record{"writer": float64(w)}, "id"); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	data, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(data["events"]); got != writers*perWriter {
		t.Fatalf("got %d events want %d", got, writers*perWriter)
	}
	seen := map[interface{}]bool{}
	for _, r := range data["events"] {
		if seen[r["id"]] {
			t.Fatalf("duplicate generated id %v", r["id"])
		}
		seen[r["id"]] = true
	}
}

func TestFileAdapterConcurrentSaves(t *testing.T) {
	dir := t.TempDir()
	f := NewFileAdapter(filepath.Join(dir, "db.json"), FileOptions{})
	defer f.Close()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			data := map[string][]core.Record{
				"items": {{"id": float64(w)}},
			}
			if err := f.Save(data); err != nil {
				t.Error(err)
			}
		}(w)
	}
	wg.Wait()
	data, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(data["items"]) != 1 {
		t.Fatalf("corrupted dataset: %v", data)
	}
}
