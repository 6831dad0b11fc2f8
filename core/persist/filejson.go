package persist

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/logger"
)

// BackupSink receives a copy of every backup, e.g. an S3 bucket.
type BackupSink interface {
	Put(name string, data []byte) error
}

// FileOptions configures the file-JSON adapter.
type FileOptions struct {
	// AutoSave debounces Save calls through a timer instead of writing
	// inline.
	AutoSave bool
	// SaveInterval is the autosave period; default 5s.
	SaveInterval time.Duration
	// Sink optionally mirrors every backup file.
	Sink BackupSink
}

// FileAdapter persists the dataset as pretty-printed JSON in a single
// file. Saves are atomic: write to a temp file, fsync, rename.
type FileAdapter struct {
	path string
	opts FileOptions

	mu      sync.Mutex // serializes writes; a save never runs concurrently with another save
	pending map[string][]core.Record
	dirty   bool
	done    chan struct{}
	wg      sync.WaitGroup
	datasetCRUD
}

// NewFileAdapter creates a file adapter for the given path. When autosave
// is enabled a timer goroutine flushes pending saves every SaveInterval.
func NewFileAdapter(path string, opts FileOptions) *FileAdapter {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 5 * time.Second
	}
	f := &FileAdapter{path: path, opts: opts, done: make(chan struct{})}
	f.datasetCRUD = datasetCRUD{mu: &f.mu, load: f.loadLocked, save: f.writeNow}
	if opts.AutoSave {
		f.wg.Add(1)
		go f.autosaveLoop()
	}
	return f
}

func (f *FileAdapter) autosaveLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.opts.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := f.Flush(); err != nil {
				logger.Default().WithError(err).Error("autosave failed")
			}
		case <-f.done:
			return
		}
	}
}

// Initialize writes the initial dataset if the file does not exist yet.
func (f *FileAdapter) Initialize(initial map[string][]core.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path); err == nil {
		return nil
	}
	if initial == nil {
		initial = map[string][]core.Record{}
	}
	return f.writeNow(initial)
}

// Load reads and parses the file. A missing file yields an empty dataset
// and creates an empty file.
func (f *FileAdapter) Load() (map[string][]core.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *FileAdapter) loadLocked() (map[string][]core.Record, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		empty := map[string][]core.Record{}
		if werr := f.writeNow(empty); werr != nil {
			return nil, werr
		}
		return empty, nil
	}
	if err != nil {
		return nil, apierror.Wrap(apierror.KindIO, err, "cannot read database file %s", f.path)
	}
	data := map[string][]core.Record{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, apierror.Wrap(apierror.KindIO, err, "database file %s is not valid JSON", f.path)
		}
	}
	return data, nil
}

// Save persists the dataset. With autosave the write is deferred to the
// timer; redundant saves coalesce into one write.
func (f *FileAdapter) Save(data map[string][]core.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opts.AutoSave {
		return f.writeNow(data)
	}
	f.pending = core.DeepCopyDataset(data)
	f.dirty = true
	return nil
}

// Flush writes any pending autosave state now.
func (f *FileAdapter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

func (f *FileAdapter) flushLocked() error {
	if !f.dirty {
		return nil
	}
	data := f.pending
	f.pending = nil
	f.dirty = false
	return f.writeNow(data)
}

// writeNow serializes and writes atomically: temp file, fsync, rename.
func (f *FileAdapter) writeNow(data map[string][]core.Record) error {
	if data == nil {
		data = map[string][]core.Record{}
	}
	raw, err := json.MarshalIndentWithOption(data, "", "  ", json.DisableHTMLEscape())
	if err != nil {
		return apierror.Wrap(apierror.KindIO, err, "cannot serialize dataset")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierror.Wrap(apierror.KindIO, err, "cannot create database directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return apierror.Wrap(apierror.KindIO, err, "cannot create temp file")
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(raw); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return apierror.Wrap(apierror.KindIO, err, "cannot write database file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return apierror.Wrap(apierror.KindIO, err, "cannot replace database file %s", f.path)
	}
	return nil
}

// BackupPath returns the canonical backup path for a timestamp:
// <path>.<ISO-8601 with ':' and '.' replaced by '-'>.backup
func (f *FileAdapter) BackupPath(at time.Time) string {
	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return f.path + "." + stamp + ".backup"
}

// Backup flushes pending state and copies the database file to the backup
// path (a caller-supplied one, or the canonical timestamped one). The
// backup id is the backup file path.
func (f *FileAdapter) Backup(label string) (string, error) {
	f.mu.Lock()
	if err := f.flushLocked(); err != nil {
		f.mu.Unlock()
		return "", err
	}
	raw, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if os.IsNotExist(err) {
		raw = []byte("{}")
	} else if err != nil {
		return "", apierror.Wrap(apierror.KindIO, err, "cannot read database file for backup")
	}
	target := label
	if target == "" {
		target = f.BackupPath(time.Now())
	}
	if err := os.WriteFile(target, raw, 0o644); err != nil {
		return "", apierror.Wrap(apierror.KindIO, err, "cannot write backup %s", target)
	}
	if f.opts.Sink != nil {
		if err := f.opts.Sink.Put(filepath.Base(target), raw); err != nil {
			// the local backup succeeded; the mirror is best effort
			logger.Default().WithError(err).Warnf("cannot mirror backup %s", target)
		}
	}
	return target, nil
}

// Restore copies the identified backup file over the database file and
// reloads it.
func (f *FileAdapter) Restore(id string) (map[string][]core.Record, error) {
	raw, err := os.ReadFile(id)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindNotFound, err, "no such backup %q", id)
	}
	data := map[string][]core.Record{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apierror.Wrap(apierror.KindIO, err, "backup %q is not valid JSON", id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	f.dirty = false
	if err := f.writeNow(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Reset truncates the persisted dataset.
func (f *FileAdapter) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	f.dirty = false
	return f.writeNow(map[string][]core.Record{})
}

// GetStats reports per-collection counts; last modified is the file mtime.
func (f *FileAdapter) GetStats() map[string]Stats {
	data, err := f.Load()
	if err != nil {
		return map[string]Stats{}
	}
	var modified int64
	if info, err := os.Stat(f.path); err == nil {
		modified = info.ModTime().UnixMilli()
	}
	out := make(map[string]Stats, len(data))
	for name, records := range data {
		out[name] = Stats{Count: len(records), LastModified: modified}
	}
	return out
}

// Close stops the autosave timer and flushes pending state.
func (f *FileAdapter) Close() error {
	if f.opts.AutoSave {
		close(f.done)
		f.wg.Wait()
	}
	return f.Flush()
}
