package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/newtron-network/mactrace/pkg/util"
)

// Logger is where audit events go.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// Options bound the size of a Journal. MaxBytes zero never rotates.
// Rotated files are numbered, path.1 being the most recent; MaxBackups of
// them are kept.
type Options struct {
	MaxBytes   int64
	MaxBackups int
}

// Journal is an append-only JSON-lines audit file. The file and its
// directory are private to the user since events name accounts and
// devices.
type Journal struct {
	path string
	opts Options

	mu   sync.Mutex
	file *os.File
	size int64
}

// Open opens or creates the journal at path.
func Open(path string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	j := &Journal{path: path, opts: opts}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("opening audit log: %w", err)
	}
	j.file = f
	j.size = info.Size()
	return nil
}

// Path returns the current journal file.
func (j *Journal) Path() string {
	return j.path
}

// Log appends one event, rotating first when the file is full.
func (j *Journal) Log(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	if j.opts.MaxBytes > 0 && j.size > 0 && j.size+int64(len(line)) > j.opts.MaxBytes {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	n, err := j.file.Write(line)
	j.size += int64(n)
	return err
}

// backup names the n-th rotated file.
func (j *Journal) backup(n int) string {
	return fmt.Sprintf("%s.%d", j.path, n)
}

// rotate shifts path.k to path.k+1, drops what falls past MaxBackups and
// starts an empty file.
func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return err
	}
	j.file = nil

	if j.opts.MaxBackups <= 0 {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return j.open()
	}
	if err := os.Remove(j.backup(j.opts.MaxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for n := j.opts.MaxBackups - 1; n >= 1; n-- {
		if err := os.Rename(j.backup(n), j.backup(n+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(j.path, j.backup(1)); err != nil {
		return err
	}
	return j.open()
}

// Query returns the events matching filter, oldest first unless
// filter.Newest. Rotated files are read too.
func (j *Journal) Query(filter Filter) ([]*Event, error) {
	j.mu.Lock()
	files := []string{}
	for n := j.opts.MaxBackups; n >= 1; n-- {
		files = append(files, j.backup(n))
	}
	files = append(files, j.path)
	j.mu.Unlock()

	var events []*Event
	for _, name := range files {
		found, err := readEvents(name, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, found...)
	}

	if filter.Newest {
		sort.SliceStable(events, func(a, b int) bool {
			return events[a].Timestamp.After(events[b].Timestamp)
		})
	}
	return filter.page(events), nil
}

// readEvents scans one journal file. A missing file has no events;
// undecodable lines are skipped with a warning.
func readEvents(name string, filter Filter) ([]*Event, error) {
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	defer f.Close()

	var events []*Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			util.Logger.WithField("file", name).Warnf("audit: skipping line %d: %v", line, err)
			continue
		}
		if filter.Match(&e) {
			events = append(events, &e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log %s: %w", name, err)
	}
	return events, nil
}

// Close closes the journal. Further Log calls fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger installs the logger used by Log and Query. nil turns
// auditing off.
func SetDefaultLogger(l Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Log records event with the default logger, if any.
func Log(event *Event) error {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Log(event)
}

// Query searches the default logger, if any.
func Query(filter Filter) ([]*Event, error) {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l == nil {
		return []*Event{}, nil
	}
	return l.Query(filter)
}
