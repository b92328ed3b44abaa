// Package journal is the append-only audit trail of provisioning steps.
// Entries are JSON lines in size-rotated files under one directory.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/stackforge/pkg/account"
)

// EntryType names one provisioning step.
type EntryType string

const (
	EntryAccountRequested EntryType = "account_requested"
	EntryAccountCreated   EntryType = "account_created"
	EntryAccountFailed    EntryType = "account_failed"
	EntryResourceCreated  EntryType = "resource_created"
	EntryResourceFailed   EntryType = "resource_failed"
	EntryResourceSkipped  EntryType = "resource_skipped"
	EntrySnapshotSaved    EntryType = "snapshot_saved"
)

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	Key       account.Key     `json:"key"`
	Service   string          `json:"service,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Config controls file naming, rotation and retention.
type Config struct {
	FilePrefix    string
	MaxFileSize   int64
	RetentionDays int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "stackforge",
		MaxFileSize:   10 * 1024 * 1024,
		RetentionDays: 30,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FilePrefix == "" {
		c.FilePrefix = d.FilePrefix
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
}

// Journal appends entries to the current file.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	size     int64
	sequence int64
	dir      string
	config   Config
	now      func() time.Time
}

// Open creates dir if needed and continues the sequence found in any
// existing journal files.
func Open(dir string, config Config) (*Journal, error) {
	config.applyDefaults()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{dir: dir, config: config, now: time.Now}
	j.sequence = lastSequence(listFiles(dir, config.FilePrefix))
	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) openFile() error {
	name := fmt.Sprintf("%s-%s-%012d.wal", j.config.FilePrefix, j.now().UTC().Format("20060102-150405"), j.sequence+1)
	path := filepath.Join(j.dir, name)

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat journal file: %w", err)
	}

	j.file = file
	j.writer = bufio.NewWriter(file)
	j.size = info.Size()
	return nil
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append records a step. data is stored as JSON and may be nil.
func (j *Journal) Append(typ EntryType, key account.Key, service string, data interface{}) error {
	return j.append(typ, key, service, data, nil)
}

// AppendError records a failed step together with its error text.
func (j *Journal) AppendError(typ EntryType, key account.Key, service string, data interface{}, cause error) error {
	return j.append(typ, key, service, data, cause)
}

func (j *Journal) append(typ EntryType, key account.Key, service string, data interface{}, cause error) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		raw = b
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.size >= j.config.MaxFileSize {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	j.sequence++
	entry := Entry{
		Timestamp: j.now().UTC(),
		Sequence:  j.sequence,
		Type:      typ,
		Key:       key,
		Service:   service,
		Data:      raw,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return j.writeEntry(entry)
}

func (j *Journal) rotate() error {
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal file: %w", err)
	}
	return j.openFile()
}

func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	j.size += int64(len(line))
	return j.file.Sync()
}

// Sequence returns the last sequence number written.
func (j *Journal) Sequence() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sequence
}

// Reader replays one journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for replay.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner, file: file}, nil
}

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// History returns entries for key in sequence order, or every entry when
// key is empty. Unparseable lines are skipped.
func History(dir string, config Config, key account.Key) ([]Entry, error) {
	config.applyDefaults()
	var out []Entry
	for _, path := range listFiles(dir, config.FilePrefix) {
		entries, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if key == "" || e.Key == key {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Sequence < out[b].Sequence })
	return out, nil
}

func readFile(path string) ([]Entry, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var out []Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, err
			}
			continue
		}
		out = append(out, *e)
	}
}

// listFiles returns journal files sorted oldest first. File names embed
// the creation time and first sequence so lexical order is write order.
func listFiles(dir, prefix string) []string {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.wal"))
	if err != nil {
		return nil
	}
	sort.Strings(files)
	return files
}

func lastSequence(files []string) int64 {
	var last int64
	for _, f := range files {
		entries, err := readFile(f)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Sequence > last {
				last = e.Sequence
			}
		}
	}
	return last
}
