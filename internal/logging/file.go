// internal/logging/file.go
package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	filePrefix    = "app-"
	fileExt       = ".log"
	dayLayout     = "2006-01-02"
	auditFileName = ".app-audit.json"
)

// ErrClosed is returned by writes to a closed RotatingFile.
var ErrClosed = errors.New("log file closed")

// FileConfig configures a RotatingFile.
type FileConfig struct {
	Dir           string
	MaxSizeMB     int
	RetentionDays int              // 0 keeps files forever
	Now           func() time.Time // defaults to time.Now
	OnError       func(error)      // background failures (audit, pruning)
	OnPrune       func([]string)   // files removed by retention

	// OnError and OnPrune run while the file is locked and must not write
	// to it.
}

// RotatingFile writes to dir/app-<YYYY-MM-DD>.log. A new file begins when
// the current one would exceed MaxSizeMB or when the clock enters a new
// calendar day, whichever comes first. Size rotation is delegated to
// lumberjack, which renames the full file to app-<DATE>-<timestamp>.log.
//
// A single write larger than MaxSizeMB is rejected with an error and nothing
// is written; the file stays usable for later writes.
//
// Every file the transport creates is recorded in the audit file
// (.app-audit.json) so retention can find it again after a restart.
type RotatingFile struct {
	cfg FileConfig

	mu     sync.Mutex
	day    string
	out    *lumberjack.Logger
	size   int64
	reopen bool // out has not yet opened the existing file on disk
	audit  *Audit
	closed atomic.Bool
}

// Audit lists the log files known to the transport.
type Audit struct {
	Files     []AuditEntry `json:"files"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// AuditEntry is one known log file.
type AuditEntry struct {
	Name    string    `json:"name"`
	Date    string    `json:"date"`
	AddedAt time.Time `json:"addedAt"`
}

// OpenRotatingFile creates the directory if needed, opens today's file and
// applies retention once.
func OpenRotatingFile(cfg FileConfig) (*RotatingFile, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if cfg.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("max size must be > 0, got %d", cfg.MaxSizeMB)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	if cfg.OnPrune == nil {
		cfg.OnPrune = func([]string) {}
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, pkgerrors.Wrapf(err, "create log directory %s", cfg.Dir)
	}

	audit, err := ReadAudit(cfg.Dir)
	if err != nil {
		cfg.OnError(err)
		audit = &Audit{}
	}

	rf := &RotatingFile{cfg: cfg, audit: audit}
	now := cfg.Now()

	rf.mu.Lock()
	defer rf.mu.Unlock()
	rf.openDay(now)
	rf.retain(now)
	return rf, nil
}

// Path returns the active file path.
func (rf *RotatingFile) Path() string {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.out.Filename
}

// Closed reports whether Close has been called.
func (rf *RotatingFile) Closed() bool {
	return rf.closed.Load()
}

// Write appends p to the active file, rolling over to a new day's file first
// when the clock has crossed midnight.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.closed.Load() {
		return 0, ErrClosed
	}

	now := rf.cfg.Now()
	if now.Format(dayLayout) != rf.day {
		if err := rf.out.Close(); err != nil {
			rf.cfg.OnError(pkgerrors.Wrap(err, "close log file on day rollover"))
		}
		rf.openDay(now)
		rf.retain(now)
	}

	rotates := rf.rotates(int64(len(p)))
	n, err := rf.out.Write(p)
	if err != nil {
		return n, err
	}
	rf.reopen = false
	if rotates {
		rf.size = int64(n)
		rf.reconcile(now)
		rf.saveAudit(now)
	} else {
		rf.size += int64(n)
	}
	return n, nil
}

// Sync is a no-op: lumberjack writes straight to the file.
func (rf *RotatingFile) Sync() error {
	return nil
}

// Close closes the active file and persists the audit file. Later writes
// fail with ErrClosed.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.closed.Swap(true) {
		return nil
	}

	err := rf.out.Close()
	now := rf.cfg.Now()
	rf.reconcile(now)
	return errors.Join(err, writeAudit(rf.cfg.Dir, rf.audit, now))
}

// Prune applies retention now and returns the removed file names.
func (rf *RotatingFile) Prune() ([]string, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	now := rf.cfg.Now()
	removed, err := prune(rf.cfg.Dir, rf.audit, now, rf.cfg.RetentionDays, filepath.Base(rf.out.Filename))
	return removed, errors.Join(err, writeAudit(rf.cfg.Dir, rf.audit, now))
}

func (rf *RotatingFile) maxBytes() int64 {
	return int64(rf.cfg.MaxSizeMB) * 1024 * 1024
}

// rotates predicts whether lumberjack starts a new file for a write of n
// bytes. Opening an existing file rotates once it would reach the limit; an
// open file only once it would pass it.
func (rf *RotatingFile) rotates(n int64) bool {
	if n > rf.maxBytes() {
		return false
	}
	if rf.reopen {
		return rf.size+n >= rf.maxBytes()
	}
	return rf.size+n > rf.maxBytes()
}

func (rf *RotatingFile) openDay(now time.Time) {
	rf.day = now.Format(dayLayout)
	name := fileName(rf.day)
	path := filepath.Join(rf.cfg.Dir, name)

	rf.out = &lumberjack.Logger{
		Filename:  path,
		MaxSize:   rf.cfg.MaxSizeMB,
		LocalTime: true,
	}
	rf.size = 0
	rf.reopen = false
	if info, err := os.Stat(path); err == nil {
		rf.size = info.Size()
		rf.reopen = true
	}
	rf.audit.add(name, rf.day, now)
}

// retain records files lumberjack created, prunes and saves the audit.
func (rf *RotatingFile) retain(now time.Time) {
	rf.reconcile(now)
	removed, err := prune(rf.cfg.Dir, rf.audit, now, rf.cfg.RetentionDays, filepath.Base(rf.out.Filename))
	if err != nil {
		rf.cfg.OnError(err)
	}
	if len(removed) > 0 {
		rf.cfg.OnPrune(removed)
	}
	rf.saveAudit(now)
}

func (rf *RotatingFile) reconcile(now time.Time) {
	names, err := listLogFiles(rf.cfg.Dir)
	if err != nil {
		rf.cfg.OnError(err)
		return
	}
	for _, name := range names {
		rf.audit.add(name, fileDate(name), now)
	}
}

func (rf *RotatingFile) saveAudit(now time.Time) {
	if err := writeAudit(rf.cfg.Dir, rf.audit, now); err != nil {
		rf.cfg.OnError(err)
	}
}

func (a *Audit) add(name, date string, now time.Time) {
	if date == "" {
		return
	}
	if slices.ContainsFunc(a.Files, func(e AuditEntry) bool { return e.Name == name }) {
		return
	}
	a.Files = append(a.Files, AuditEntry{Name: name, Date: date, AddedAt: now})
}

// ReadAudit loads the audit file of dir. A missing file yields an empty audit.
func ReadAudit(dir string) (*Audit, error) {
	path := filepath.Join(dir, auditFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Audit{}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read audit file %s", path)
	}
	var a Audit
	if err := gojson.Unmarshal(data, &a); err != nil {
		return nil, pkgerrors.Wrapf(err, "decode audit file %s", path)
	}
	return &a, nil
}

// PruneDir applies retention to dir outside of a running logger. Today's
// file is never removed.
func PruneDir(dir string, retentionDays int, now time.Time) ([]string, error) {
	audit, err := ReadAudit(dir)
	if err != nil {
		audit = &Audit{}
	}
	removed, pruneErr := prune(dir, audit, now, retentionDays, fileName(now.Format(dayLayout)))
	if pruneErr != nil {
		return removed, pruneErr
	}
	return removed, writeAudit(dir, audit, now)
}

// prune deletes files dated before the start of today minus retentionDays.
// The audit is brought in line with the directory first so files missing
// from it are still found. active is never removed.
func prune(dir string, audit *Audit, now time.Time, retentionDays int, active string) ([]string, error) {
	names, err := listLogFiles(dir)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
		audit.add(name, fileDate(name), now)
	}

	y, m, d := now.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -retentionDays)

	var (
		removed []string
		errs    []error
	)
	kept := make([]AuditEntry, 0, len(audit.Files))
	for _, e := range audit.Files {
		if !present[e.Name] && e.Name != active {
			continue // gone from disk
		}
		date, err := time.ParseInLocation(dayLayout, e.Date, now.Location())
		if retentionDays <= 0 || err != nil || e.Name == active || !date.Before(cutoff) {
			kept = append(kept, e)
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, pkgerrors.Wrapf(err, "remove expired log file %s", e.Name))
			kept = append(kept, e)
			continue
		}
		removed = append(removed, e.Name)
	}
	audit.Files = kept
	return removed, errors.Join(errs...)
}

func writeAudit(dir string, a *Audit, now time.Time) error {
	a.UpdatedAt = now
	data, err := gojson.MarshalIndent(a, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "encode audit file")
	}

	tmp, err := os.CreateTemp(dir, auditFileName+".*.tmp")
	if err != nil {
		return pkgerrors.Wrap(err, "create audit temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return pkgerrors.Wrap(err, "write audit file")
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrap(err, "close audit file")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, auditFileName)); err != nil {
		return pkgerrors.Wrap(err, "replace audit file")
	}
	return nil
}

// listLogFiles returns the names in dir that look like transport files.
func listLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "list log directory %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if fileDate(e.Name()) != "" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func fileName(day string) string {
	return filePrefix + day + fileExt
}

// fileDate extracts the day from app-<DATE>.log or app-<DATE>-<ts>.log.
// It returns "" for names the transport did not create.
func fileDate(name string) string {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return ""
	}
	rest := strings.TrimPrefix(name, filePrefix)
	if len(rest) < len(dayLayout) {
		return ""
	}
	day := rest[:len(dayLayout)]
	if _, err := time.Parse(dayLayout, day); err != nil {
		return ""
	}
	tail := rest[len(dayLayout):]
	if tail != fileExt && !strings.HasPrefix(tail, "-") {
		return ""
	}
	return day
}
