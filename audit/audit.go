// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package audit writes the audit trail of flagged addresses: one JSON line per
flagged address, each line written in a single write and flushed to stable
storage before the next one.

The audit log file is truncated once when creating a [Logger] at the start of
a run and afterwards only ever appended to.
*/
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/siemens/blackdig/types"

	"go.uber.org/zap"
)

// WriteError reports that an audit record could not be written. Failing to
// write one record does not prevent later records from being appended.
type WriteError struct {
	Path    string
	Address types.Address
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot write audit record for %s to %q: %s", e.Address, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Summary counts the outcome of a run.
type Summary struct {
	Observed           int // distinct addresses observed.
	Flagged            int // observed addresses that are blacklisted.
	EnrichmentFailures int // flagged addresses that couldn't be enriched.
	WriteFailures      int // audit records that couldn't be written.
	Written            int // audit records successfully written.
}

// Logger appends audit records to an audit log file. Appends are serialized,
// so a Logger can be used from multiple goroutines.
type Logger struct {
	path    string
	log     *zap.SugaredLogger
	now     func() time.Time
	mu      sync.Mutex // serializes appends and protects the fields below.
	f       file
	size    int64 // offset after the last record written.
	torn    bool  // a partial record couldn't be removed.
	last    time.Time
	summary Summary
}

// file is what a Logger needs from an *os.File.
type file interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

// Option can be passed to Create.
type Option func(*Logger)

// WithLogger sets the logger to report write failures to.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Logger) {
		l.log = log
	}
}

// WithClock sets the clock for stamping audit records.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// Create the audit log file with the specified path, truncating any existing
// audit log file. Failing to create the file is reported as a
// [*types.ConfigurationError].
func Create(path string, options ...Option) (*Logger, error) {
	l := &Logger{
		path: path,
		log:  zap.NewNop().Sugar(),
		now:  time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &types.ConfigurationError{Resource: "audit log", Path: path, Err: err}
	}
	l.f = f
	l.log.Debugw("created audit log", "path", path)
	return l, nil
}

// Path returns the path of the audit log file.
func (l *Logger) Path() string { return l.path }

// Append the specified record as a single line to the audit log and flush it
// to stable storage. Unless the record already carries a timestamp, it gets
// stamped with the current time; timestamps never go backwards. A failed
// append is logged and reported as a [*WriteError].
func (l *Logger) Append(rec types.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Enrichment.Failure != nil || rec.Enrichment.Geo == nil {
		l.summary.EnrichmentFailures++
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if rec.Timestamp.Before(l.last) {
		rec.Timestamp = l.last
	}
	err := l.write(rec)
	if err != nil {
		l.summary.WriteFailures++
		werr := &WriteError{Path: l.path, Address: rec.Address(), Err: err}
		l.log.Errorw("cannot write audit record",
			"path", l.path, "address", rec.Address(), "error", err)
		return werr
	}
	l.last = rec.Timestamp
	l.summary.Written++
	return nil
}

func (l *Logger) write(rec types.AuditRecord) error {
	if l.f == nil {
		return os.ErrClosed
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if l.torn {
		line = append([]byte{'\n'}, line...)
	}
	n, err := l.f.Write(line)
	if err == nil {
		err = l.f.Sync()
	}
	if err != nil {
		l.rollback()
		return err
	}
	l.size += int64(n)
	l.torn = false
	return nil
}

// rollback removes what might have been written of a failed record. If that
// fails too, the next record gets started on a new line instead.
func (l *Logger) rollback() {
	if err := l.f.Truncate(l.size); err == nil {
		if _, err = l.f.Seek(l.size, io.SeekStart); err == nil {
			l.torn = false
			return
		}
	}
	l.torn = true
	if off, err := l.f.Seek(0, io.SeekCurrent); err == nil {
		l.size = off
	}
}

// SetCounts records the numbers of observed and flagged addresses for the
// summary.
func (l *Logger) SetCounts(observed, flagged int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.Observed = observed
	l.summary.Flagged = flagged
}

// Summary returns the summary of the run so far.
func (l *Logger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary
}

// Close the audit log file; Close can be called multiple times.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
