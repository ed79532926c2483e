package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrInvalidKey     = errors.New("invalid key")
	ErrDatabaseClosed = errors.New("database is closed")
)

// AlreadyRunning reports that another live process holds the log lock.
// PID is 0 when the owner could not be identified from the PID file.
type AlreadyRunning struct {
	PID int
}

func (e *AlreadyRunning) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("Server already running with PID %d", e.PID)
	}
	return "Server already running"
}

// Corrupt reports an unparseable log line found during replay. Line is
// 1-based. Opening fails; the log needs operator attention.
type Corrupt struct {
	Line   int
	Reason string
}

func (e *Corrupt) Error() string {
	return fmt.Sprintf("corrupt log record at line %d: %s", e.Line, e.Reason)
}

// FatalError marks an engine that can no longer serve: the compacted log
// was renamed into place but could not be reopened. Callers should shut
// the process down.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
