package engine

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// LogFile is the append-only record log. An exclusive advisory lock on the
// log path is held for the LogFile's lifetime; it is the authoritative
// single-instance guard.
//
// end tracks the offset just past the last complete line. Appends go
// through WriteAt(end), so bytes of a torn tail left by a crash are
// overwritten by the next write instead of corrupting it.
type LogFile struct {
	path string
	file *os.File
	lock *flock.Flock
	end  int64
}

// OpenLogFile opens (creating if needed) and locks the log at path.
// It returns ErrLogLocked when another process holds the lock; callers
// translate that into AlreadyRunning with whatever PID they know.
func OpenLogFile(path string) (*LogFile, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "lock log file")
	}
	if !ok {
		return nil, ErrLogLocked
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "open log file")
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "stat log file")
	}
	return &LogFile{
		path: path,
		file: file,
		lock: lock,
		end:  stat.Size(),
	}, nil
}

var ErrLogLocked = errors.New("log file is locked")

func (lf *LogFile) Path() string {
	return lf.path
}

// Size is the valid length of the log: bytes up to and including the last
// complete line.
func (lf *LogFile) Size() int64 {
	return lf.end
}

// Replay scans the log from offset 0 and feeds each record to apply. It
// returns the number of records applied. A final line without a newline is
// a torn tail from a crash: it is skipped and end is pulled back to the
// last complete line, so the next Append overwrites it. An unparseable
// complete line aborts with Corrupt.
func (lf *LogFile) Replay(apply func(Record) error) (int, error) {
	if _, err := lf.file.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "seek log start")
	}
	reader := bufio.NewReader(lf.file)
	applied := 0
	lineNo := 0
	var offset int64
	for {
		text, err := reader.ReadString('\n')
		if err == io.EOF {
			// no trailing newline: ignore the torn tail
			lf.end = offset
			return applied, nil
		}
		if err != nil {
			return applied, errors.Wrap(err, "read log")
		}
		lineNo++
		record, derr := DecodeRecord(strings.TrimSuffix(text, "\n"))
		if derr != nil {
			return applied, &Corrupt{Line: lineNo, Reason: derr.Error()}
		}
		if aerr := apply(record); aerr != nil {
			return applied, aerr
		}
		offset += int64(len(text))
		applied++
	}
}

// Append writes the canonical encoding of record at the valid end of the
// log and advances it. The write is not flushed; callers decide when to
// Sync.
func (lf *LogFile) Append(record Record) error {
	line := EncodeRecord(record)
	n, err := lf.file.WriteAt(line, lf.end)
	if err != nil {
		return errors.Wrap(err, "append log record")
	}
	lf.end += int64(n)
	return nil
}

func (lf *LogFile) Sync() error {
	return lf.file.Sync()
}

// Reopen swaps the LogFile over to the inode currently at path. It is
// called after compaction renamed a fresh log into place: the new inode
// must be locked and opened before the handles on the old one are
// released.
func (lf *LogFile) Reopen() error {
	lock := flock.New(lf.path)
	ok, err := lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "relock log file")
	}
	if !ok {
		return ErrLogLocked
	}
	file, err := os.OpenFile(lf.path, os.O_RDWR, 0600)
	if err != nil {
		_ = lock.Unlock()
		return errors.Wrap(err, "reopen log file")
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		_ = lock.Unlock()
		return errors.Wrap(err, "stat reopened log file")
	}
	_ = lf.file.Close()
	_ = lf.lock.Unlock()
	lf.file = file
	lf.lock = lock
	lf.end = stat.Size()
	return nil
}

// Close releases the lock and the file handle. The log is synced first so
// a clean close never loses acknowledged writes.
func (lf *LogFile) Close() error {
	if err := lf.file.Sync(); err != nil {
		_ = lf.file.Close()
		_ = lf.lock.Unlock()
		return errors.Wrap(err, "sync log file")
	}
	if err := lf.file.Close(); err != nil {
		_ = lf.lock.Unlock()
		return errors.Wrap(err, "close log file")
	}
	return lf.lock.Unlock()
}
