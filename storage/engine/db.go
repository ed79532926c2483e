package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/andrewlidong/keystonelight/logger"
)

// DB is the storage engine: an append-only log of SET/DEL records plus an
// in-memory index rebuilt by replaying the log at open. One RWMutex guards
// the index and serializes every append and compaction; reads run
// concurrently under the read lock.
type DB struct {
	mutex   sync.RWMutex
	config  *Config
	log     *LogFile
	index   map[string][]byte
	pidPath string
	logger  *logger.Logger
	closed  bool
}

func Open(config *Config, options ...Option) (*DB, error) {
	if config == nil {
		config = DefaultConfig()
	}
	for _, option := range options {
		option(config)
	}
	logr := config.Logger
	if logr == nil {
		logr = logger.Default()
	}
	if err := os.MkdirAll(config.RootDirectory, 0700); err != nil {
		return nil, errors.Wrap(err, "open kv database")
	}
	logPath := filepath.Join(config.RootDirectory, logFileName)
	pidPath := filepath.Join(config.RootDirectory, pidFileName)

	// The flock decides ownership; the PID file only names the owner.
	ownerPid := LoadPid(pidPath)
	lf, err := OpenLogFile(logPath)
	if err != nil {
		if errors.Is(err, ErrLogLocked) {
			if processAlive(ownerPid) {
				return nil, &AlreadyRunning{PID: ownerPid}
			}
			return nil, &AlreadyRunning{}
		}
		return nil, errors.Wrap(err, "open kv database")
	}

	index := make(map[string][]byte)
	applied, err := lf.Replay(func(record Record) error {
		switch record.Op {
		case OpSet:
			index[record.Key] = record.Value
		case OpDel:
			delete(index, record.Key)
		}
		return nil
	})
	if err != nil {
		_ = lf.Close()
		return nil, err
	}
	if err := SavePid(pidPath, os.Getpid()); err != nil {
		_ = lf.Close()
		return nil, errors.Wrap(err, "write pid file")
	}
	logr.Info("Replay complete, found %d entries", applied)

	return &DB{
		config:  config,
		log:     lf,
		index:   index,
		pidPath: pidPath,
		logger:  logr,
	}, nil
}

// Get returns the value stored for key. The returned slice is the index's
// own copy and must not be modified by the caller.
func (db *DB) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	value, ok := db.index[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (db *DB) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	// the caller may reuse its buffer after we return
	stored := make([]byte, len(value))
	copy(stored, value)
	if err := db.appendLocked(NewSetRecord(key, stored)); err != nil {
		return err
	}
	db.index[key] = stored
	return db.maybeCompactLocked()
}

// Delete appends a tombstone whether or not key is present and reports
// whether it was. Deleting an absent key is legal and idempotent.
func (db *DB) Delete(key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.closed {
		return false, ErrDatabaseClosed
	}
	if err := db.appendLocked(NewDelRecord(key)); err != nil {
		return false, err
	}
	_, existed := db.index[key]
	delete(db.index, key)
	return existed, db.maybeCompactLocked()
}

// appendLocked writes and flushes one record. The index must only be
// touched after this returns nil: log first, then index, so a crash can
// never leave the in-memory view ahead of the disk.
func (db *DB) appendLocked(record Record) error {
	if err := db.log.Append(record); err != nil {
		return err
	}
	if db.config.SyncWrite {
		if err := db.log.Sync(); err != nil {
			return errors.Wrap(err, "flush log")
		}
	}
	return nil
}

func (db *DB) maybeCompactLocked() error {
	if db.config.CompactThreshold <= 0 || db.log.Size() <= db.config.CompactThreshold {
		return nil
	}
	if err := db.compactLocked(); err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}
		// the triggering write is already durable; try again next write
		db.logger.Error("automatic compaction failed: %v", err)
	}
	return nil
}

func (db *DB) Compact() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return db.compactLocked()
}

// compactLocked rewrites the log to one SET record per live key, sorted by
// key, then atomically swaps it in: write temp, fsync, rename over the
// live path, reopen and relock the new inode. Tombstones are absorbed by
// omission. On any failure before the rename the temp file is unlinked and
// the old log is untouched; a failure after the rename is fatal because
// the disk is correct but this process has no usable handle.
func (db *DB) compactLocked() error {
	started := time.Now()
	before := db.log.Size()

	keys := make([]string, 0, len(db.index))
	for key := range db.index {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tmpPath := fmt.Sprintf("%s.compact.%d.%d", db.log.Path(), os.Getpid(), started.UnixNano())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return errors.Wrap(err, "create compaction file")
	}
	writer := bufio.NewWriter(tmp)
	for _, key := range keys {
		if _, err := writer.Write(EncodeRecord(NewSetRecord(key, db.index[key]))); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return errors.Wrap(err, "write compaction file")
		}
	}
	if err := writer.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "write compaction file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "sync compaction file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "close compaction file")
	}
	if err := os.Rename(tmpPath, db.log.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "replace log with compaction file")
	}
	if err := db.log.Reopen(); err != nil {
		db.closed = true
		return &FatalError{Err: err}
	}
	db.logger.Info("compaction complete, %d keys, %d -> %d bytes in %s",
		len(keys), before, db.log.Size(), time.Since(started))
	return nil
}

// Walk calls f for every key under the read lock. f must not call back
// into the DB.
func (db *DB) Walk(f func(key string, value []byte) error) error {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	for key, value := range db.index {
		if err := f(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of live keys.
func (db *DB) Len() int {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return len(db.index)
}

// LogSize reports the valid length of the log file in bytes.
func (db *DB) LogSize() int64 {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	if db.closed {
		return 0
	}
	return db.log.Size()
}

func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true
	db.index = nil
	if err := db.log.Close(); err != nil {
		_ = ClearPid(db.pidPath)
		return err
	}
	return ClearPid(db.pidPath)
}
