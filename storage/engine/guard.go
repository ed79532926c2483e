package engine

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// The PID file is an operator convenience next to the log; the flock on
// the log itself is the authoritative single-instance guard. Stale PID
// files (owner dead, or lock acquirable anyway) are overwritten at open
// and removed at clean close.

// LoadPid reads the owner PID recorded at path. It returns 0 when the
// file is absent or does not hold an ASCII decimal PID.
func LoadPid(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// SavePid records pid at path, replacing any stale content.
func SavePid(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0600)
}

// ClearPid removes the PID file. A missing file is not an error.
func ClearPid(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// processAlive probes pid with signal 0. EPERM still means the process
// exists, just owned by someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
