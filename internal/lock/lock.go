package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock serializes sync attempts for one target node; two bootstraps
// racing on the same node would fight over the slot and the dump artifact.
type FileLock struct {
	fl   *flock.Flock
	path string
}

// New returns the lock for a target node name.
func New(nodeName string) *FileLock {
	sum := sha256.Sum256([]byte(nodeName))
	name := filepath.Join(os.TempDir(), fmt.Sprintf("go_pq_replica_%s.lock", hex.EncodeToString(sum[:8])))
	return &FileLock{fl: flock.New(name), path: name}
}

// TryLock attempts a non-blocking lock.
func (l *FileLock) TryLock() (bool, error) {
	return l.fl.TryLock()
}

// Unlock releases and removes the lock file.
func (l *FileLock) Unlock() error {
	if err := l.fl.Unlock(); err != nil {
		return err
	}
	_ = os.Remove(l.path)
	return nil
}
