package cache

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/hunddb/hunddb-core/hdberr"
)

// diskTier is the spill-to-disk cache tier. Keys are hashed with
// xxhash (fast, non-adversarial hashing is appropriate here since
// cache keys are already content-addressed block/root ids, not
// attacker-controlled input) and XORed with a process salt.
//
// When deterministic hashing is enabled the salt is always zero, so a
// restarted process hashes the same key to the same file and recovers
// the entry. When disabled, a fresh random salt is drawn per process,
// so a restart deterministically misses every prior entry rather than
// risking a collision-driven wrong read (spec.md section 4.11,
// testable property 10).
type diskTier struct {
	dir  string
	salt uint64
}

func newDiskTier(dir string, deterministic bool) (*diskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "cache: creating disk tier directory", err)
	}
	var salt uint64
	if !deterministic {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, hdberr.Wrap(hdberr.Internal, "cache: seeding disk tier salt", err)
		}
		salt = binary.LittleEndian.Uint64(b[:])
	}
	return &diskTier{dir: dir, salt: salt}, nil
}

func (d *diskTier) hash(key string) uint64 {
	return xxhash.Sum64String(key) ^ d.salt
}

func (d *diskTier) path(key string) string {
	return filepath.Join(d.dir, fmt.Sprintf("%016x.blob", d.hash(key)))
}

func (d *diskTier) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (d *diskTier) Put(key string, value []byte) error {
	tmp := d.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path(key))
}

func (d *diskTier) Delete(key string) {
	_ = os.Remove(d.path(key))
}
