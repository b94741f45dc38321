package objstore

import (
	"context"
	"sync"

	"github.com/hunddb/hunddb-core/hdberr"
)

// Memory is an in-process Store used by tests in place of a real
// bucket, supporting the conditional-write contract precisely (unlike
// Bucket, which must degrade to Unimplemented against a generic
// objstore.Bucket).
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	etags   map[string]int // monotonically incrementing per key
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), etags: make(map[string]int)}
}

func etagOf(n int) string { return "v" + itoa(n) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (m *Memory) Get(_ context.Context, key string, _ Priority) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, hdberr.Newf(hdberr.NotFound, "objstore/memory: %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.objects[key]
	if opts.IfNotExists && exists {
		return hdberr.Newf(hdberr.FailedPrecondition, "objstore/memory: %s already exists", key)
	}
	if opts.IfMatch != "" {
		cur := etagOf(m.etags[key])
		if !exists || cur != opts.IfMatch {
			return hdberr.Newf(hdberr.FailedPrecondition, "objstore/memory: etag mismatch for %s", key)
		}
	}
	m.objects[key] = append([]byte(nil), data...)
	m.etags[key]++
	return nil
}

func (m *Memory) Delete(_ context.Context, key string, opts DeleteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.IfMatch != "" {
		cur := etagOf(m.etags[key])
		if cur != opts.IfMatch {
			return hdberr.Newf(hdberr.FailedPrecondition, "objstore/memory: etag mismatch for %s", key)
		}
	}
	delete(m.objects, key)
	delete(m.etags, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// ETag returns the current ETag witness for key, for tests exercising
// conditional writes.
func (m *Memory) ETag(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.etags[key]
	if !ok {
		return "", false
	}
	return etagOf(n), true
}
