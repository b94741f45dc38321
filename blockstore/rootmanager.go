package blockstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hunddb/hunddb-core/block"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/objstore"
	"github.com/hunddb/hunddb-core/sparseindex"
)

// formatRootKey matches spec.md section 6's root key layout.
func formatRootKey(prefixPath string, id uuid.UUID) string {
	if prefixPath == "" {
		return "root/" + id.String()
	}
	return prefixPath + "/root/" + id.String()
}

// Root is the (sparse index, key kind, max block size) tuple persisted
// as a self-contained root, per spec.md section 4.5.
type Root struct {
	Index        *sparseindex.SparseIndex
	KeyKind      compositekey.KeyKind
	MaxBlockSize uint64
}

// encodeRoot frames keyKind and maxBlockSize ahead of the index's own
// Arrow-IPC bytes, the way the teacher's wal frames a fixed header
// ahead of a variable-length payload (lsm/wal).
func encodeRoot(r *Root, rootID uuid.UUID) ([]byte, error) {
	idxBlock, err := r.Index.ToBlock(uuid.New(), r.KeyKind)
	if err != nil {
		return nil, err
	}
	idxBytes, err := idxBlock.ToBytes()
	if err != nil {
		return nil, err
	}

	kk := []byte(keyKindTag(r.KeyKind))
	var buf bytes.Buffer
	var hdr [2 + 8]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(kk)))
	binary.BigEndian.PutUint64(hdr[2:10], r.MaxBlockSize)
	buf.Write(hdr[:])
	buf.Write(kk)
	buf.Write(idxBytes)
	return buf.Bytes(), nil
}

func decodeRoot(data []byte, rootID uuid.UUID) (*Root, error) {
	if len(data) < 10 {
		return nil, hdberr.New(hdberr.Internal, "blockstore: root payload truncated")
	}
	kkLen := binary.BigEndian.Uint16(data[0:2])
	maxBlockSize := binary.BigEndian.Uint64(data[2:10])
	rest := data[10:]
	if len(rest) < int(kkLen) {
		return nil, hdberr.New(hdberr.Internal, "blockstore: root payload truncated key-kind tag")
	}
	kk := keyKindFromTag(string(rest[:kkLen]))
	idxBytes := rest[kkLen:]

	idxBlock, err := block.FromBytes(idxBytes, uuid.New(), false)
	if err != nil {
		return nil, err
	}
	idx, err := sparseindex.FromBlock(idxBlock, rootID)
	if err != nil {
		return nil, err
	}
	return &Root{Index: idx, KeyKind: kk, MaxBlockSize: maxBlockSize}, nil
}

func keyKindTag(k compositekey.KeyKind) string {
	switch k {
	case compositekey.KindString:
		return "string"
	case compositekey.KindFloat32:
		return "f32"
	case compositekey.KindBool:
		return "bool"
	case compositekey.KindUint32:
		return "u32"
	default:
		return "string"
	}
}

func keyKindFromTag(s string) compositekey.KeyKind {
	switch s {
	case "f32":
		return compositekey.KindFloat32
	case "bool":
		return compositekey.KindBool
	case "u32":
		return compositekey.KindUint32
	default:
		return compositekey.KindString
	}
}

// RootManager is C5: persistence, forking, and prefetch bookkeeping for
// roots.
type RootManager struct {
	store objstore.Store

	mu              sync.Mutex
	prefetchedRoots map[uuid.UUID]time.Time
	prefetchTTL     time.Duration
}

// NewRootManager builds a RootManager over store with the default
// 8-hour prefetch TTL named in spec.md section 4.5.
func NewRootManager(store objstore.Store) *RootManager {
	return &RootManager{
		store:           store,
		prefetchedRoots: make(map[uuid.UUID]time.Time),
		prefetchTTL:     8 * time.Hour,
	}
}

// Get loads the root at id, if present.
func (m *RootManager) Get(ctx context.Context, id uuid.UUID, prefixPath string) (*Root, bool, error) {
	data, err := m.store.Get(ctx, formatRootKey(prefixPath, id), objstore.P0)
	if err != nil {
		if hdberr.CodeOf(err) == hdberr.NotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	root, err := decodeRoot(data, id)
	if err != nil {
		return nil, false, err
	}
	return root, true, nil
}

// Fork loads src and returns a new Root with a value-cloned SparseIndex
// under newID, so siblings never share mutable forward/reverse state
// (spec.md section 5).
func (m *RootManager) Fork(ctx context.Context, src uuid.UUID, newID uuid.UUID, prefixPath string) (*Root, error) {
	root, ok, err := m.Get(ctx, src, prefixPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, hdberr.Newf(hdberr.NotFound, "blockstore: root %s not found", src)
	}
	return &Root{
		Index:        root.Index.Fork(newID),
		KeyKind:      root.KeyKind,
		MaxBlockSize: root.MaxBlockSize,
	}, nil
}

// Flush persists root at id.
func (m *RootManager) Flush(ctx context.Context, id uuid.UUID, prefixPath string, root *Root) error {
	data, err := encodeRoot(root, id)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, formatRootKey(prefixPath, id), data, objstore.PutOptions{Priority: objstore.P0})
}

// MarkPrefetched records that id was just prefetched, for
// ShouldPrefetch's TTL bookkeeping.
func (m *RootManager) MarkPrefetched(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefetchedRoots[id] = time.Now()
}

// ShouldPrefetch reports whether id has not been prefetched within the
// last 8 hours (spec.md section 4.5).
func (m *RootManager) ShouldPrefetch(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.prefetchedRoots[id]
	if !ok {
		return true
	}
	return time.Since(last) > m.prefetchTTL
}
