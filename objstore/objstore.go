// Package objstore wraps github.com/thanos-io/objstore.Bucket with the
// conditional-write semantics named in spec.md section 6: PutOptions
// carries if_not_exists XOR if_match(ETag) plus a Priority; the two
// conditions are mutually exclusive and attempting both is a
// construction error. Object storage itself is an out-of-scope
// collaborator (spec.md section 1); this package is the seam through
// which BlockManager, RootManager, and the append-only log frame talk
// to it.
package objstore

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/thanos-io/objstore"
)

func newReader(data []byte) io.Reader { return bytes.NewReader(data) }

// Priority is the scheduling hint carried by Put/Get calls (spec.md
// section 6). Lower numbers are more urgent.
type Priority int

const (
	P0 Priority = iota // synchronous reads/writes on the hot path
	P1                 // background compaction traffic
	P2                 // prefetch / best-effort
)

// PutOptions models the conditional-write contract. IfNotExists and
// IfMatch are mutually exclusive.
type PutOptions struct {
	IfNotExists bool
	IfMatch     string // ETag; empty means "no condition"
	Priority    Priority
}

// Validate enforces the mutual-exclusion invariant.
func (o PutOptions) Validate() error {
	if o.IfNotExists && o.IfMatch != "" {
		return hdberr.New(hdberr.InvalidArgument, "objstore: if_not_exists and if_match are mutually exclusive")
	}
	return nil
}

// DeleteOptions mirrors the conditional contract for deletes.
type DeleteOptions struct {
	IfMatch string
}

// Store is the contract this module depends on; Bucket adapts a real
// objstore.Bucket (S3, GCS, Azure, filesystem, memory - whichever the
// deployment wires in) to it. Conditional semantics not natively
// supported by the underlying objstore.Bucket surface as
// hdberr.Unimplemented, per spec.md section 7.
type Store interface {
	Get(ctx context.Context, key string, prio Priority) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Delete(ctx context.Context, key string, opts DeleteOptions) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Bucket adapts an objstore.Bucket. Put retries every failed upload on
// an exponential-backoff schedule (spec.md section 5: "object-store
// puts are rate-limited by an exponential-backoff schedule") and
// reports a put that still fails as ResourceExhausted; retries are
// safe because puts are content-addressed (idempotent). Get, Delete
// and Exists are not retried.
type Bucket struct {
	bucket  objstore.Bucket
	backoff func() backoff.BackOff
}

// NewBucket wraps b with the default retry schedule.
func NewBucket(b objstore.Bucket) *Bucket {
	return &Bucket{
		bucket: b,
		backoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 50 * time.Millisecond
			bo.MaxInterval = 2 * time.Second
			bo.MaxElapsedTime = 10 * time.Second
			return bo
		},
	}
}

func (b *Bucket) Get(ctx context.Context, key string, _ Priority) ([]byte, error) {
	rc, err := b.bucket.Get(ctx, key)
	if err != nil {
		if b.bucket.IsObjNotFoundErr(err) {
			return nil, hdberr.Newf(hdberr.NotFound, "objstore: %s not found", key)
		}
		return nil, hdberr.Wrap(hdberr.Internal, "objstore: get "+key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, hdberr.Wrap(hdberr.Internal, "objstore: read "+key, err)
	}
	return data, nil
}

func (b *Bucket) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.IfNotExists || opts.IfMatch != "" {
		// The generic thanos objstore.Bucket interface has no portable
		// conditional-put primitive across all backends.
		return hdberr.New(hdberr.Unimplemented, "objstore: conditional put not supported by the underlying bucket")
	}

	op := func() error {
		return b.bucket.Upload(ctx, key, newReader(data))
	}
	if err := backoff.Retry(op, backoff.WithContext(b.backoff(), ctx)); err != nil {
		return hdberr.Wrap(hdberr.ResourceExhausted, "objstore: put "+key, err)
	}
	return nil
}

func (b *Bucket) Delete(ctx context.Context, key string, opts DeleteOptions) error {
	if opts.IfMatch != "" {
		return hdberr.New(hdberr.Unimplemented, "objstore: conditional delete not supported by the underlying bucket")
	}
	if err := b.bucket.Delete(ctx, key); err != nil {
		return hdberr.Wrap(hdberr.Internal, "objstore: delete "+key, err)
	}
	return nil
}

func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := b.bucket.Exists(ctx, key)
	if err != nil {
		return false, hdberr.Wrap(hdberr.Internal, "objstore: exists "+key, err)
	}
	return ok, nil
}
