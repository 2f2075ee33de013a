// Package registry implements the Allocator Registry: the process-wide
// mapping from business tag to its Segment Buffer. It lazily materializes a
// new Buffer on first use of an unknown tag, serializing concurrent first
// uses of the same tag into a single construction while never blocking
// lookups of tags that already exist.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Lzww0608/segid/errs"
	"github.com/Lzww0608/segid/segbuf"
)

// tagValidator confirms a DRS row exists for tag before the registry
// materializes a Buffer for it. Expressed as a bare function rather than an
// interface binding to *drs.Client so this package doesn't need to import
// drs at all — callers pass a small closure over drs.Client.Get that drops
// the returned row.
type tagValidator func(ctx context.Context, tag string) error

// BufferFactory constructs the Buffer installed for a newly validated tag.
// Separated from Registry's own fields so tests can inject a fake Reserver
// without touching the real drs package.
type BufferFactory func(tag string) *segbuf.Buffer

// Registry maps business tags to their Segment Buffer. Reads are
// lock-free-ish (sync.Map); creation of a new tag's Buffer is serialized
// per-tag via singleflight so concurrent first uses of the same unknown tag
// collapse into one validation + one construction, while different tags
// proceed independently.
type Registry struct {
	validate tagValidator
	newBuf   BufferFactory
	logger   *zap.Logger

	buffers sync.Map // string -> *segbuf.Buffer
	group   singleflight.Group
}

// New constructs a Registry. validate is called once per unknown tag to
// confirm a DRS row exists before a Buffer is built for it; newBuf
// constructs the Buffer itself (normally segbuf.New bound to a real
// drs.Client).
func New(validate func(ctx context.Context, tag string) error, newBuf BufferFactory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{validate: validate, newBuf: newBuf, logger: logger}
}

// GetOrCreate returns the Buffer for tag, constructing one if this is the
// first use of the tag in this process. Concurrent first uses of the same
// tag yield exactly one Buffer instance; lookups of an already-known tag
// never block on the singleflight group.
func (r *Registry) GetOrCreate(ctx context.Context, tag string) (*segbuf.Buffer, error) {
	if v, ok := r.buffers.Load(tag); ok {
		return v.(*segbuf.Buffer), nil
	}

	v, err, _ := r.group.Do(tag, func() (interface{}, error) {
		// Double-check: another goroutine may have won the race and
		// published a Buffer while we were waiting to enter the group.
		if v, ok := r.buffers.Load(tag); ok {
			return v, nil
		}

		if err := r.validate(ctx, tag); err != nil {
			if errors.Is(err, errs.ErrUnknownTag) {
				return nil, errs.ErrUnknownTag
			}
			return nil, fmt.Errorf("registry: validating tag %q: %w", tag, err)
		}

		buf := r.newBuf(tag)
		r.buffers.Store(tag, buf)
		r.logger.Info("registry: materialized segment buffer", zap.String("tag", tag))
		return buf, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*segbuf.Buffer), nil
}
