package segbuf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Lzww0608/segid/errs"
)

const (
	defaultWatermark     = 0.5
	initialRetryBackoff  = 50 * time.Microsecond
	maxRetryBackoff      = 2 * time.Millisecond
)

// Reserver is the DRS operation the Buffer needs: reserve the next segment
// for tag, returning the half-open range [lo, hi). Satisfied by *drs.Client.
type Reserver interface {
	Reserve(ctx context.Context, tag string) (lo, hi int64, err error)
}

// Option configures a Buffer at construction time.
type Option func(*Buffer)

// WithWatermark sets the proactive-refill watermark: the fraction of a
// segment's span that must be consumed before a background refill of the
// standby slot is launched eagerly. Default 0.5.
func WithWatermark(w float64) Option {
	return func(b *Buffer) { b.watermark = w }
}

// WithLogger attaches a zap logger used for refill failures and swap
// diagnostics. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// Buffer is the per-tag double-buffered segment allocator (the Segment
// Buffer of the design). Two slots; at any instant one is active (serving
// IDs), the other is standby (empty, filling, or pre-filled). The hot path
// is wait-free except for the bounded-retry loop a caller enters while
// waiting on a cold or just-swapped slot to become ready.
type Buffer struct {
	tag       string
	client    Reserver
	watermark float64
	logger    *zap.Logger

	slots     [2]atomic.Pointer[Segment]
	active    int32 // atomic index into slots, 0 or 1
	refilling [2]int32 // atomic CAS guards, one per slot

	errMu   sync.Mutex
	lastErr error // most recent terminal refill failure, if any
}

// New constructs a Buffer for tag. Both slots start Empty; the first Take
// call schedules the initial refill and blocks until it completes.
func New(tag string, client Reserver, opts ...Option) *Buffer {
	b := &Buffer{
		tag:       tag,
		client:    client,
		watermark: defaultWatermark,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Take returns n strictly increasing IDs for this buffer's tag, n >= 1. IDs
// may span two segments when a request straddles a swap; the returned slice
// is still strictly increasing. Take fails when the DRS reports the tag
// exhausted or unknown, when a Transient refill failure was recorded while
// no segment was serving, or when ctx is cancelled while waiting on a
// refill; any IDs already claimed by this call before failure
// are discarded (a gap, per the service's gap-tolerant design).
func (b *Buffer) Take(ctx context.Context, n int) ([]int64, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: Take requires n >= 1, got %d", errs.ErrInternal, n)
	}

	out := make([]int64, 0, n)
	backoff := initialRetryBackoff

	for len(out) < n {
		i := atomic.LoadInt32(&b.active)
		seg := b.slots[i].Load()

		if seg != nil {
			first, got, ok := seg.claim(int64(n - len(out)))
			if ok && got > 0 {
				for id := first; id < first+got; id++ {
					out = append(out, id)
				}
				b.maybeProactiveRefill(ctx, seg, i)
				backoff = initialRetryBackoff
			}
			if len(out) == n {
				return out, nil
			}
		}

		// The active slot can't satisfy the remainder: either it was empty
		// or this claim just exhausted it. Try to swap to a ready standby.
		other := 1 - i
		standby := b.slots[other].Load()
		if standby != nil && !standby.exhausted() {
			if atomic.CompareAndSwapInt32(&b.active, i, other) {
				b.slots[i].Store(nil)
				b.logger.Debug("segbuf: swapped active slot",
					zap.String("tag", b.tag), zap.Int32("from", i), zap.Int32("to", other))
				b.scheduleRefill(ctx, i)
			}
			continue // winners and losers alike retry against the new active slot
		}

		// Standby isn't ready. If the active slot itself is empty (only
		// possible on a cold tag's very first Take), refill it directly;
		// otherwise it's the standby that needs filling before a swap can
		// happen. Either way, wait, unless the DRS has told us the tag is
		// terminally dead.
		if seg == nil {
			b.scheduleRefill(ctx, i)
		} else {
			b.scheduleRefill(ctx, other)
		}

		if err := b.terminalErr(); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}

	return out, nil
}

// maybeProactiveRefill launches a background refill of the standby slot
// once the active segment has crossed the configured watermark, so a swap
// at exhaustion finds the standby already populated.
func (b *Buffer) maybeProactiveRefill(ctx context.Context, seg *Segment, active int32) {
	standby := 1 - active
	if b.slots[standby].Load() != nil {
		return
	}
	threshold := int64(float64(seg.span()) * (1 - b.watermark))
	if seg.remaining() > threshold {
		return
	}
	b.scheduleRefill(ctx, standby)
}

// scheduleRefill launches an asynchronous refill of target unless one is
// already in flight for that slot (at-most-one-refill-per-slot invariant).
// The refill is handed a context detached from the caller's: a refill task
// in flight must never be cancelled by caller abandonment, since the whole
// point of the background refill is to outlive the request that triggered
// it and leave the slot Ready for whoever asks next.
func (b *Buffer) scheduleRefill(ctx context.Context, target int32) {
	if !atomic.CompareAndSwapInt32(&b.refilling[target], 0, 1) {
		return
	}
	// The caller's view of the slot may be stale: a refill that finished
	// between its read and the CAS above can already have filled it.
	if cur := b.slots[target].Load(); cur != nil && !cur.exhausted() {
		atomic.StoreInt32(&b.refilling[target], 0)
		return
	}
	go b.refill(context.WithoutCancel(ctx), target)
}

// refill performs the asynchronous DRS reservation and installs the result
// into slot target. Refill failures are never retried here — the natural
// demand loop in Take provides retry, which preserves backpressure and
// avoids a refill storm.
func (b *Buffer) refill(ctx context.Context, target int32) {
	defer atomic.StoreInt32(&b.refilling[target], 0)

	if cur := b.slots[target].Load(); cur != nil && !cur.exhausted() {
		// A refill must never replace a slot still serving IDs: swapping
		// into a non-empty slot is an Internal invariant violation, fatal.
		b.logger.Fatal("segbuf: invariant violated, refill target still live",
			zap.String("tag", b.tag), zap.Int32("slot", target))
		return
	}

	lo, hi, err := b.client.Reserve(ctx, b.tag)
	if err != nil {
		if isTerminal(err) || (errors.Is(err, errs.ErrTransient) && !b.hasLiveSegment()) {
			b.setTerminalErr(err)
		}
		b.logger.Warn("segbuf: refill failed",
			zap.String("tag", b.tag), zap.Int32("slot", target), zap.Error(err))
		return
	}

	b.setTerminalErr(nil)
	b.slots[target].Store(newSegment(lo, hi))
}

func isTerminal(err error) bool {
	return errors.Is(err, errs.ErrExhausted) || errors.Is(err, errs.ErrUnknownTag)
}

// hasLiveSegment reports whether the currently active slot holds a segment
// still able to serve ids. Transient refill failures are swallowed while a
// live segment is serving — the caller never notices — but propagate
// immediately once no segment is serving, per the Transient propagation
// policy.
func (b *Buffer) hasLiveSegment() bool {
	i := atomic.LoadInt32(&b.active)
	seg := b.slots[i].Load()
	return seg != nil && !seg.exhausted()
}

func (b *Buffer) setTerminalErr(err error) {
	b.errMu.Lock()
	b.lastErr = err
	b.errMu.Unlock()
}

func (b *Buffer) terminalErr() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lastErr
}
