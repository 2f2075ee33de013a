// Package errs defines the sentinel error taxonomy shared by the drs,
// segbuf and registry packages.
package errs

import "errors"

var (
	// ErrUnknownTag indicates the DRS has no row for the requested biz tag.
	ErrUnknownTag = errors.New("segid: unknown biz tag")

	// ErrAlreadyExists indicates a tag creation collided with an existing row.
	ErrAlreadyExists = errors.New("segid: biz tag already exists")

	// ErrTransient indicates a DRS round-trip failed (network, deadlock,
	// timeout). Callers may retry; no range was claimed.
	ErrTransient = errors.New("segid: transient durable store failure")

	// ErrExhausted indicates max_id would overflow on the next reservation.
	// The tag is dead: no further IDs can be issued for it.
	ErrExhausted = errors.New("segid: biz tag exhausted (max_id overflow)")

	// ErrInternal indicates a violated invariant, e.g. a refill attempting
	// to replace a slot that still holds a non-exhausted segment. Callers
	// should treat this as fatal.
	ErrInternal = errors.New("segid: internal invariant violated")
)
