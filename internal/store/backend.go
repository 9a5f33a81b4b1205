package store

import (
	"context"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

// Precondition guards a write against writers in other processes. The zero
// value writes unconditionally. A failed precondition is reported as
// orders.ErrConflict.
type Precondition struct {
	// Absent requires that the reference is not stored in the target area.
	Absent bool
	// Version, when non-zero, must equal the stored record's Version.
	Version int64
}

// Holds reports whether cur, the stored record or nil, satisfies p.
func (p Precondition) Holds(cur *orders.Record) bool {
	if p.Absent && cur != nil {
		return false
	}
	if p.Version != 0 && (cur == nil || cur.Version != p.Version) {
		return false
	}
	return true
}

// Backend is the persistence medium: key-addressed documents in two areas.
// Get returns orders.ErrNotFound for a missing reference; Delete of a missing
// reference is not an error unless cond expects a version. Any other error
// is treated as a storage failure.
type Backend interface {
	Get(ctx context.Context, area orders.Area, ref string) (*orders.Record, error)
	Put(ctx context.Context, rec *orders.Record, cond Precondition) error
	List(ctx context.Context, area orders.Area) ([]*orders.Record, error)
	Delete(ctx context.Context, area orders.Area, ref string, cond Precondition) error
}

// Mover is implemented by backends that can relocate a record atomically.
// rec is the record as it must be stored in its new area, where the
// reference must be absent; cond applies to the copy in from.
type Mover interface {
	Move(ctx context.Context, rec *orders.Record, from orders.Area, cond Precondition) error
}

// SessionIndex is implemented by backends that can map a session to the
// reference of its finalized order without scanning the final area.
type SessionIndex interface {
	// SessionOrder returns the reference holding session, or orders.ErrNotFound.
	SessionOrder(ctx context.Context, session string) (string, error)
	// SwapSessionOrder sets the holder of session to ref when the current
	// holder is prev ("" for none), otherwise it fails with orders.ErrConflict.
	// An empty ref releases the session.
	SwapSessionOrder(ctx context.Context, session, prev, ref string) error
}

var (
	_ Mover        = (*MemoryBackend)(nil)
	_ SessionIndex = (*MemoryBackend)(nil)
	_ Mover        = (*DynamoBackend)(nil)
	_ SessionIndex = (*DynamoBackend)(nil)
	_ Mover        = (*RedisBackend)(nil)
	_ SessionIndex = (*RedisBackend)(nil)
	_ Backend      = (*FileBackend)(nil)
)
