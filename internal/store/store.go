package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

const (
	defaultTimeout         = 5 * time.Second
	defaultReadRetries     = 3
	defaultRetryDelay      = 50 * time.Millisecond
	defaultConflictRetries = 5
)

var errMoveInvariant = errors.New("move left the reference in zero or two areas")

// Store is the record store. Mutations of one reference are serialised in
// process through a keyed lock, and every write carries a version
// precondition so writers in other processes cannot overwrite each other.
// Reads run concurrently with writes. Every backend call runs detached from
// the caller's cancellation and bounded by a timeout.
type Store struct {
	backend         Backend
	locks           *KeyedMutex
	timeout         time.Duration
	readRetries     int
	retryDelay      time.Duration
	conflictRetries int
	log             *zap.Logger
	nowFunc         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds lock waits and each backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithReadRetries sets how many times a failed read is retried.
func WithReadRetries(n int, delay time.Duration) Option {
	return func(s *Store) {
		if n >= 0 {
			s.readRetries = n
		}
		s.retryDelay = delay
	}
}

// WithConflictRetries sets how many times a read-modify-write is rerun after
// losing a race with another writer.
func WithConflictRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.conflictRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// New returns a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:         backend,
		locks:           NewKeyedMutex(),
		timeout:         defaultTimeout,
		readRetries:     defaultReadRetries,
		retryDelay:      defaultRetryDelay,
		conflictRetries: defaultConflictRetries,
		log:             zap.NewNop(),
		nowFunc:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.nowFunc() }

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// LockKey serialises callers on an arbitrary key (e.g. a session id). It
// shares the lock map with per-reference locks, so keys need a prefix.
func (s *Store) LockKey(ctx context.Context, key string) (func(), error) {
	lctx, cancel := s.opContext(ctx)
	defer cancel()
	unlock, err := s.locks.Lock(lctx, key)
	if err != nil {
		return nil, orders.NewStorageError("lock", key, err)
	}
	return unlock, nil
}

func (s *Store) lockRef(ctx context.Context, ref string) (func(), error) {
	return s.LockKey(ctx, "ref:"+ref)
}

// retryRead runs an idempotent read, retrying storage failures.
func (s *Store) retryRead(ctx context.Context, op, ref string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.readRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying read", zap.String("op", op), zap.String("reference", ref),
				zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(s.retryDelay * time.Duration(attempt))
		}
		octx, cancel := s.opContext(ctx)
		err = fn(octx)
		cancel()
		if err == nil || errors.Is(err, orders.ErrNotFound) {
			return err
		}
	}
	s.log.Error("read failed", zap.String("op", op), zap.String("reference", ref), zap.Error(err))
	return orders.NewStorageError(op, ref, err)
}

func (s *Store) get(ctx context.Context, area orders.Area, ref string) (*orders.Record, error) {
	var rec *orders.Record
	err := s.retryRead(ctx, "get", ref, func(octx context.Context) error {
		var err error
		rec, err = s.backend.Get(octx, area, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) exists(ctx context.Context, area orders.Area, ref string) (bool, error) {
	_, err := s.get(ctx, area, ref)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, orders.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// load checks final then temp.
func (s *Store) load(ctx context.Context, ref string) (*orders.Record, error) {
	rec, err := s.get(ctx, orders.AreaFinal, ref)
	if err == nil || !errors.Is(err, orders.ErrNotFound) {
		return rec, err
	}
	rec, err = s.get(ctx, orders.AreaTemp, ref)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Load returns the record for ref, looking in final then temp.
func (s *Store) Load(ctx context.Context, ref string) (*orders.Record, error) {
	return s.load(ctx, ref)
}

// LoadFrom returns the record for ref from a single area.
func (s *Store) LoadFrom(ctx context.Context, area orders.Area, ref string) (*orders.Record, error) {
	return s.get(ctx, area, ref)
}

// List returns every record in area, in no particular order.
func (s *Store) List(ctx context.Context, area orders.Area) ([]*orders.Record, error) {
	var recs []*orders.Record
	err := s.retryRead(ctx, "list", string(area), func(octx context.Context) error {
		var err error
		recs, err = s.backend.List(octx, area)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) stamp(rec *orders.Record) {
	now := s.nowFunc()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version++
}

// put writes rec when cond holds. Conflicts are returned bare so callers can
// retry them; anything else is a storage failure.
func (s *Store) put(ctx context.Context, rec *orders.Record, cond Precondition) error {
	octx, cancel := s.opContext(ctx)
	defer cancel()
	err := s.backend.Put(octx, rec, cond)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orders.ErrConflict):
		return err
	}
	s.log.Error("write failed", zap.String("reference", rec.Reference), zap.Error(err))
	return orders.NewStorageError("put", rec.Reference, err)
}

func (s *Store) delete(ctx context.Context, area orders.Area, ref string, cond Precondition) error {
	octx, cancel := s.opContext(ctx)
	defer cancel()
	err := s.backend.Delete(octx, area, ref, cond)
	switch {
	case err == nil, errors.Is(err, orders.ErrNotFound):
		return nil
	case errors.Is(err, orders.ErrConflict):
		return err
	}
	return orders.NewStorageError("delete", ref, err)
}

// retryConflicts reruns attempt while it loses races against other writers.
// A conflict that outlasts the retries becomes a storage error, which
// callers already treat as transient.
func (s *Store) retryConflicts(op, ref string, attempt func() error) error {
	var err error
	for i := 0; i <= s.conflictRetries; i++ {
		if i > 0 {
			s.log.Debug("write conflict, retrying", zap.String("op", op), zap.String("reference", ref),
				zap.Int("attempt", i))
			time.Sleep(s.retryDelay * time.Duration(i))
		}
		err = attempt()
		if !errors.Is(err, orders.ErrConflict) {
			return err
		}
	}
	s.log.Warn("write conflict persisted", zap.String("op", op), zap.String("reference", ref), zap.Error(err))
	return orders.NewStorageError(op, ref, err)
}

func otherArea(a orders.Area) orders.Area {
	if a == orders.AreaTemp {
		return orders.AreaFinal
	}
	return orders.AreaTemp
}

// Save writes rec to its area, overwriting any record with the same
// reference there. It stamps rec.UpdatedAt (and CreatedAt when unset).
// A reference already living in the other area must be relocated with
// Move instead.
func (s *Store) Save(ctx context.Context, rec *orders.Record) error {
	if err := rec.CheckArea(); err != nil {
		return err
	}
	unlock, err := s.lockRef(ctx, rec.Reference)
	if err != nil {
		return err
	}
	defer unlock()

	return s.retryConflicts("save", rec.Reference, func() error {
		clash, err := s.exists(ctx, otherArea(rec.Area), rec.Reference)
		if err != nil {
			return err
		}
		if clash {
			return fmt.Errorf("save %s into %s: %w", rec.Reference, rec.Area, orders.ErrDuplicateReference)
		}
		cond := Precondition{Absent: true}
		rec.Version = 0
		cur, err := s.get(ctx, rec.Area, rec.Reference)
		switch {
		case err == nil:
			cond = Precondition{Version: cur.Version}
			rec.Version = cur.Version
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}
		s.stamp(rec)
		return s.put(ctx, rec, cond)
	})
}

// Insert saves a new record, failing with orders.ErrDuplicateReference when
// the reference exists in either area.
func (s *Store) Insert(ctx context.Context, rec *orders.Record) error {
	if err := rec.CheckArea(); err != nil {
		return err
	}
	unlock, err := s.lockRef(ctx, rec.Reference)
	if err != nil {
		return err
	}
	defer unlock()

	for _, area := range []orders.Area{orders.AreaTemp, orders.AreaFinal} {
		taken, err := s.exists(ctx, area, rec.Reference)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("insert %s: %w", rec.Reference, orders.ErrDuplicateReference)
		}
	}
	rec.Version = 0
	s.stamp(rec)
	err = s.put(ctx, rec, Precondition{Absent: true})
	if errors.Is(err, orders.ErrConflict) {
		return fmt.Errorf("insert %s: %w", rec.Reference, orders.ErrDuplicateReference)
	}
	return err
}

// Update is the single-writer mutation path: it loads ref under its lock,
// hands a copy to fn and persists the result, relocating the record when fn
// changed its area. The write only lands if the stored version is still the
// one fn saw; otherwise the record is reloaded and fn runs again, so fn must
// not have side effects outside the record. fn returning orders.ErrNoChange
// makes Update a no-op that returns the stored record.
func (s *Store) Update(ctx context.Context, ref string, fn func(*orders.Record) error) (*orders.Record, error) {
	unlock, err := s.lockRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *orders.Record
	err = s.retryConflicts("update", ref, func() error {
		cur, err := s.load(ctx, ref)
		if err != nil {
			return err
		}
		if err := s.dropLeftover(ctx, cur); err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, orders.ErrNoChange) {
				out = cur
				return nil
			}
			return err
		}
		if next.Reference != cur.Reference {
			return fmt.Errorf("update %s: reference is immutable", ref)
		}
		if err := next.CheckArea(); err != nil {
			return err
		}
		next.Version = cur.Version
		s.stamp(next)

		if next.Area == cur.Area {
			err = s.put(ctx, next, Precondition{Version: cur.Version})
		} else {
			err = s.move(ctx, next, cur.Area, cur.Version)
		}
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// dropLeftover removes the temp copy an interrupted finalisation may have
// left behind. Only records still carrying an undelivered event can have one.
func (s *Store) dropLeftover(ctx context.Context, cur *orders.Record) error {
	if cur.Area != orders.AreaFinal || cur.PendingEvent == "" {
		return nil
	}
	if err := s.delete(ctx, orders.AreaTemp, cur.Reference, Precondition{}); err != nil {
		return err
	}
	return nil
}

// Move relocates ref from one area to another. The stored record must be
// allowed to live in the target area. A move that was interrupted after the
// target copy landed is completed by removing the source copy.
func (s *Store) Move(ctx context.Context, ref string, from, to orders.Area) error {
	if from == to {
		return nil
	}
	unlock, err := s.lockRef(ctx, ref)
	if err != nil {
		return err
	}
	defer unlock()

	return s.retryConflicts("move", ref, func() error {
		rec, err := s.get(ctx, from, ref)
		if err != nil {
			return err
		}
		landed, err := s.exists(ctx, to, ref)
		if err != nil {
			return err
		}
		if landed {
			if err := s.delete(ctx, from, ref, Precondition{Version: rec.Version}); err != nil {
				return err
			}
			return s.verifyMove(ctx, ref, to, from)
		}
		version := rec.Version
		rec.Area = to
		if err := rec.CheckArea(); err != nil {
			return err
		}
		s.stamp(rec)
		return s.move(ctx, rec, from, version)
	})
}

// move writes rec to its new area before removing the copy at version from
// the old one, then checks that exactly one live copy remains.
func (s *Store) move(ctx context.Context, rec *orders.Record, from orders.Area, version int64) error {
	cond := Precondition{Version: version}
	if m, ok := s.backend.(Mover); ok {
		octx, cancel := s.opContext(ctx)
		err := m.Move(octx, rec, from, cond)
		cancel()
		if errors.Is(err, orders.ErrConflict) {
			return err
		}
		if err != nil {
			return orders.NewStorageError("move", rec.Reference, err)
		}
	} else {
		if err := s.put(ctx, rec, Precondition{Absent: true}); err != nil {
			return err
		}
		if err := s.delete(ctx, from, rec.Reference, cond); err != nil {
			if errors.Is(err, orders.ErrConflict) {
				// another writer changed the source; withdraw our copy and retry
				if undo := s.delete(ctx, rec.Area, rec.Reference, Precondition{Version: rec.Version}); undo != nil {
					s.log.Error("move rollback failed", zap.String("reference", rec.Reference), zap.Error(undo))
				}
			}
			return err
		}
	}
	return s.verifyMove(ctx, rec.Reference, rec.Area, from)
}

func (s *Store) verifyMove(ctx context.Context, ref string, to, from orders.Area) error {
	inTarget, err := s.exists(ctx, to, ref)
	if err != nil {
		return err
	}
	inSource, err := s.exists(ctx, from, ref)
	if err != nil {
		return err
	}
	if !inTarget || inSource {
		s.log.Error("move invariant violated", zap.String("reference", ref),
			zap.Bool("in_target", inTarget), zap.Bool("in_source", inSource))
		return orders.NewStorageError("move", ref, errMoveInvariant)
	}
	s.log.Debug("record moved", zap.String("reference", ref),
		zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// Delete removes ref from area unconditionally. Deleting a missing record is
// not an error.
func (s *Store) Delete(ctx context.Context, area orders.Area, ref string) error {
	unlock, err := s.lockRef(ctx, ref)
	if err != nil {
		return err
	}
	defer unlock()
	return s.delete(ctx, area, ref, Precondition{})
}

// DeleteIf re-reads ref under its lock and deletes it only when pred holds
// for the current version. A write that lands between the read and the
// delete makes it re-read and ask pred again. It reports whether a record
// was deleted.
func (s *Store) DeleteIf(ctx context.Context, area orders.Area, ref string, pred func(*orders.Record) bool) (bool, error) {
	unlock, err := s.lockRef(ctx, ref)
	if err != nil {
		return false, err
	}
	defer unlock()

	var deleted bool
	err = s.retryConflicts("delete", ref, func() error {
		deleted = false
		rec, err := s.get(ctx, area, ref)
		if errors.Is(err, orders.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !pred(rec) {
			return nil
		}
		if err := s.delete(ctx, area, ref, Precondition{Version: rec.Version}); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// DeleteAny removes ref from whichever area holds it and returns the removed
// record. Removing a finalized order frees its session.
func (s *Store) DeleteAny(ctx context.Context, ref string) (*orders.Record, error) {
	unlock, err := s.lockRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var removed *orders.Record
	err = s.retryConflicts("delete", ref, func() error {
		rec, err := s.load(ctx, ref)
		if err != nil {
			return err
		}
		if err := s.delete(ctx, rec.Area, ref, Precondition{Version: rec.Version}); err != nil {
			return err
		}
		removed = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	if removed.Area == orders.AreaFinal && removed.SessionID != "" {
		if err := s.ReleaseSession(ctx, removed.SessionID, ref); err != nil {
			s.log.Warn("session release failed", zap.String("session_id", removed.SessionID),
				zap.String("reference", ref), zap.Error(err))
		}
	}
	return removed, nil
}
