// Package sweeper removes abandoned drafts from the temp area.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/store"
)

// DefaultMinInterval throttles opportunistic sweeps.
const DefaultMinInterval = 10 * time.Minute

// Sweeper deletes drafts that have not been touched within the retention
// window. It is safe to run alongside session resumption: every deletion
// re-reads the draft under its reference lock first.
type Sweeper struct {
	store       *store.Store
	retention   time.Duration
	minInterval time.Duration
	log         *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	lastRun time.Time
}

// New returns a Sweeper. Zero durations fall back to a 24h retention and
// DefaultMinInterval.
func New(st *store.Store, retention, minInterval time.Duration, log *zap.Logger) *Sweeper {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: st, retention: retention, minInterval: minInterval, log: log}
}

// Retention is the configured retention window.
func (s *Sweeper) Retention() time.Duration { return s.retention }

// Sweep removes every draft in temp whose UpdatedAt is older than
// now-retention, plus leftover temp copies of references that already live
// in final. A non-positive retention means the configured one. It returns
// how many records were removed. Failures on single records do not stop
// the sweep; they are joined into the returned error.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = s.retention
	}
	drafts, err := s.store.List(ctx, orders.AreaTemp)
	if err != nil {
		return 0, err
	}
	cutoff := s.store.Now().Add(-retention)

	var (
		removed int
		errs    []error
	)
	for _, rec := range drafts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.removeOrphan(ctx, rec.Reference)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
			continue
		}
		if !stale(rec, cutoff) {
			continue
		}
		// the snapshot may be outdated; decide again on the locked copy
		ok, err = s.store.DeleteIf(ctx, orders.AreaTemp, rec.Reference, func(cur *orders.Record) bool {
			return stale(cur, cutoff)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
			s.log.Debug("stale draft deleted", zap.String("reference", rec.Reference),
				zap.Time("updated_at", rec.UpdatedAt))
		}
	}

	s.mu.Lock()
	s.lastRun = s.store.Now()
	s.mu.Unlock()

	err = errors.Join(errs...)
	if err != nil {
		s.log.Error("sweep incomplete", zap.Int("removed", removed), zap.Error(err))
	} else {
		s.log.Info("sweep done", zap.Int("removed", removed), zap.Int("scanned", len(drafts)))
	}
	return removed, err
}

func stale(rec *orders.Record, cutoff time.Time) bool {
	return rec.State == orders.StateDraft && rec.UpdatedAt.Before(cutoff)
}

// removeOrphan deletes the temp copy of ref when ref is already finalized,
// which happens when a non-atomic move failed after writing to final.
func (s *Sweeper) removeOrphan(ctx context.Context, ref string) (bool, error) {
	_, err := s.store.LoadFrom(ctx, orders.AreaFinal, ref)
	if errors.Is(err, orders.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.store.Delete(ctx, orders.AreaTemp, ref); err != nil {
		return false, err
	}
	s.log.Warn("orphaned temp copy removed", zap.String("reference", ref))
	return true, nil
}

// Trigger sweeps with the configured retention unless a sweep ran within
// the minimum interval. Concurrent triggers share one sweep.
func (s *Sweeper) Trigger(ctx context.Context) (int, error) {
	s.mu.Lock()
	due := s.lastRun.IsZero() || s.store.Now().Sub(s.lastRun) >= s.minInterval
	s.mu.Unlock()
	if !due {
		return 0, nil
	}
	v, err, _ := s.group.Do("sweep", func() (interface{}, error) {
		return s.Sweep(ctx, s.retention)
	})
	n, _ := v.(int)
	return n, err
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.retention); err != nil && ctx.Err() == nil {
				s.log.Warn("scheduled sweep failed", zap.Error(err))
			}
		}
	}
}
