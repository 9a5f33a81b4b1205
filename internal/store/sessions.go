package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

// FinalizedOrder returns the reference of the finalized order owned by
// session, or orders.ErrNotFound. Backends with a SessionIndex answer with
// point reads; others fall back to scanning the final area.
func (s *Store) FinalizedOrder(ctx context.Context, session string) (string, error) {
	idx, ok := s.backend.(SessionIndex)
	if !ok {
		return s.scanFinal(ctx, session, "")
	}
	holder, err := s.sessionHolder(ctx, idx, session)
	if err != nil {
		return "", err
	}
	if holder == "" {
		return "", orders.ErrNotFound
	}
	// a claim is taken before the move, so the holder may still be a draft
	final, err := s.exists(ctx, orders.AreaFinal, holder)
	if err != nil {
		return "", err
	}
	if !final {
		return "", orders.ErrNotFound
	}
	return holder, nil
}

// ClaimSession records ref as the finalized order of session. It fails with
// orders.ErrSessionFinalized while another live record holds the session.
// Claiming again with the same ref is a no-op.
func (s *Store) ClaimSession(ctx context.Context, session, ref string) error {
	idx, ok := s.backend.(SessionIndex)
	if !ok {
		other, err := s.scanFinal(ctx, session, ref)
		switch {
		case errors.Is(err, orders.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		return fmt.Errorf("session %s already finalized %s: %w", session, other, orders.ErrSessionFinalized)
	}

	return s.retryConflicts("claim", session, func() error {
		holder, err := s.sessionHolder(ctx, idx, session)
		if err != nil {
			return err
		}
		if holder == ref {
			return nil
		}
		if holder != "" {
			_, err := s.load(ctx, holder)
			if err == nil {
				return fmt.Errorf("session %s already finalized %s: %w", session, holder, orders.ErrSessionFinalized)
			}
			// a holder that no longer exists was swept or deleted
			if !errors.Is(err, orders.ErrNotFound) {
				return err
			}
		}
		octx, cancel := s.opContext(ctx)
		defer cancel()
		err = idx.SwapSessionOrder(octx, session, holder, ref)
		if err != nil && !errors.Is(err, orders.ErrConflict) {
			return orders.NewStorageError("claim", session, err)
		}
		return err
	})
}

// ReleaseSession drops the claim of ref on session. Claims held by another
// reference are left alone.
func (s *Store) ReleaseSession(ctx context.Context, session, ref string) error {
	idx, ok := s.backend.(SessionIndex)
	if !ok {
		return nil
	}
	octx, cancel := s.opContext(ctx)
	defer cancel()
	err := idx.SwapSessionOrder(octx, session, ref, "")
	if err == nil || errors.Is(err, orders.ErrConflict) {
		return nil
	}
	s.log.Error("session release failed", zap.String("session_id", session), zap.Error(err))
	return orders.NewStorageError("release", session, err)
}

func (s *Store) sessionHolder(ctx context.Context, idx SessionIndex, session string) (string, error) {
	var holder string
	err := s.retryRead(ctx, "session", session, func(octx context.Context) error {
		var err error
		holder, err = idx.SessionOrder(octx, session)
		return err
	})
	if errors.Is(err, orders.ErrNotFound) {
		return "", nil
	}
	return holder, err
}

// scanFinal returns a finalized reference other than except that belongs to
// session.
func (s *Store) scanFinal(ctx context.Context, session, except string) (string, error) {
	final, err := s.List(ctx, orders.AreaFinal)
	if err != nil {
		return "", err
	}
	for _, rec := range final {
		if rec.SessionID == session && rec.Reference != except {
			return rec.Reference, nil
		}
	}
	return "", orders.ErrNotFound
}
