// Package session resumes and edits in-progress baskets keyed by the
// customer's browsing session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/pricing"
	"github.com/imrishuroy/photo-orderflow/internal/store"
	"github.com/imrishuroy/photo-orderflow/internal/validation"
)

const (
	// DefaultRetention is how long an untouched draft stays resumable.
	DefaultRetention = 24 * time.Hour

	maxReferenceAttempts = 5
)

var (
	// ErrInvalidItem is returned for an item without id or with a non-positive quantity.
	ErrInvalidItem = errors.New("invalid item")
	// ErrInvalidSession is returned for a blank session id.
	ErrInvalidSession = errors.New("invalid session id")
)

// Manager owns draft records: it resumes them per session and applies
// basket edits while they are still drafts.
type Manager struct {
	store     *store.Store
	refs      *orders.ReferenceGenerator
	prices    *pricing.Table
	validate  *validatorv10.Validate
	retention time.Duration
	log       *zap.Logger
}

// NewManager builds a Manager. A zero retention uses DefaultRetention.
func NewManager(st *store.Store, refs *orders.ReferenceGenerator, prices *pricing.Table, retention time.Duration, log *zap.Logger) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:     st,
		refs:      refs,
		prices:    prices,
		validate:  validation.New(),
		retention: retention,
		log:       log,
	}
}

// ResumeOrCreate returns the session's live draft, refreshing its UpdatedAt
// so a concurrent sweep cannot consider it stale, or creates a new one.
// A session that already produced a finalized order gets
// orders.ErrSessionFinalized.
func (m *Manager) ResumeOrCreate(ctx context.Context, sessionID string) (*orders.Record, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	unlock, err := m.store.LockKey(ctx, store.SessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	ref, err := m.store.FinalizedOrder(ctx, sessionID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("session %s finalized %s: %w", sessionID, ref, orders.ErrSessionFinalized)
	case !errors.Is(err, orders.ErrNotFound):
		return nil, err
	}

	drafts, err := m.store.List(ctx, orders.AreaTemp)
	if err != nil {
		return nil, err
	}
	cutoff := m.store.Now().Add(-m.retention)
	var best *orders.Record
	for _, rec := range drafts {
		if rec.SessionID != sessionID || rec.State != orders.StateDraft || rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
		}
	}

	if best != nil {
		rec, err := m.store.Update(ctx, best.Reference, func(r *orders.Record) error {
			if r.State != orders.StateDraft {
				return orders.ErrImmutableRecord
			}
			return nil
		})
		if err == nil {
			m.log.Debug("draft resumed", zap.String("session_id", sessionID), zap.String("reference", rec.Reference))
			return rec, nil
		}
		// swept between listing and touching it
		if !errors.Is(err, orders.ErrNotFound) {
			return nil, err
		}
	}
	return m.create(ctx, sessionID)
}

func (m *Manager) create(ctx context.Context, sessionID string) (*orders.Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		rec := &orders.Record{
			Reference: m.refs.Generate(),
			SessionID: sessionID,
			Items:     []orders.Item{},
			State:     orders.StateDraft,
			Area:      orders.AreaTemp,
		}
		rec.Recompute()
		rec.History = []orders.StateChange{{State: orders.StateDraft, At: m.store.Now()}}

		err := m.store.Insert(ctx, rec)
		if err == nil {
			m.log.Info("draft created", zap.String("session_id", sessionID), zap.String("reference", rec.Reference))
			return rec, nil
		}
		if !errors.Is(err, orders.ErrDuplicateReference) {
			return nil, err
		}
		m.log.Warn("reference collision, regenerating", zap.String("reference", rec.Reference))
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxReferenceAttempts, lastErr)
}

// AddItem adds item to the draft, merging with an existing line of the same
// item id by increasing its quantity. The unit price comes from the pricing table.
func (m *Manager) AddItem(ctx context.Context, ref string, item orders.Item) (*orders.Record, error) {
	if item.ID == "" || item.Quantity < 1 {
		return nil, fmt.Errorf("item %q quantity %d: %w", item.ID, item.Quantity, ErrInvalidItem)
	}
	price, err := m.prices.Price(item.Product)
	if err != nil {
		return nil, err
	}
	item.UnitPrice = price

	return m.editDraft(ctx, ref, func(r *orders.Record) error {
		for i := range r.Items {
			if r.Items[i].ID != item.ID {
				continue
			}
			if r.Items[i].Product != item.Product {
				return fmt.Errorf("item %s already added as %s: %w", item.ID, r.Items[i].Product, ErrInvalidItem)
			}
			r.Items[i].Quantity += item.Quantity
			return nil
		}
		r.Items = append(r.Items, item)
		return nil
	})
}

// RemoveItem drops the line with itemID. Removing an absent item is a no-op.
func (m *Manager) RemoveItem(ctx context.Context, ref, itemID string) (*orders.Record, error) {
	return m.editDraft(ctx, ref, func(r *orders.Record) error {
		for i := range r.Items {
			if r.Items[i].ID == itemID {
				r.Items = append(r.Items[:i], r.Items[i+1:]...)
				return nil
			}
		}
		return orders.ErrNoChange
	})
}

// UpdateEmail sets the contact email. Unlike items, the email stays editable
// until the order is paid.
func (m *Manager) UpdateEmail(ctx context.Context, ref, email string) (*orders.Record, error) {
	email = strings.TrimSpace(email)
	if !validation.ValidEmail(m.validate, email) {
		return nil, orders.ErrInvalidEmail
	}
	return m.store.Update(ctx, ref, func(r *orders.Record) error {
		if r.State != orders.StateDraft && r.State != orders.StateUnpaid {
			return fmt.Errorf("email of %s order: %w", r.State, orders.ErrImmutableRecord)
		}
		if r.ContactEmail == email {
			return orders.ErrNoChange
		}
		r.ContactEmail = email
		return nil
	})
}

func (m *Manager) editDraft(ctx context.Context, ref string, fn func(*orders.Record) error) (*orders.Record, error) {
	return m.store.Update(ctx, ref, func(r *orders.Record) error {
		if r.State != orders.StateDraft {
			return fmt.Errorf("items of %s order: %w", r.State, orders.ErrImmutableRecord)
		}
		if err := fn(r); err != nil {
			return err
		}
		r.Recompute()
		return nil
	})
}
