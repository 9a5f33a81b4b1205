// Package lifecycle validates and applies order state transitions.
//
// States advance one step at a time along
// draft -> unpaid -> paid -> validated -> exported -> retrieved.
// The draft -> unpaid step is finalisation: it also relocates the record
// from the temp area to the final area under the same reference.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/store"
	"github.com/imrishuroy/photo-orderflow/internal/validation"
)

// Input carries transition-specific context.
type Input struct {
	PaymentMethod string          // unpaid -> paid
	Amount        decimal.Decimal // unpaid -> paid: amount actually received
	Actor         string          // who asked, for logs only
}

// Event is emitted after a transition has been persisted.
type Event struct {
	Reference string
	From      orders.State
	To        orders.State
	At        time.Time
	Record    *orders.Record
}

// Hook receives events. Errors are logged and never undo the transition.
type Hook func(ctx context.Context, ev Event) error

type edge struct {
	from, to orders.State
}

// rule guards and completes one edge. check must not mutate rec; it also
// runs when the same transition is re-applied.
type rule struct {
	check func(m *Machine, rec *orders.Record, in Input, total decimal.Decimal) error
	apply func(rec *orders.Record, in Input)
}

var transitions = map[edge]rule{
	{orders.StateDraft, orders.StateUnpaid}:       {check: checkFinalize},
	{orders.StateUnpaid, orders.StatePaid}:        {check: checkPayment, apply: recordPayment},
	{orders.StatePaid, orders.StateValidated}:     {},
	{orders.StateValidated, orders.StateExported}: {},
	{orders.StateExported, orders.StateRetrieved}: {},
}

func checkFinalize(m *Machine, rec *orders.Record, _ Input, _ decimal.Decimal) error {
	if len(rec.Items) == 0 {
		return orders.ErrEmptyOrder
	}
	for _, it := range rec.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("item %s has quantity %d: %w", it.ID, it.Quantity, orders.ErrEmptyOrder)
		}
	}
	if !validation.ValidEmail(m.validate, rec.ContactEmail) {
		return orders.ErrInvalidEmail
	}
	return nil
}

func checkPayment(_ *Machine, _ *orders.Record, in Input, total decimal.Decimal) error {
	if !in.Amount.Equal(total) {
		return fmt.Errorf("received %s, order total %s: %w", in.Amount.StringFixed(2), total.StringFixed(2), orders.ErrAmountMismatch)
	}
	return nil
}

func recordPayment(rec *orders.Record, in Input) {
	rec.Payment = &orders.Payment{Method: in.PaymentMethod, Amount: in.Amount}
}

// Machine applies transitions through the record store and notifies hooks.
type Machine struct {
	store    *store.Store
	validate *validatorv10.Validate
	log      *zap.Logger

	mu    sync.RWMutex
	hooks []Hook
}

// NewMachine returns a Machine bound to st.
func NewMachine(st *store.Store, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{store: st, validate: validation.New(), log: log}
}

// Subscribe registers a hook called after every persisted transition.
func (m *Machine) Subscribe(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// Apply moves rec to target in memory. It returns orders.ErrNoChange when
// rec already is in target and the input is consistent with it, and leaves
// rec untouched on any error.
func (m *Machine) Apply(rec *orders.Record, target orders.State, in Input, now time.Time) error {
	if !target.Valid() || target == orders.StateDraft {
		return fmt.Errorf("%s -> %s: %w", rec.State, target, orders.ErrInvalidTransition)
	}
	total := rec.ComputeTotal()

	if rec.State == target {
		prev := orders.States[target.Index()-1]
		if r := transitions[edge{prev, target}]; r.check != nil {
			if err := r.check(m, rec, in, total); err != nil {
				return err
			}
		}
		return orders.ErrNoChange
	}

	r, ok := transitions[edge{rec.State, target}]
	if !ok {
		return fmt.Errorf("%s -> %s: %w", rec.State, target, orders.ErrInvalidTransition)
	}
	if r.check != nil {
		if err := r.check(m, rec, in, total); err != nil {
			return err
		}
	}

	rec.AmountTotal = total
	if r.apply != nil {
		r.apply(rec, in)
	}
	rec.State = target
	rec.Area = orders.AreaFor(target)
	rec.History = append(rec.History, orders.StateChange{State: target, At: now})
	rec.PendingEvent = target
	return nil
}

// Transition loads ref, applies the transition and persists it. The record
// keeps the transition as pending until one caller claims it and notifies
// the hooks, so a retry after a partially failed write still emits the
// event, and re-applying a delivered transition succeeds without writing
// or emitting.
func (m *Machine) Transition(ctx context.Context, ref string, target orders.State, in Input) (*orders.Record, error) {
	if target == orders.StateUnpaid {
		unlock, err := m.lockSessionOf(ctx, ref)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var (
		from    orders.State
		claimed string
	)
	_, err := m.store.Update(ctx, ref, func(r *orders.Record) error {
		from = r.State
		if err := m.Apply(r, target, in, m.store.Now()); err != nil {
			return err
		}
		if from == orders.StateDraft && r.SessionID != "" {
			if err := m.store.ClaimSession(ctx, r.SessionID, ref); err != nil {
				return err
			}
			claimed = r.SessionID
		}
		return nil
	})
	if err != nil {
		if claimed != "" {
			m.releaseUnlessFinal(ctx, claimed, ref)
		}
		m.logFailure(ref, target, in, err)
		return nil, err
	}

	rec, emit, err := m.claimEvent(ctx, ref, target)
	if err != nil {
		m.logFailure(ref, target, in, err)
		return nil, err
	}
	if !emit {
		m.log.Info("transition already applied",
			zap.String("reference", ref), zap.String("state", string(target)), zap.String("actor", in.Actor))
		return rec, nil
	}
	if from == target {
		// retried after the write landed but before the event went out
		from = orders.States[target.Index()-1]
	}

	at := rec.UpdatedAt
	if ts, ok := rec.EnteredAt(target); ok {
		at = ts
	}
	m.log.Info("order transitioned",
		zap.String("reference", ref),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", in.Actor))
	m.notify(ctx, Event{Reference: ref, From: from, To: target, At: at, Record: rec.Clone()})
	return rec, nil
}

// claimEvent clears the pending marker for target and reports whether this
// caller cleared it. Among concurrent callers, in this process or another,
// exactly one wins.
func (m *Machine) claimEvent(ctx context.Context, ref string, target orders.State) (*orders.Record, bool, error) {
	var won bool
	rec, err := m.store.Update(ctx, ref, func(r *orders.Record) error {
		won = false
		if r.PendingEvent != target {
			return orders.ErrNoChange
		}
		r.PendingEvent = ""
		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, won, nil
}

// releaseUnlessFinal gives the session back after a finalisation that did
// not reach the final area.
func (m *Machine) releaseUnlessFinal(ctx context.Context, session, ref string) {
	_, err := m.store.LoadFrom(ctx, orders.AreaFinal, ref)
	if !errors.Is(err, orders.ErrNotFound) {
		return
	}
	if err := m.store.ReleaseSession(ctx, session, ref); err != nil {
		m.log.Warn("session release failed", zap.String("session_id", session),
			zap.String("reference", ref), zap.Error(err))
	}
}

func (m *Machine) logFailure(ref string, target orders.State, in Input, err error) {
	fields := []zap.Field{
		zap.String("reference", ref), zap.String("target", string(target)),
		zap.String("actor", in.Actor), zap.Error(err),
	}
	switch {
	case errors.Is(err, orders.ErrStorage):
		m.log.Error("transition failed", fields...)
	case errors.Is(err, orders.ErrNotFound):
		m.log.Debug("transition on unknown reference", fields...)
	default:
		m.log.Info("transition rejected", fields...)
	}
}

// lockSessionOf serialises finalisations of one session.
func (m *Machine) lockSessionOf(ctx context.Context, ref string) (func(), error) {
	rec, err := m.store.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return m.store.LockKey(ctx, store.SessionKey(rec.SessionID))
}

func (m *Machine) notify(ctx context.Context, ev Event) {
	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooks...)
	m.mu.RUnlock()
	for _, h := range hooks {
		if err := h(ctx, ev); err != nil {
			m.log.Warn("transition hook failed",
				zap.String("reference", ev.Reference), zap.String("to", string(ev.To)), zap.Error(err))
		}
	}
}
