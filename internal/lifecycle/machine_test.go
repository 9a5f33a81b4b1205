package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/store"
)

// tickingClock advances one minute per call.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func setup(t *testing.T) (*Machine, *store.Store) {
	t.Helper()
	clock := &tickingClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	st := store.New(store.NewMemoryBackend(), store.WithClock(clock.Now))
	return NewMachine(st, nil), st
}

func insertDraft(t *testing.T, st *store.Store, ref, session string) {
	t.Helper()
	rec := &orders.Record{
		Reference:    ref,
		SessionID:    session,
		ContactEmail: "alice@example.com",
		State:        orders.StateDraft,
		Area:         orders.AreaTemp,
		Items:        []orders.Item{{ID: "p1", Product: "10x15", Quantity: 2, UnitPrice: decimal.NewFromInt(3)}},
		History:      []orders.StateChange{{State: orders.StateDraft}},
	}
	rec.Recompute()
	require.NoError(t, st.Insert(context.Background(), rec))
}

func pay(amount string) Input {
	return Input{PaymentMethod: "cash", Amount: decimal.RequireFromString(amount), Actor: "admin"}
}

func TestTransition_FullLifecycle(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")

	var events []Event
	m.Subscribe(func(ctx context.Context, ev Event) error {
		events = append(events, ev)
		return nil
	})

	rec, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	assert.Equal(t, orders.AreaFinal, rec.Area)
	assert.Equal(t, "ref-1", rec.Reference)
	_, err = st.LoadFrom(ctx, orders.AreaTemp, "ref-1")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	rec, err = m.Transition(ctx, "ref-1", orders.StatePaid, pay("6.00"))
	require.NoError(t, err)
	require.NotNil(t, rec.Payment)
	assert.Equal(t, "cash", rec.Payment.Method)

	for _, target := range []orders.State{orders.StateValidated, orders.StateExported, orders.StateRetrieved} {
		rec, err = m.Transition(ctx, "ref-1", target, Input{})
		require.NoError(t, err)
		assert.Equal(t, target, rec.State)
	}

	require.Len(t, events, 5)
	assert.Equal(t, orders.StateDraft, events[0].From)
	assert.Equal(t, orders.StateUnpaid, events[0].To)
	assert.Equal(t, orders.StatePaid, events[1].To)

	// every intermediate state is recorded
	var seen []orders.State
	for _, h := range rec.History {
		seen = append(seen, h.State)
	}
	assert.Equal(t, orders.States, seen)

	_, err = m.Transition(ctx, "ref-1", orders.StateExported, Input{})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestTransition_NonAdjacentLeavesRecordUnchanged(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")
	_, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	before, err := st.Load(ctx, "ref-1")
	require.NoError(t, err)

	_, err = m.Transition(ctx, "ref-1", orders.StateRetrieved, Input{})
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	after, err := st.Load(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StateUnpaid, after.State)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestTransition_BackwardAndDraftTargetsRejected(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")
	_, err := m.Transition(ctx, "ref-1", orders.StateDraft, Input{})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	_, err = m.Transition(ctx, "ref-1", orders.StatePaid, pay("6"))
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	_, err = m.Transition(ctx, "ref-1", orders.State("shipped"), Input{})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, "ref-1", orders.StatePaid, pay("6"))
	require.NoError(t, err)
	_, err = m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestTransition_PaidIsIdempotent(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")
	calls := 0
	m.Subscribe(func(ctx context.Context, ev Event) error {
		calls++
		return nil
	})
	_, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	first, err := m.Transition(ctx, "ref-1", orders.StatePaid, pay("6"))
	require.NoError(t, err)

	again, err := m.Transition(ctx, "ref-1", orders.StatePaid, pay("6.00"))
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaid, again.State)
	assert.Equal(t, first.UpdatedAt, again.UpdatedAt, "replay must not write")
	assert.Equal(t, 2, calls, "replay must not emit")

	_, err = m.Transition(ctx, "ref-1", orders.StatePaid, pay("7"))
	assert.ErrorIs(t, err, orders.ErrAmountMismatch)
}

func TestTransition_AmountMismatch(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")
	_, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)

	_, err = m.Transition(ctx, "ref-1", orders.StatePaid, pay("5.99"))
	require.ErrorIs(t, err, orders.ErrAmountMismatch)
	rec, err := st.Load(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StateUnpaid, rec.State)
	assert.Nil(t, rec.Payment)
}

func TestTransition_FinalizeValidation(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()

	empty := &orders.Record{Reference: "empty", SessionID: "s1", ContactEmail: "a@b.co",
		State: orders.StateDraft, Area: orders.AreaTemp}
	require.NoError(t, st.Insert(ctx, empty))
	_, err := m.Transition(ctx, "empty", orders.StateUnpaid, Input{})
	assert.ErrorIs(t, err, orders.ErrEmptyOrder)

	insertDraft(t, st, "noemail", "s2")
	_, err = st.Update(ctx, "noemail", func(r *orders.Record) error {
		r.ContactEmail = "not-an-email"
		return nil
	})
	require.NoError(t, err)
	_, err = m.Transition(ctx, "noemail", orders.StateUnpaid, Input{})
	assert.ErrorIs(t, err, orders.ErrInvalidEmail)

	rec, err := st.Load(ctx, "noemail")
	require.NoError(t, err)
	assert.Equal(t, orders.AreaTemp, rec.Area)
}

func TestTransition_OneFinalizedOrderPerSession(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")
	insertDraft(t, st, "ref-2", "sess-1")

	_, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, "ref-2", orders.StateUnpaid, Input{})
	assert.ErrorIs(t, err, orders.ErrSessionFinalized)

	// re-finalizing the same order is a no-op
	_, err = m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	assert.NoError(t, err)
}

func TestTransition_ConcurrentPaymentsApplyOnce(t *testing.T) {
	m, st := setup(t)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")
	_, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)

	var mu sync.Mutex
	emitted := 0
	m.Subscribe(func(ctx context.Context, ev Event) error {
		mu.Lock()
		emitted++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Transition(ctx, "ref-1", orders.StatePaid, pay("6"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, emitted)

	rec, err := st.Load(ctx, "ref-1")
	require.NoError(t, err)
	paid := 0
	for _, h := range rec.History {
		if h.State == orders.StatePaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestTransition_HookErrorDoesNotFail(t *testing.T) {
	m, st := setup(t)
	insertDraft(t, st, "ref-1", "sess-1")
	m.Subscribe(func(ctx context.Context, ev Event) error { return errors.New("mail queue down") })

	rec, err := m.Transition(context.Background(), "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	assert.Equal(t, orders.StateUnpaid, rec.State)
}

func TestApply_LeavesRecordUntouchedOnError(t *testing.T) {
	m, _ := setup(t)
	rec := &orders.Record{
		Reference: "r", State: orders.StateUnpaid, Area: orders.AreaFinal,
		Items: []orders.Item{{ID: "p", Quantity: 1, UnitPrice: decimal.NewFromInt(2)}},
	}
	rec.Recompute()
	snapshot := rec.Clone()

	err := m.Apply(rec, orders.StatePaid, pay("3"), time.Now())
	require.ErrorIs(t, err, orders.ErrAmountMismatch)
	assert.Equal(t, snapshot, rec)

	err = m.Apply(rec, orders.StateExported, Input{}, time.Now())
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, snapshot, rec)
}

// failingTempDeletes hides the atomic move of the wrapped backend and fails
// deletes from the temp area while failing is set.
type failingTempDeletes struct {
	store.Backend
	failing atomic.Bool
}

func (f *failingTempDeletes) Delete(ctx context.Context, area orders.Area, ref string, cond store.Precondition) error {
	if area == orders.AreaTemp && f.failing.Load() {
		return errors.New("temp table throttled")
	}
	return f.Backend.Delete(ctx, area, ref, cond)
}

func TestTransition_RetryAfterInterruptedFinalizeEmitsOnce(t *testing.T) {
	backend := &failingTempDeletes{Backend: store.NewMemoryBackend()}
	st := store.New(backend)
	m := NewMachine(st, nil)
	ctx := context.Background()
	insertDraft(t, st, "ref-1", "sess-1")

	var events []Event
	m.Subscribe(func(ctx context.Context, ev Event) error {
		events = append(events, ev)
		return nil
	})

	backend.failing.Store(true)
	_, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.ErrorIs(t, err, orders.ErrStorage)
	assert.Empty(t, events)
	stored, err := st.LoadFrom(ctx, orders.AreaFinal, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StateUnpaid, stored.PendingEvent)

	backend.failing.Store(false)
	rec, err := m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	assert.Empty(t, rec.PendingEvent)
	require.Len(t, events, 1)
	assert.Equal(t, orders.StateDraft, events[0].From)
	assert.Equal(t, orders.StateUnpaid, events[0].To)
	_, err = st.LoadFrom(ctx, orders.AreaTemp, "ref-1")
	assert.ErrorIs(t, err, orders.ErrNotFound, "leftover temp copy is removed")

	_, err = m.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTransition_SessionFinalizedOnceAcrossProcesses(t *testing.T) {
	for name, backend := range map[string]store.Backend{
		"index": store.NewMemoryBackend(),
		"scan":  struct{ store.Backend }{store.NewMemoryBackend()},
	} {
		t.Run(name, func(t *testing.T) {
			first := NewMachine(store.New(backend), nil)
			second := NewMachine(store.New(backend), nil)
			insertDraft(t, store.New(backend), "ref-1", "sess-1")
			insertDraft(t, store.New(backend), "ref-2", "sess-1")
			ctx := context.Background()

			_, err := first.Transition(ctx, "ref-1", orders.StateUnpaid, Input{})
			require.NoError(t, err)
			_, err = second.Transition(ctx, "ref-2", orders.StateUnpaid, Input{})
			assert.ErrorIs(t, err, orders.ErrSessionFinalized)
		})
	}
}

func TestTransition_ConcurrentFinalizeAcrossProcesses(t *testing.T) {
	backend := store.NewMemoryBackend()
	machines := []*Machine{NewMachine(store.New(backend), nil), NewMachine(store.New(backend), nil)}
	insertDraft(t, store.New(backend), "ref-1", "sess-1")
	insertDraft(t, store.New(backend), "ref-2", "sess-1")
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, ref := range []string{"ref-1", "ref-2"} {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			_, errs[i] = machines[i].Transition(ctx, ref, orders.StateUnpaid, Input{})
		}(i, ref)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, orders.ErrSessionFinalized)
	}
	assert.Equal(t, 1, won)

	final, err := store.New(backend).List(ctx, orders.AreaFinal)
	require.NoError(t, err)
	assert.Len(t, final, 1)
}
