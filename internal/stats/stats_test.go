package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/store"
)

var paris = time.FixedZone("CET", 3600)

func record(ref string, state orders.State, created time.Time, qty int, price string) *orders.Record {
	r := &orders.Record{
		Reference: ref,
		SessionID: "s-" + ref,
		State:     state,
		Area:      orders.AreaFor(state),
		Items:     []orders.Item{{ID: "i", Product: "10x15", Quantity: qty, UnitPrice: decimal.RequireFromString(price)}},
		CreatedAt: created,
		UpdatedAt: created,
	}
	r.Recompute()
	for _, s := range orders.States[:state.Index()+1] {
		r.History = append(r.History, orders.StateChange{State: s, At: created})
	}
	return r
}

func seed(t *testing.T, now time.Time, recs ...*orders.Record) *Engine {
	t.Helper()
	mem := store.NewMemoryBackend()
	for _, r := range recs {
		require.NoError(t, mem.Put(context.Background(), r, store.Precondition{}))
	}
	st := store.New(mem, store.WithClock(func() time.Time { return now }))
	return NewEngine(st, paris, nil)
}

func TestCalculateStats_Totals(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, paris)
	recs := []*orders.Record{
		record("d", orders.StateDraft, now, 5, "1.00"),
		record("u", orders.StateUnpaid, now, 2, "3.00"),
		record("p", orders.StatePaid, now.Add(-48*time.Hour), 1, "7.50"),
	}

	st := CalculateStats(recs, now, paris)
	assert.Equal(t, 2, st.TotalOrders)
	assert.True(t, decimal.RequireFromString("13.50").Equal(st.TotalAmount), st.TotalAmount.String())
	assert.Equal(t, 8, st.TotalPhotos)
	assert.Equal(t, 1, st.ByState[orders.StateDraft])
	assert.Equal(t, 1, st.ByState[orders.StateUnpaid])
	assert.Equal(t, 1, st.ByState[orders.StatePaid])
	assert.Equal(t, 0, st.ByState[orders.StateRetrieved])
	assert.Equal(t, 2, st.Today.Created)
	assert.Equal(t, 1, st.Today.Finalized)
	assert.Equal(t, 0, st.Today.Paid)
}

func TestRollingWindowAndCalendarDayDiffer(t *testing.T) {
	created := time.Date(2026, 6, 1, 23, 59, 0, 0, paris)
	now := time.Date(2026, 6, 2, 0, 5, 0, 0, paris)
	e := seed(t, now, record("late", orders.StateUnpaid, created, 1, "1"))
	ctx := context.Background()

	n, err := e.CountCreatedWithin(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Today.Created)
	assert.Equal(t, 0, st.Today.Finalized)

	b, err := e.Badges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.CreatedLast24h)
	assert.Equal(t, 0, b.FinalizedToday)
}

func TestCountCreatedWithin_Bounds(t *testing.T) {
	now := time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC)
	e := seed(t, now,
		record("edge", orders.StateUnpaid, now.Add(-24*time.Hour), 1, "1"),
		record("old", orders.StateUnpaid, now.Add(-24*time.Hour-time.Second), 1, "1"),
		record("draft", orders.StateDraft, now, 1, "1"),
	)
	n, err := e.CountCreatedWithin(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPendingCounts(t *testing.T) {
	now := time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC)
	e := seed(t, now,
		record("d", orders.StateDraft, now, 1, "1"),
		record("u1", orders.StateUnpaid, now, 1, "1"),
		record("u2", orders.StateUnpaid, now, 1, "1"),
		record("p", orders.StatePaid, now, 1, "1"),
		record("v", orders.StateValidated, now, 1, "1"),
		record("x", orders.StateExported, now, 1, "1"),
		record("r", orders.StateRetrieved, now, 1, "1"),
	)
	ctx := context.Background()

	n, err := e.CountPendingPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.CountPendingRetrievals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = e.CountByState(ctx, orders.StateDraft)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.CountByState(ctx, orders.State("lost"))
	assert.Error(t, err)

	b, err := e.Badges(ctx)
	require.NoError(t, err)
	assert.Equal(t, Badges{PendingPayments: 2, PendingRetrievals: 3, CreatedLast24h: 6, FinalizedToday: 6, Drafts: 1}, *b)
	assert.Len(t, b.Values(), 5)
}

type brokenBackend struct{ store.Backend }

func (brokenBackend) List(context.Context, orders.Area) ([]*orders.Record, error) {
	return nil, errors.New("connection reset")
}

func TestStorageErrorIsNotZero(t *testing.T) {
	e := NewEngine(store.New(brokenBackend{store.NewMemoryBackend()}, store.WithReadRetries(0, 0)), nil, nil)
	ctx := context.Background()

	_, err := e.Badges(ctx)
	assert.ErrorIs(t, err, orders.ErrStorage)
	_, err = e.CountPendingPayments(ctx)
	assert.ErrorIs(t, err, orders.ErrStorage)
	_, err = e.Stats(ctx)
	assert.ErrorIs(t, err, orders.ErrStorage)
}
