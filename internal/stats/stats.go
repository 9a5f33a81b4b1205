// Package stats computes the counts behind the admin dashboard and its
// notification badges.
package stats

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/store"
)

// Milestones counts records that reached each key milestone on the current
// calendar day.
type Milestones struct {
	Created   int `json:"created"`
	Finalized int `json:"finalized"`
	Paid      int `json:"paid"`
	Validated int `json:"validated"`
	Exported  int `json:"exported"`
	Retrieved int `json:"retrieved"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalOrders int                  `json:"total_orders"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	TotalPhotos int                  `json:"total_photos"`
	ByState     map[orders.State]int `json:"by_state"`
	Today       Milestones           `json:"today"`
}

// Badges is the structured count set shown on admin badges. CreatedLast24h
// is a rolling window; FinalizedToday follows calendar days.
type Badges struct {
	PendingPayments   int `json:"pending_payments"`
	PendingRetrievals int `json:"pending_retrievals"`
	CreatedLast24h    int `json:"created_last_24h"`
	FinalizedToday    int `json:"finalized_today"`
	Drafts            int `json:"drafts"`
}

// Values returns the badges keyed by metric name.
func (b *Badges) Values() map[string]int {
	return map[string]int{
		"PendingPayments":   b.PendingPayments,
		"PendingRetrievals": b.PendingRetrievals,
		"CreatedLast24h":    b.CreatedLast24h,
		"FinalizedToday":    b.FinalizedToday,
		"Drafts":            b.Drafts,
	}
}

// pendingRetrieval holds the states of an order paid for but not yet picked up.
var pendingRetrieval = map[orders.State]bool{
	orders.StatePaid:      true,
	orders.StateValidated: true,
	orders.StateExported:  true,
}

// CalculateStats summarises records. Totals of orders and amounts skip
// drafts; "today" uses the calendar day of now in loc.
func CalculateStats(records []*orders.Record, now time.Time, loc *time.Location) *Stats {
	if loc == nil {
		loc = time.UTC
	}
	start, end := dayBounds(now, loc)
	inDay := func(t time.Time) bool {
		return !t.IsZero() && !t.Before(start) && t.Before(end)
	}
	entered := func(r *orders.Record, s orders.State) bool {
		at, ok := r.EnteredAt(s)
		return ok && inDay(at)
	}

	st := &Stats{TotalAmount: decimal.Zero, ByState: make(map[orders.State]int, len(orders.States))}
	for _, s := range orders.States {
		st.ByState[s] = 0
	}
	for _, r := range records {
		st.ByState[r.State]++
		st.TotalPhotos += r.PhotoCount()
		if r.State != orders.StateDraft {
			st.TotalOrders++
			st.TotalAmount = st.TotalAmount.Add(r.AmountTotal)
		}
		if inDay(r.CreatedAt) {
			st.Today.Created++
		}
		if entered(r, orders.StateUnpaid) {
			st.Today.Finalized++
		}
		if entered(r, orders.StatePaid) {
			st.Today.Paid++
		}
		if entered(r, orders.StateValidated) {
			st.Today.Validated++
		}
		if entered(r, orders.StateExported) {
			st.Today.Exported++
		}
		if entered(r, orders.StateRetrieved) {
			st.Today.Retrieved++
		}
	}
	return st
}

func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func createdWithin(records []*orders.Record, now time.Time, d time.Duration) int {
	from := now.Add(-d)
	n := 0
	for _, r := range records {
		if !r.CreatedAt.Before(from) && !r.CreatedAt.After(now) {
			n++
		}
	}
	return n
}

// Engine answers count queries against the record store. Results are
// snapshots; storage failures are returned and never reported as zero.
type Engine struct {
	store *store.Store
	loc   *time.Location
	log   *zap.Logger
}

// NewEngine returns an Engine reporting calendar days in loc.
func NewEngine(st *store.Store, loc *time.Location, log *zap.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: st, loc: loc, log: log}
}

// CountByState counts records in state s.
func (e *Engine) CountByState(ctx context.Context, s orders.State) (int, error) {
	if _, err := orders.ParseState(string(s)); err != nil {
		return 0, err
	}
	recs, err := e.store.List(ctx, orders.AreaFor(s))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if r.State == s {
			n++
		}
	}
	return n, nil
}

// CountPendingPayments counts finalized orders awaiting payment.
func (e *Engine) CountPendingPayments(ctx context.Context) (int, error) {
	return e.CountByState(ctx, orders.StateUnpaid)
}

// CountPendingRetrievals counts orders that are paid but not yet retrieved.
func (e *Engine) CountPendingRetrievals(ctx context.Context) (int, error) {
	recs, err := e.store.List(ctx, orders.AreaFinal)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if pendingRetrieval[r.State] {
			n++
		}
	}
	return n, nil
}

// CountCreatedWithin counts finalized orders created in [now-d, now].
func (e *Engine) CountCreatedWithin(ctx context.Context, d time.Duration) (int, error) {
	recs, err := e.store.List(ctx, orders.AreaFinal)
	if err != nil {
		return 0, err
	}
	return createdWithin(recs, e.store.Now(), d), nil
}

// Stats summarises every record in both areas.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	temp, final, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]*orders.Record, 0, len(temp)+len(final))
	all = append(all, temp...)
	all = append(all, final...)
	return CalculateStats(all, e.store.Now(), e.loc), nil
}

// Badges computes every badge from one snapshot.
func (e *Engine) Badges(ctx context.Context) (*Badges, error) {
	temp, final, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := e.store.Now()
	b := &Badges{CreatedLast24h: createdWithin(final, now, 24*time.Hour)}
	for _, r := range temp {
		if r.State == orders.StateDraft {
			b.Drafts++
		}
	}
	for _, r := range final {
		switch {
		case r.State == orders.StateUnpaid:
			b.PendingPayments++
		case pendingRetrieval[r.State]:
			b.PendingRetrievals++
		}
	}
	b.FinalizedToday = CalculateStats(final, now, e.loc).Today.Finalized
	return b, nil
}

func (e *Engine) snapshot(ctx context.Context) (temp, final []*orders.Record, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		temp, err = e.store.List(gctx, orders.AreaTemp)
		return err
	})
	g.Go(func() error {
		var err error
		final, err = e.store.List(gctx, orders.AreaFinal)
		return err
	})
	if err := g.Wait(); err != nil {
		e.log.Error("stats snapshot failed", zap.Error(err))
		return nil, nil, err
	}
	return temp, final, nil
}
