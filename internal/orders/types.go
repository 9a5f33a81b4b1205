package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle position of an order record.
type State string

// Order states, in lifecycle order.
const (
	StateDraft     State = "draft"
	StateUnpaid    State = "unpaid"
	StatePaid      State = "paid"
	StateValidated State = "validated"
	StateExported  State = "exported"
	StateRetrieved State = "retrieved"
)

// States lists every state in lifecycle order.
var States = []State{StateDraft, StateUnpaid, StatePaid, StateValidated, StateExported, StateRetrieved}

// Index returns the position of s in the lifecycle, or -1 for an unknown state.
func (s State) Index() int {
	for i, st := range States {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known state.
func (s State) Valid() bool { return s.Index() >= 0 }

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateRetrieved }

// ParseState converts a raw string into a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.Valid() {
		return "", fmtUnknownState(raw)
	}
	return s, nil
}

// Area is the storage area holding a record.
type Area string

// Storage areas. Drafts live in temp; everything else in final.
const (
	AreaTemp  Area = "temp"
	AreaFinal Area = "final"
)

// AreaFor returns the area a record in state s must live in.
func AreaFor(s State) Area {
	if s == StateDraft {
		return AreaTemp
	}
	return AreaFinal
}

// Item is one photo selection in a basket.
type Item struct {
	ID        string          `json:"id"`      // stable photo selection id, used for de-duplication
	Product   string          `json:"product"` // print format, key into the pricing table
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal is Quantity x UnitPrice.
func (it Item) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Payment is what the admin/payment collaborator reported on unpaid -> paid.
type Payment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// StateChange records when a state was entered.
type StateChange struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Record is a single order document.
type Record struct {
	Reference    string          `json:"reference"`
	SessionID    string          `json:"session_id"`
	Items        []Item          `json:"items"`
	ContactEmail string          `json:"contact_email,omitempty"`
	AmountTotal  decimal.Decimal `json:"amount_total"`
	State        State           `json:"state"`
	Area         Area            `json:"area"`
	Payment      *Payment        `json:"payment,omitempty"`
	History      []StateChange   `json:"history,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	// Version increases on every write; stores use it for compare-and-swap.
	Version int64 `json:"version"`
	// PendingEvent is the state whose transition event has not been
	// delivered to hooks yet.
	PendingEvent State `json:"pending_event,omitempty"`
}

// ComputeTotal sums the item subtotals.
func (r *Record) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Recompute refreshes AmountTotal from Items.
func (r *Record) Recompute() {
	r.AmountTotal = r.ComputeTotal()
}

// PhotoCount sums item quantities.
func (r *Record) PhotoCount() int {
	n := 0
	for _, it := range r.Items {
		n += it.Quantity
	}
	return n
}

// EnteredAt returns when the record entered state s, if it did.
func (r *Record) EnteredAt(s State) (time.Time, bool) {
	for _, h := range r.History {
		if h.State == s {
			return h.At, true
		}
	}
	return time.Time{}, false
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Items != nil {
		c.Items = make([]Item, len(r.Items))
		copy(c.Items, r.Items)
	}
	if r.History != nil {
		c.History = make([]StateChange, len(r.History))
		copy(c.History, r.History)
	}
	if r.Payment != nil {
		p := *r.Payment
		c.Payment = &p
	}
	return &c
}

// CheckArea verifies the temp <=> draft invariant.
func (r *Record) CheckArea() error {
	if r.Area != AreaFor(r.State) {
		return fmtAreaMismatch(r)
	}
	return nil
}
