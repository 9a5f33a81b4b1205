package orders

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTotal_SumOfQuantityTimesUnitPrice(t *testing.T) {
	cases := []struct {
		name  string
		items []Item
		want  string
	}{
		{"empty", nil, "0"},
		{"single", []Item{{ID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("3")}}, "6"},
		{"cents", []Item{
			{ID: "p1", Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
			{ID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("0.20")},
		}, "0.5"},
		{"many", []Item{
			{ID: "a", Quantity: 7, UnitPrice: decimal.RequireFromString("0.35")},
			{ID: "b", Quantity: 12, UnitPrice: decimal.RequireFromString("1.99")},
			{ID: "c", Quantity: 1, UnitPrice: decimal.RequireFromString("14.5")},
		}, "40.83"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Record{Items: tc.items}
			r.Recompute()
			assert.True(t, decimal.RequireFromString(tc.want).Equal(r.AmountTotal), "got %s", r.AmountTotal)
		})
	}
}

func TestStateIndexAndArea(t *testing.T) {
	for i, s := range States {
		assert.Equal(t, i, s.Index())
	}
	assert.Equal(t, -1, State("shipped").Index())
	assert.Equal(t, AreaTemp, AreaFor(StateDraft))
	assert.Equal(t, AreaFinal, AreaFor(StateUnpaid))
	assert.Equal(t, AreaFinal, AreaFor(StateRetrieved))
	assert.True(t, StateRetrieved.Terminal())

	_, err := ParseState("shipped")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestClone_IsDeep(t *testing.T) {
	r := &Record{
		Reference: "r",
		Items:     []Item{{ID: "p1", Quantity: 1}},
		History:   []StateChange{{State: StateDraft}},
		Payment:   &Payment{Method: "cash"},
	}
	c := r.Clone()
	c.Items[0].Quantity = 9
	c.History[0].State = StatePaid
	c.Payment.Method = "card"

	assert.Equal(t, 1, r.Items[0].Quantity)
	assert.Equal(t, StateDraft, r.History[0].State)
	assert.Equal(t, "cash", r.Payment.Method)
}

func TestCheckArea(t *testing.T) {
	require.NoError(t, (&Record{State: StateDraft, Area: AreaTemp}).CheckArea())
	require.Error(t, (&Record{State: StateUnpaid, Area: AreaTemp}).CheckArea())
	require.Error(t, (&Record{State: StateDraft, Area: AreaFinal}).CheckArea())
}

func TestStorageError_IsDistinctFromNotFound(t *testing.T) {
	err := fmt.Errorf("load: %w", NewStorageError("get", "ref", errors.New("disk full")))
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Nil(t, NewStorageError("get", "ref", nil))

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get", se.Op)
}
