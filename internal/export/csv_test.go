package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

func TestWriteCSV_NeutralizesFormulas(t *testing.T) {
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	rec := &orders.Record{
		Reference:    "20260601090000-0123456789abcd",
		SessionID:    "sess",
		ContactEmail: "=CMD('calc')",
		State:        orders.StatePaid,
		Area:         orders.AreaFinal,
		Items:        []orders.Item{{ID: "a", Product: "10x15", Quantity: 3, UnitPrice: decimal.RequireFromString("0.35")}},
		Payment:      &orders.Payment{Method: "+cash\nnow", Amount: decimal.RequireFromString("1.05")},
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	rec.Recompute()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*orders.Record{rec}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Header, rows[0])

	got := rows[1]
	assert.Equal(t, "'=CMD('calc')", got[3])
	assert.Equal(t, "3", got[5])
	assert.Equal(t, "1.05", got[6])
	assert.Equal(t, "'+cash now", got[7])
	assert.Equal(t, "2026-06-01T09:00:00Z", got[8])

	assert.Equal(t, "=CMD('calc')", rec.ContactEmail, "caller's record is not modified")
}

func TestWriteCSV_SortedByCreation(t *testing.T) {
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	recs := []*orders.Record{
		{Reference: "b", State: orders.StateUnpaid, CreatedAt: at.Add(time.Hour)},
		{Reference: "a", State: orders.StateUnpaid, CreatedAt: at},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, recs))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[1][0])
	assert.Equal(t, "b", rows[2][0])
}

func TestWriteCSV_PickupSheet(t *testing.T) {
	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	paid := &orders.Record{
		Reference:    "20260601090000-0123456789abcd",
		SessionID:    "sess-1",
		ContactEmail: "alice@example.com",
		State:        orders.StatePaid,
		Area:         orders.AreaFinal,
		Items: []orders.Item{
			{ID: "a", Product: "10x15", Quantity: 3, UnitPrice: decimal.RequireFromString("0.35")},
			{ID: "b", Product: "20x30", Quantity: 1, UnitPrice: decimal.RequireFromString("3.00")},
		},
		Payment:   &orders.Payment{Method: "cash", Amount: decimal.RequireFromString("4.05")},
		CreatedAt: at,
		UpdatedAt: at.Add(90 * time.Minute),
	}
	paid.Recompute()
	unpaid := &orders.Record{
		Reference:    "20260601100000-fedcba98765432",
		SessionID:    "sess-2",
		ContactEmail: "-bob@example.com",
		State:        orders.StateUnpaid,
		Area:         orders.AreaFinal,
		Items:        []orders.Item{{ID: "c", Product: "13x18", Quantity: 2, UnitPrice: decimal.RequireFromString("0.90")}},
		CreatedAt:    at.Add(time.Hour),
		UpdatedAt:    at.Add(time.Hour),
	}
	unpaid.Recompute()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*orders.Record{unpaid, paid}))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "pickup_sheet", buf.Bytes())
}
