// Package export writes order records for spreadsheet consumers.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/store"
)

// Header is the first CSV row.
var Header = []string{
	"reference", "session_id", "state", "contact_email", "lines", "photos",
	"amount_total", "payment_method", "created_at", "updated_at",
}

// WriteCSV writes recs sorted by creation time. Every record goes through
// store.Sanitize first so no cell can be read as a formula.
func WriteCSV(w io.Writer, recs []*orders.Record) error {
	sorted := make([]*orders.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].Reference < sorted[j].Reference
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range sorted {
		if err := cw.Write(row(store.Sanitize(rec))); err != nil {
			return fmt.Errorf("write %s: %w", rec.Reference, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(r *orders.Record) []string {
	method := ""
	if r.Payment != nil {
		method = r.Payment.Method
	}
	return []string{
		r.Reference,
		r.SessionID,
		string(r.State),
		r.ContactEmail,
		strconv.Itoa(len(r.Items)),
		strconv.Itoa(r.PhotoCount()),
		r.AmountTotal.StringFixed(2),
		method,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
