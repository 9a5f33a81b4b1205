package store

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

// Sanitize returns a copy of rec whose string fields are safe to flatten
// into spreadsheet-like exports. Values starting with a formula trigger
// (= + - @) or a control character get a leading apostrophe; embedded
// CR, LF and TAB become spaces and other control characters are dropped.
func Sanitize(rec *orders.Record) *orders.Record {
	c := rec.Clone()
	c.Reference = SanitizeField(c.Reference)
	c.SessionID = SanitizeField(c.SessionID)
	c.ContactEmail = SanitizeField(c.ContactEmail)
	for i := range c.Items {
		c.Items[i].ID = SanitizeField(c.Items[i].ID)
		c.Items[i].Product = SanitizeField(c.Items[i].Product)
	}
	if c.Payment != nil {
		c.Payment.Method = SanitizeField(c.Payment.Method)
	}
	return c
}

// SanitizeField neutralises one value. The apostrophe is decided on the
// cleaned value, so dropping a leading control character cannot expose a
// formula trigger.
func SanitizeField(v string) string {
	if v == "" {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 1)
	for _, r := range v {
		switch {
		case r == '\r' || r == '\n' || r == '\t':
			b.WriteByte(' ')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	clean := b.String()

	first, _ := utf8.DecodeRuneInString(v)
	if unicode.IsControl(first) || (clean != "" && strings.IndexByte("=+-@", clean[0]) >= 0) {
		return "'" + clean
	}
	return clean
}
