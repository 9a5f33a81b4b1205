package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferenceLength is the fixed length of every generated reference.
const ReferenceLength = 29

const (
	referenceTimeLayout = "20060102150405"
	referenceRandomLen  = ReferenceLength - len(referenceTimeLayout) - 1
)

// ReferenceGenerator produces order references: a UTC timestamp, a dash and
// 14 hex characters of a random UUID.
type ReferenceGenerator struct {
	nowFunc func() time.Time
	newUUID func() uuid.UUID
}

// NewReferenceGenerator returns a generator backed by the wall clock.
func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{nowFunc: time.Now, newUUID: uuid.New}
}

// NewReferenceGeneratorFrom returns a generator over the given clock and
// UUID source.
func NewReferenceGeneratorFrom(now func() time.Time, newUUID func() uuid.UUID) *ReferenceGenerator {
	return &ReferenceGenerator{nowFunc: now, newUUID: newUUID}
}

// Generate returns a new reference. Uniqueness against stored records is
// checked by the store at insertion time.
func (g *ReferenceGenerator) Generate() string {
	random := strings.ReplaceAll(g.newUUID().String(), "-", "")
	var b strings.Builder
	b.Grow(ReferenceLength)
	b.WriteString(g.nowFunc().UTC().Format(referenceTimeLayout))
	b.WriteByte('-')
	b.WriteString(random[:referenceRandomLen])
	return b.String()
}

// ValidReference reports whether ref has the generated shape.
func ValidReference(ref string) bool {
	if len(ref) != ReferenceLength || ref[len(referenceTimeLayout)] != '-' {
		return false
	}
	for i, c := range ref {
		if i == len(referenceTimeLayout) {
			continue
		}
		isDigit := c >= '0' && c <= '9'
		isHex := c >= 'a' && c <= 'f'
		if i < len(referenceTimeLayout) && !isDigit {
			return false
		}
		if i > len(referenceTimeLayout) && !isDigit && !isHex {
			return false
		}
	}
	return true
}
