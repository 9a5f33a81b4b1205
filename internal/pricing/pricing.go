// Package pricing holds the per-product unit prices used to value baskets.
package pricing

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrUnknownProduct is returned for a product missing from the table.
var ErrUnknownProduct = errors.New("unknown product")

// Table maps a print product to its unit price.
type Table struct {
	Currency string
	prices   map[string]decimal.Decimal
}

// fileFormat is the YAML layout of a pricing file:
//
//	currency: EUR
//	products:
//	  "10x15": "0.35"
type fileFormat struct {
	Currency string            `yaml:"currency"`
	Products map[string]string `yaml:"products"`
}

// Default is used when no pricing file is configured.
func Default() *Table {
	return MustNew("EUR", map[string]string{
		"10x15": "0.35",
		"13x18": "0.90",
		"20x30": "3.00",
		"30x45": "7.50",
	})
}

// New builds a table from decimal strings.
func New(currency string, products map[string]string) (*Table, error) {
	t := &Table{Currency: currency, prices: make(map[string]decimal.Decimal, len(products))}
	for name, raw := range products {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price for %q: %w", name, err)
		}
		if p.IsNegative() {
			return nil, fmt.Errorf("price for %q is negative", name)
		}
		t.prices[name] = p
	}
	return t, nil
}

// MustNew is New that panics; for static tables.
func MustNew(currency string, products map[string]string) *Table {
	t, err := New(currency, products)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadFile reads a YAML pricing file.
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("pricing file %s has no products", path)
	}
	if f.Currency == "" {
		f.Currency = "EUR"
	}
	return New(f.Currency, f.Products)
}

// Price returns the unit price of product.
func (t *Table) Price(product string) (decimal.Decimal, error) {
	p, ok := t.prices[product]
	if !ok {
		return decimal.Zero, fmt.Errorf("%q: %w", product, ErrUnknownProduct)
	}
	return p, nil
}

// Products lists the known product names, sorted.
func (t *Table) Products() []string {
	out := make([]string, 0, len(t.prices))
	for name := range t.prices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
