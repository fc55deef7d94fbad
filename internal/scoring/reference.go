package scoring

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed references.yaml
var defaultReferences []byte

// ReferenceLookup returns the expected price for a procedure category
type ReferenceLookup interface {
	Lookup(category string) (decimal.Decimal, bool)
}

// ReferenceTable is a static procedure-code to price table with a fallback
type ReferenceTable struct {
	defaultPrice decimal.NullDecimal
	prices       map[string]decimal.Decimal
}

type referenceFile struct {
	Default    string            `yaml:"default"`
	Procedures map[string]string `yaml:"procedures"`
}

// DefaultReferences returns the built-in reference table
func DefaultReferences() *ReferenceTable {
	t, err := ParseReferences(defaultReferences)
	if err != nil {
		panic(fmt.Sprintf("embedded reference table: %v", err))
	}
	return t
}

// LoadReferences reads a reference table from a YAML file
func LoadReferences(path string) (*ReferenceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reference table: %w", err)
	}
	return ParseReferences(data)
}

// ParseReferences decodes a YAML reference table
func ParseReferences(data []byte) (*ReferenceTable, error) {
	var f referenceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding reference table: %w", err)
	}

	t := &ReferenceTable{prices: make(map[string]decimal.Decimal, len(f.Procedures))}
	if f.Default != "" {
		d, err := parsePrice(f.Default)
		if err != nil {
			return nil, fmt.Errorf("default price: %w", err)
		}
		t.defaultPrice = decimal.NewNullDecimal(d)
	}
	for code, price := range f.Procedures {
		d, err := parsePrice(price)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", code, err)
		}
		t.prices[normalizeCode(code)] = d
	}
	return t, nil
}

// WithDefault returns a copy of the table using a different fallback price
func (t *ReferenceTable) WithDefault(price decimal.Decimal) *ReferenceTable {
	return &ReferenceTable{
		defaultPrice: decimal.NewNullDecimal(price),
		prices:       t.prices,
	}
}

// Lookup returns the price for a procedure code, falling back to the default
// price for unknown or empty codes.
func (t *ReferenceTable) Lookup(category string) (decimal.Decimal, bool) {
	if p, ok := t.prices[normalizeCode(category)]; ok {
		return p, true
	}
	if t.defaultPrice.Valid {
		return t.defaultPrice.Decimal, true
	}
	return decimal.Zero, false
}

func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("price %q must be positive", s)
	}
	return d, nil
}

func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(code, "CPT")), "#")
}
