// Package core provides money parsing and handling utilities.
//
// Amounts are exact decimals. Two-decimal rounding is applied only where a
// figure is compared or displayed, never to stored values.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Money is an exact decimal amount in the ledger's single currency.
// The zero value is 0.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// MoneyFromInt returns a whole-unit amount.
func MoneyFromInt(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

// MoneyFromCents returns the amount cents/100.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// MoneyFromFloat converts a float. Intended for tests and literals only.
func MoneyFromFloat(f float64) Money {
	return Money{d: decimal.NewFromFloat(f)}
}

// ParseAmount parses a decimal string such as "12.34", "12,34" or "-5".
//
// Both dot and comma decimal separators are accepted. The value is kept
// exact; it is not rounded.
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{d: d}, nil
}

// ParsePositiveAmount is ParseAmount restricted to values > 0.
func ParsePositiveAmount(s string) (Money, error) {
	m, err := ParseAmount(s)
	if err != nil {
		return Zero, err
	}
	if !m.IsPositive() {
		return Zero, ErrInvalidAmount
	}
	return m, nil
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Mul multiplies by a count (e.g. number of participants).
func (m Money) Mul(n int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(n)))}
}

// Div divides by a count. The caller guarantees n != 0.
func (m Money) Div(n int) Money {
	return Money{d: m.d.Div(decimal.NewFromInt(int64(n)))}
}

// NonNegative returns max(0, m).
func (m Money) NonNegative() Money {
	if m.d.IsNegative() {
		return Zero
	}
	return m
}

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) IsZero() bool { return m.d.IsZero() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) Decimal() decimal.Decimal { return m.d }

// Round2 rounds half away from zero to two decimal places.
func (m Money) Round2() Money {
	return Money{d: m.d.Round(2)}
}

// Float64 returns the value for display purposes such as progress bars.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// String renders the amount with exactly two decimals.
func (m Money) String() string {
	return m.d.StringFixed(2)
}

// MarshalJSON writes the exact value as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.d.String()), nil
}

// UnmarshalJSON accepts a JSON number, a quoted number or null.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		m.d = decimal.Decimal{}
		return nil
	}
	if err := m.d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	return nil
}

// MarshalYAML writes the value as a plain (unquoted) scalar.
func (m Money) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: m.d.String()}, nil
}

// UnmarshalYAML parses a scalar number.
func (m *Money) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: expected scalar, line %d", ErrInvalidAmount, value.Line)
	}
	if value.Tag == "!!null" || value.Value == "" {
		m.d = decimal.Decimal{}
		return nil
	}
	d, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("%w: %q, line %d", ErrInvalidAmount, value.Value, value.Line)
	}
	m.d = d
	return nil
}
