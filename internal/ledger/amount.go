package ledger

import (
	"fmt"

	"lukechampine.com/uint128"
)

// amountSize is the length of the little-endian binary form of an Amount.
const amountSize = 16

// Amount is an unsigned 128-bit quantity of an asset. The zero value is a
// valid zero amount. Arithmetic on Amount never wraps.
type Amount struct {
	v uint128.Uint128
}

var (
	// ZeroAmount is the additive identity.
	ZeroAmount = Amount{}
	// MaxAmount is the largest representable amount.
	MaxAmount = Amount{v: uint128.Max}

	oneAmount = NewAmount(1)
)

// NewAmount builds an Amount from a uint64.
func NewAmount(n uint64) Amount {
	return Amount{v: uint128.From64(n)}
}

// ParseAmount parses a base-10 string.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("parse amount: empty string")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("parse amount %q: must be a non-negative integer", s)
		}
	}
	v, err := uint128.FromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{v: v}, nil
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(b.v)
}

// CheckedAdd returns a+b, or false if the sum overflows.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	sum := a.v.AddWrap(b.v)
	if sum.Cmp(a.v) < 0 {
		return Amount{}, false
	}
	return Amount{v: sum}, true
}

// CheckedSub returns a-b, or false if b is larger than a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	if a.v.Cmp(b.v) < 0 {
		return Amount{}, false
	}
	return Amount{v: a.v.SubWrap(b.v)}, true
}

func (a Amount) String() string {
	return a.v.String()
}

// MarshalText encodes the amount as a decimal string, so JSON carries
// amounts as strings and never loses precision.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.String()), nil
}

// UnmarshalText decodes a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Bytes returns the 16-byte little-endian encoding.
func (a Amount) Bytes() []byte {
	b := make([]byte, amountSize)
	a.v.PutBytes(b)
	return b
}

// AmountFromBytes decodes the output of Bytes.
func AmountFromBytes(b []byte) (Amount, error) {
	if len(b) != amountSize {
		return Amount{}, fmt.Errorf("decode amount: want %d bytes, got %d", amountSize, len(b))
	}
	return Amount{v: uint128.FromBytes(b)}, nil
}
