package types

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// DecimalScale is the number of fractional digits carried by a Decimal.
const DecimalScale = 18

var (
	// ErrDecimalOverflow is returned when an operation exceeds 256 bits.
	ErrDecimalOverflow = errors.New("decimal overflow")

	// ErrDecimalUnderflow is returned when a subtraction would go negative.
	ErrDecimalUnderflow = errors.New("decimal underflow")

	// ErrInvalidDecimal is returned for malformed decimal strings.
	ErrInvalidDecimal = errors.New("invalid decimal")
)

var decimalOne = uint256.NewInt(1_000_000_000_000_000_000)

// Decimal is a non-negative fixed point number with 18 fractional digits.
// The zero value is 0.
type Decimal struct {
	v uint256.Int
}

// ZeroDecimal is the decimal 0.
var ZeroDecimal = Decimal{}

// NewDecimal returns the decimal for a whole number of units.
func NewDecimal(units uint64) Decimal {
	var d Decimal
	d.v.Mul(uint256.NewInt(units), decimalOne)
	return d
}

// DecimalFromAttos returns the decimal whose smallest-unit value is attos.
func DecimalFromAttos(attos uint64) Decimal {
	var d Decimal
	d.v.SetUint64(attos)
	return d
}

// ParseDecimal parses a string such as "12", "0.96" or "10.1".
func ParseDecimal(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("%w: empty string", ErrInvalidDecimal)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > DecimalScale {
		return Decimal{}, fmt.Errorf("%w: more than %d fractional digits in %q", ErrInvalidDecimal, DecimalScale, s)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
		}
	}

	w, err := uint256.FromDecimal(whole)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, s, err)
	}
	var d Decimal
	if _, overflow := d.v.MulOverflow(w, decimalOne); overflow {
		return Decimal{}, ErrDecimalOverflow
	}
	if frac != "" {
		f, err := uint256.FromDecimal(frac + strings.Repeat("0", DecimalScale-len(frac)))
		if err != nil {
			return Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, s, err)
		}
		if _, overflow := d.v.AddOverflow(&d.v, f); overflow {
			return Decimal{}, ErrDecimalOverflow
		}
	}
	return d, nil
}

// MustParseDecimal parses a decimal or panics.
// Only use for constants and tests.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(fmt.Sprintf("invalid decimal constant %q: %v", s, err))
	}
	return d
}

// CheckedAdd returns d + o.
func (d Decimal) CheckedAdd(o Decimal) (Decimal, error) {
	var r Decimal
	if _, overflow := r.v.AddOverflow(&d.v, &o.v); overflow {
		return Decimal{}, ErrDecimalOverflow
	}
	return r, nil
}

// CheckedSub returns d - o.
func (d Decimal) CheckedSub(o Decimal) (Decimal, error) {
	var r Decimal
	if _, underflow := r.v.SubOverflow(&d.v, &o.v); underflow {
		return Decimal{}, ErrDecimalUnderflow
	}
	return r, nil
}

// CheckedMulUint64 returns d * n.
func (d Decimal) CheckedMulUint64(n uint64) (Decimal, error) {
	var r Decimal
	if _, overflow := r.v.MulOverflow(&d.v, uint256.NewInt(n)); overflow {
		return Decimal{}, ErrDecimalOverflow
	}
	return r, nil
}

// Percent returns d * pct / 100, rounded down to the smallest unit.
func (d Decimal) Percent(pct uint64) (Decimal, error) {
	r, err := d.CheckedMulUint64(pct)
	if err != nil {
		return Decimal{}, err
	}
	r.v.Div(&r.v, uint256.NewInt(100))
	return r, nil
}

// Cmp compares d and o and returns -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int {
	return d.v.Cmp(&o.v)
}

// LessThan returns true if d < o.
func (d Decimal) LessThan(o Decimal) bool {
	return d.v.Lt(&o.v)
}

// IsZero returns true if d == 0.
func (d Decimal) IsZero() bool {
	return d.v.IsZero()
}

// Equal returns true if d == o.
func (d Decimal) Equal(o Decimal) bool {
	return d.v.Eq(&o.v)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// String formats the decimal without trailing fractional zeros.
func (d Decimal) String() string {
	var q, r uint256.Int
	q.DivMod(&d.v, decimalOne, &r)
	if r.IsZero() {
		return q.Dec()
	}
	frac := r.Dec()
	frac = strings.Repeat("0", DecimalScale-len(frac)) + frac
	return q.Dec() + "." + strings.TrimRight(frac, "0")
}

// MarshalText implements encoding.TextMarshaler.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := ParseDecimal(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// GobEncode implements gob.GobEncoder.
func (d Decimal) GobEncode() ([]byte, error) {
	return d.v.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (d *Decimal) GobDecode(b []byte) error {
	if len(b) > 32 {
		return ErrDecimalOverflow
	}
	d.v.SetBytes(b)
	return nil
}

// EncodeRLP implements rlp.Encoder.
func (d Decimal) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, d.v.ToBig())
}

// DecodeRLP implements rlp.Decoder.
func (d *Decimal) DecodeRLP(s *rlp.Stream) error {
	b, err := s.BigInt()
	if err != nil {
		return err
	}
	if overflow := d.v.SetFromBig(b); overflow {
		return ErrDecimalOverflow
	}
	return nil
}
