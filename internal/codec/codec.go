// Package codec decodes the fixed-size, little-endian account layouts used
// by the on-chain program into pkg/types values. Every layout here mirrors a
// construct.Struct in the program's Python client: field order, widths, and
// padding must match exactly or the decode silently reads garbage.
package codec

import (
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MalformedAccountDataError is returned whenever an account's byte length or
// internal structure doesn't match the layout being decoded.
type MalformedAccountDataError struct {
	Layout string
	Reason string
}

func (e *MalformedAccountDataError) Error() string {
	return fmt.Sprintf("malformed %s account data: %s", e.Layout, e.Reason)
}

// reader wraps a bin.Decoder with layout-aware error wrapping. Every layout
// struct in this package decodes through one of these rather than touching
// encoding/binary directly.
type reader struct {
	layout string
	dec    *bin.Decoder
}

func newReader(layout string, data []byte) *reader {
	return &reader{layout: layout, dec: bin.NewBinDecoder(data)}
}

func (r *reader) fail(reason string) error {
	return &MalformedAccountDataError{Layout: r.layout, Reason: reason}
}

func (r *reader) bytes(n int) ([]byte, error) {
	b, err := r.dec.ReadNBytes(n)
	if err != nil {
		return nil, r.fail(err.Error())
	}
	return b, nil
}

// pubkey decodes a 32-byte public key, the PublicKeyAdapter of the original
// layout.
func (r *reader) pubkey() (solana.PublicKey, error) {
	b, err := r.bytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	var pk solana.PublicKey
	copy(pk[:], b)
	return pk, nil
}

// fixedPoint decodes a size-byte little-endian integer and divides it by
// 2^(size*8/2), the FloatAdapter of the original layout: the fixed point
// always sits at the exact middle of the bit width.
func (r *reader) fixedPoint(size int) (decimal.Decimal, error) {
	b, err := r.bytes(size)
	if err != nil {
		return decimal.Zero, err
	}
	raw := leBytesToBigDecimal(b)
	// 2^(bit_width/2) == 2^(4*size): the fixed point sits at the exact
	// middle of the field's bit width.
	return raw.Div(powerOfTwo(4 * size)), nil
}

func powerOfTwo(exp int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	two := decimal.NewFromInt(2)
	for i := 0; i < exp; i++ {
		result = result.Mul(two)
	}
	return result
}

// plainInt decodes a size-byte little-endian unsigned integer, the
// DecimalAdapter of the original layout (no fixed-point scaling).
func (r *reader) plainInt(size int) (decimal.Decimal, error) {
	b, err := r.bytes(size)
	if err != nil {
		return decimal.Zero, err
	}
	return leBytesToBigDecimal(b), nil
}

// unixTime decodes an 8-byte little-endian unix timestamp, the
// DatetimeAdapter of the original layout.
func (r *reader) unixTime() (time.Time, error) {
	b, err := r.bytes(8)
	if err != nil {
		return time.Time{}, err
	}
	secs := int64(0)
	for i := len(b) - 1; i >= 0; i-- {
		secs = secs<<8 | int64(b[i])
	}
	return time.Unix(secs, 0).UTC(), nil
}

// accountFlags decodes an 8-byte bit-swapped flag word: bit 0 of byte 0 is
// the first named flag, matching construct's BitsSwapped(BitStruct(...)).
func (r *reader) accountFlags() (AccountFlags, error) {
	b, err := r.bytes(8)
	if err != nil {
		return AccountFlags{}, err
	}
	return AccountFlags{bits: b[0]}, nil
}

func (r *reader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func leBytesToBigDecimal(b []byte) decimal.Decimal {
	acc := decimal.Zero
	base := decimal.NewFromInt(256)
	mult := decimal.NewFromInt(1)
	for _, by := range b {
		acc = acc.Add(mult.Mul(decimal.NewFromInt(int64(by))))
		mult = mult.Mul(base)
	}
	return acc
}

// AccountFlags is the MANGO_ACCOUNT_FLAGS / SERUM_ACCOUNT_FLAGS bit field:
// an 8-byte word where only the low byte carries flags, one bit per name, in
// declaration order (bit 0 = first field).
type AccountFlags struct {
	bits byte
}

func (f AccountFlags) has(bit uint) bool { return f.bits&(1<<bit) != 0 }

func (f AccountFlags) Initialized() bool  { return f.has(0) }
func (f AccountFlags) IsGroup() bool      { return f.has(1) }
func (f AccountFlags) IsMarginAccount() bool { return f.has(2) }
func (f AccountFlags) IsSRMAccount() bool { return f.has(3) }

func (f AccountFlags) Market() bool      { return f.has(1) }
func (f AccountFlags) OpenOrders() bool  { return f.has(2) }
func (f AccountFlags) RequestQueue() bool { return f.has(3) }
func (f AccountFlags) EventQueue() bool  { return f.has(4) }
func (f AccountFlags) Bids() bool        { return f.has(5) }
func (f AccountFlags) Asks() bool        { return f.has(6) }
func (f AccountFlags) Disabled() bool    { return f.has(7) }
