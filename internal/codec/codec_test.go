package codec

import (
	"encoding/binary"
	"testing"

	"github.com/shopspring/decimal"
)

// encodeLE appends a little-endian unsigned integer of the given byte width.
func encodeLE(buf []byte, v uint64, width int) []byte {
	b := make([]byte, width)
	for i := 0; i < width && i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return append(buf, b...)
}

func TestFixedPoint_RoundTripsWholeNumbers(t *testing.T) {
	// FloatAdapter(16): fixed point sits at bit 64 of a 128-bit field, i.e.
	// divisor 2^64. Encoding N as N<<64 should decode back to N.
	tests := []uint64{0, 1, 42, 1000000}
	for _, want := range tests {
		var buf []byte
		// low 8 bytes are the fractional part (zero), high 8 bytes are the
		// integer part.
		buf = encodeLE(buf, 0, 8)
		buf = encodeLE(buf, want, 8)
		r := newReader("TEST", buf)
		got, err := r.fixedPoint(16)
		if err != nil {
			t.Fatalf("fixedPoint(%d): %v", want, err)
		}
		if !got.Equal(decimal.NewFromInt(int64(want))) {
			t.Errorf("fixedPoint round trip: got %s, want %d", got, want)
		}
	}
}

func TestFixedPoint_Half(t *testing.T) {
	// 2^63 in the low word == 0.5 once divided by 2^64.
	var buf []byte
	buf = encodeLE(buf, 1<<63, 8)
	buf = encodeLE(buf, 0, 8)
	r := newReader("TEST", buf)
	got, err := r.fixedPoint(16)
	if err != nil {
		t.Fatalf("fixedPoint: %v", err)
	}
	if !got.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("fixedPoint(0.5 encoding) = %s, want 0.5", got)
	}
}

func TestPlainInt_DecodesLittleEndian(t *testing.T) {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, 123456789)
	r := newReader("TEST", buf)
	got, err := r.plainInt(8)
	if err != nil {
		t.Fatalf("plainInt: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(123456789)) {
		t.Errorf("plainInt = %s, want 123456789", got)
	}
}

func TestReader_RejectsShortBuffer(t *testing.T) {
	r := newReader("TEST", []byte{1, 2, 3})
	if _, err := r.bytes(8); err == nil {
		t.Fatal("expected error reading past end of buffer")
	} else if _, ok := err.(*MalformedAccountDataError); !ok {
		t.Errorf("expected *MalformedAccountDataError, got %T", err)
	}
}

func TestAccountFlags_BitOrderMatchesDeclaration(t *testing.T) {
	// bit 0 = initialized, bit 2 = margin_account, per MANGO_ACCOUNT_FLAGS.
	buf := make([]byte, 8)
	buf[0] = 0b0000_0101 // initialized + margin_account
	r := newReader("TEST", buf)
	flags, err := r.accountFlags()
	if err != nil {
		t.Fatalf("accountFlags: %v", err)
	}
	if !flags.Initialized() || !flags.IsMarginAccount() {
		t.Errorf("expected initialized+margin_account set, got %+v", flags)
	}
	if flags.IsGroup() || flags.IsSRMAccount() {
		t.Errorf("expected group/srm bits clear, got %+v", flags)
	}
}

func TestUnixTime_DecodesSecondsSinceEpoch(t *testing.T) {
	var buf []byte
	buf = encodeLE(buf, 1700000000, 8)
	r := newReader("TEST", buf)
	got, err := r.unixTime()
	if err != nil {
		t.Fatalf("unixTime: %v", err)
	}
	if got.Unix() != 1700000000 {
		t.Errorf("unixTime = %d, want 1700000000", got.Unix())
	}
}
