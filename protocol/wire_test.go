package protocol

import (
	"bytes"
	"testing"
)

func TestCompactSizeRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x1_0000, 0xffff_ffff, 0x1_0000_0000}
	for _, v := range values {
		enc := AppendCompactSize(nil, v)
		c := newCursor(enc)
		got, err := c.readCompactSize()
		if err != nil {
			t.Fatalf("value %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round-trip %d -> %d", v, got)
		}
		if c.remaining() != 0 {
			t.Fatalf("value %d: %d bytes left", v, c.remaining())
		}
	}
}

func TestCompactSizeBoundaryWidths(t *testing.T) {
	cases := []struct {
		v    uint64
		size int
	}{
		{0xfc, 1},
		{0xfd, 3},
		{0xffff, 3},
		{0x1_0000, 5},
		{0xffff_ffff, 5},
		{0x1_0000_0000, 9},
	}
	for _, tc := range cases {
		if got := len(AppendCompactSize(nil, tc.v)); got != tc.size {
			t.Fatalf("value %#x encoded in %d bytes, want %d", tc.v, got, tc.size)
		}
	}
}

func TestCompactSizeRejectsNonMinimal(t *testing.T) {
	cases := []struct {
		name string
		enc  []byte
	}{
		{"u16 carrying 0xfc", []byte{0xfd, 0xfc, 0x00}},
		{"u32 carrying 0xffff", []byte{0xfe, 0xff, 0xff, 0x00, 0x00}},
		{"u64 carrying 0xffffffff", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, tc := range cases {
		_, err := newCursor(tc.enc).readCompactSize()
		if CodeOf(err) != TPL_ERR_PARSE {
			t.Fatalf("%s: err = %v, want TPL_ERR_PARSE", tc.name, err)
		}
	}
}

func TestCompactSizeTruncated(t *testing.T) {
	for _, enc := range [][]byte{{}, {0xfd}, {0xfd, 0x01}, {0xfe, 0x01, 0x02}, {0xff, 0x01}} {
		if _, err := newCursor(enc).readCompactSize(); err == nil {
			t.Fatalf("truncated encoding %x accepted", enc)
		}
	}
}

func TestVarBytesBounds(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 16)
	enc := AppendCompactSize(nil, uint64(len(payload)))
	enc = append(enc, payload...)

	got, err := newCursor(enc).readVarBytes(16, "field")
	if err != nil {
		t.Fatalf("readVarBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-trip mismatch: %x", got)
	}

	if _, err := newCursor(enc).readVarBytes(15, "field"); CodeOf(err) != TPL_ERR_PARSE {
		t.Fatalf("over-limit err = %v, want TPL_ERR_PARSE", err)
	}
}
