package protocol

import (
	"encoding/binary"
	"fmt"
)

// Bitcoin-style CompactSize varint, minimal encodings only. Branch and
// template serialization uses it for all variable-length fields.

func AppendCompactSize(dst []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xfd)
		var b2 [2]byte
		binary.LittleEndian.PutUint16(b2[:], uint16(n))
		return append(dst, b2[:]...)
	case n <= 0xffff_ffff:
		dst = append(dst, 0xfe)
		var b4 [4]byte
		binary.LittleEndian.PutUint32(b4[:], uint32(n))
		return append(dst, b4[:]...)
	default:
		dst = append(dst, 0xff)
		var b8 [8]byte
		binary.LittleEndian.PutUint64(b8[:], n)
		return append(dst, b8[:]...)
	}
}

func AppendU32le(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func AppendU64le(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

type cursor struct {
	b   []byte
	pos int
}

func newCursor(b []byte) *cursor {
	return &cursor{b: b}
}

func (c *cursor) remaining() int {
	if c.pos >= len(c.b) {
		return 0
	}
	return len(c.b) - c.pos
}

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, derr(TPL_ERR_PARSE, "truncated")
	}
	start := c.pos
	c.pos += n
	return c.b[start:c.pos], nil
}

func (c *cursor) readU8() (byte, error) {
	b, err := c.readExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) readU32LE() (uint32, error) {
	b, err := c.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readU64LE() (uint64, error) {
	b, err := c.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) readHash() ([32]byte, error) {
	var out [32]byte
	b, err := c.readExact(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (c *cursor) readCompactSize() (uint64, error) {
	tag, err := c.readU8()
	if err != nil {
		return 0, err
	}
	switch {
	case tag < 0xfd:
		return uint64(tag), nil
	case tag == 0xfd:
		b, err := c.readExact(2)
		if err != nil {
			return 0, err
		}
		n := uint64(binary.LittleEndian.Uint16(b))
		if n < 0xfd {
			return 0, derr(TPL_ERR_PARSE, "compactsize: non-minimal u16")
		}
		return n, nil
	case tag == 0xfe:
		b, err := c.readExact(4)
		if err != nil {
			return 0, err
		}
		n := uint64(binary.LittleEndian.Uint32(b))
		if n < 0x1_0000 {
			return 0, derr(TPL_ERR_PARSE, "compactsize: non-minimal u32")
		}
		return n, nil
	default:
		b, err := c.readExact(8)
		if err != nil {
			return 0, err
		}
		n := binary.LittleEndian.Uint64(b)
		if n < 0x1_0000_0000 {
			return 0, derr(TPL_ERR_PARSE, "compactsize: non-minimal u64")
		}
		return n, nil
	}
}

func (c *cursor) readVarBytes(max uint64, name string) ([]byte, error) {
	n, err := c.readCompactSize()
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, derr(TPL_ERR_PARSE, fmt.Sprintf("%s length %d exceeds max %d", name, n, max))
	}
	b, err := c.readExact(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
