// Package scale implements the subset of the SCALE codec needed to
// read subtensor storage and build signed extrinsics: little-endian
// fixed integers, compact integers, options, vectors and 32-byte
// account ids.
package scale

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"
)

// Encoder appends encoded values to an in-memory buffer.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (self *Encoder) Bytes() []byte { return self.buf.Bytes() }
func (self *Encoder) Len() int      { return self.buf.Len() }

func (self *Encoder) U8(v uint8) {
	self.buf.WriteByte(v)
}

func (self *Encoder) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	self.buf.Write(b[:])
}

func (self *Encoder) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	self.buf.Write(b[:])
}

func (self *Encoder) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	self.buf.Write(b[:])
}

func (self *Encoder) U128(v *big.Int) error {
	if v.Sign() < 0 || v.BitLen() > 128 {
		return errors.Errorf("value %s does not fit u128", v)
	}
	var b [16]byte
	raw := v.Bytes()
	for i, x := range raw {
		b[len(raw)-1-i] = x
	}
	self.buf.Write(b[:])
	return nil
}

func (self *Encoder) Bool(v bool) {
	if v {
		self.buf.WriteByte(1)
	} else {
		self.buf.WriteByte(0)
	}
}

// Compact writes v in SCALE compact form.
func (self *Encoder) Compact(v uint64) {
	switch {
	case v < 1<<6:
		self.buf.WriteByte(byte(v) << 2)
	case v < 1<<14:
		self.U16(uint16(v)<<2 | 0b01)
	case v < 1<<30:
		self.U32(uint32(v)<<2 | 0b10)
	default:
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint64(raw, v)
		n := 8
		for n > 4 && raw[n-1] == 0 {
			n--
		}
		self.buf.WriteByte(byte(n-4)<<2 | 0b11)
		self.buf.Write(raw[:n])
	}
}

func (self *Encoder) Bytes32(v [32]byte) {
	self.buf.Write(v[:])
}

// Raw appends bytes without a length prefix.
func (self *Encoder) Raw(b []byte) {
	self.buf.Write(b)
}

// VecU8 writes a Vec<u8>, compact length then the bytes.
func (self *Encoder) VecU8(b []byte) {
	self.Compact(uint64(len(b)))
	self.buf.Write(b)
}

func (self *Encoder) OptionNone() {
	self.buf.WriteByte(0)
}

func (self *Encoder) OptionSome() {
	self.buf.WriteByte(1)
}

// Decoder reads encoded values off a byte slice.
type Decoder struct {
	data []byte
	off  int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

func (self *Decoder) Remaining() int {
	return len(self.data) - self.off
}

func (self *Decoder) take(n int) ([]byte, error) {
	if self.Remaining() < n {
		return nil, errors.Errorf("scale: need %d bytes, have %d", n, self.Remaining())
	}
	b := self.data[self.off : self.off+n]
	self.off += n
	return b, nil
}

func (self *Decoder) U8() (uint8, error) {
	b, err := self.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (self *Decoder) U16() (uint16, error) {
	b, err := self.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (self *Decoder) U32() (uint32, error) {
	b, err := self.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (self *Decoder) U64() (uint64, error) {
	b, err := self.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (self *Decoder) U128() (*big.Int, error) {
	b, err := self.take(16)
	if err != nil {
		return nil, err
	}
	be := make([]byte, 16)
	for i, x := range b {
		be[15-i] = x
	}
	return new(big.Int).SetBytes(be), nil
}

func (self *Decoder) Bool() (bool, error) {
	b, err := self.U8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Errorf("scale: invalid bool byte %#x", b)
	}
}

func (self *Decoder) Compact() (uint64, error) {
	first, err := self.U8()
	if err != nil {
		return 0, err
	}
	switch first & 0b11 {
	case 0b00:
		return uint64(first >> 2), nil
	case 0b01:
		second, err := self.U8()
		if err != nil {
			return 0, err
		}
		return (uint64(first) | uint64(second)<<8) >> 2, nil
	case 0b10:
		rest, err := self.take(3)
		if err != nil {
			return 0, err
		}
		v := uint64(first) | uint64(rest[0])<<8 | uint64(rest[1])<<16 | uint64(rest[2])<<24
		return v >> 2, nil
	default:
		n := int(first>>2) + 4
		if n > 8 {
			return 0, errors.Errorf("scale: compact of %d bytes does not fit u64", n)
		}
		raw, err := self.take(n)
		if err != nil {
			return 0, err
		}
		var v uint64
		for i, x := range raw {
			v |= uint64(x) << (8 * i)
		}
		return v, nil
	}
}

func (self *Decoder) Bytes32() ([32]byte, error) {
	var out [32]byte
	b, err := self.take(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (self *Decoder) Raw(n int) ([]byte, error) {
	b, err := self.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// VecU8 reads a compact length and that many bytes.
func (self *Decoder) VecU8() ([]byte, error) {
	n, err := self.Compact()
	if err != nil {
		return nil, err
	}
	if n > uint64(self.Remaining()) {
		return nil, errors.Errorf("scale: vec of %d bytes exceeds input", n)
	}
	return self.Raw(int(n))
}

// Option reads the presence tag of an Option<T>.
func (self *Decoder) Option() (bool, error) {
	b, err := self.U8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.Errorf("scale: invalid option byte %#x", b)
	}
}
