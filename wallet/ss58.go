package wallet

import (
	"github.com/grigorimaxim422/atom/common"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

var ss58Pre = []byte("SS58PRE")

// EncodeSS58 renders a public key as an ss58 address under the given
// network prefix.
func EncodeSS58(pub common.AccountID, prefix uint16) string {
	var data []byte
	if prefix < 64 {
		data = []byte{byte(prefix)}
	} else {
		ident := prefix & 0x3fff
		first := 0x40 | byte((ident&0xfc)>>2)
		second := byte(ident>>8) | byte(ident&0x03)<<6
		data = []byte{first, second}
	}
	data = append(data, pub[:]...)
	sum := ss58Checksum(data)
	data = append(data, sum[:2]...)
	return base58.Encode(data)
}

// DecodeSS58 parses an ss58 address back into the raw public key and
// its network prefix, verifying the checksum.
func DecodeSS58(address string) (common.AccountID, uint16, error) {
	var pub common.AccountID
	raw, err := base58.Decode(address)
	if err != nil {
		return pub, 0, errors.Wrap(err, "decode ss58")
	}
	var prefix uint16
	var off int
	switch {
	case len(raw) == 35 && raw[0] < 64:
		prefix = uint16(raw[0])
		off = 1
	case len(raw) == 36 && raw[0] >= 64 && raw[0] < 128:
		lower := raw[0]<<2 | raw[1]>>6
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		off = 2
	default:
		return pub, 0, errors.Errorf("malformed ss58 address %s", address)
	}
	sum := ss58Checksum(raw[:off+32])
	if raw[off+32] != sum[0] || raw[off+33] != sum[1] {
		return pub, 0, errors.Errorf("ss58 checksum mismatch for %s", address)
	}
	copy(pub[:], raw[off:off+32])
	return pub, prefix, nil
}

func ss58Checksum(data []byte) [64]byte {
	input := make([]byte, 0, len(ss58Pre)+len(data))
	input = append(input, ss58Pre...)
	input = append(input, data...)
	return blake2b.Sum512(input)
}
