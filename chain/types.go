package chain

import (
	"math/big"
	"net"
	"strconv"
	"strings"

	"github.com/grigorimaxim422/atom/chain/scale"
	"github.com/grigorimaxim422/atom/common"
	"github.com/pkg/errors"
)

// Header carries the fields of a substrate block header the sdk uses.
// Number arrives hex encoded.
type Header struct {
	ParentHash     string `json:"parentHash"`
	Number         string `json:"number"`
	StateRoot      string `json:"stateRoot"`
	ExtrinsicsRoot string `json:"extrinsicsRoot"`
}

func (self *Header) Height() (uint64, error) {
	h, err := strconv.ParseUint(strings.TrimPrefix(self.Number, "0x"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "header number %q", self.Number)
	}
	return h, nil
}

// RuntimeVersion is the part of state_getRuntimeVersion that goes into
// extrinsic signing payloads.
type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

// Health mirrors system_health.
type Health struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// decodeAccountNonce reads the leading nonce out of a System.Account
// value, ignoring the balance data behind it.
func decodeAccountNonce(raw []byte) (uint32, error) {
	d := scale.NewDecoder(raw)
	nonce, err := d.U32()
	if err != nil {
		return 0, errors.Wrap(err, "account info nonce")
	}
	return nonce, nil
}

// decodeAxonInfo parses the on-chain AxonInfo record.
func decodeAxonInfo(raw []byte) (*common.AxonInfo, error) {
	d := scale.NewDecoder(raw)
	block, err := d.U64()
	if err != nil {
		return nil, errors.Wrap(err, "axon block")
	}
	version, err := d.U32()
	if err != nil {
		return nil, errors.Wrap(err, "axon version")
	}
	ip, err := d.U128()
	if err != nil {
		return nil, errors.Wrap(err, "axon ip")
	}
	port, err := d.U16()
	if err != nil {
		return nil, errors.Wrap(err, "axon port")
	}
	ipType, err := d.U8()
	if err != nil {
		return nil, errors.Wrap(err, "axon ip type")
	}
	protocol, err := d.U8()
	if err != nil {
		return nil, errors.Wrap(err, "axon protocol")
	}
	// Two placeholder bytes close the record.
	if _, err := d.U8(); err != nil {
		return nil, errors.Wrap(err, "axon placeholder")
	}
	if _, err := d.U8(); err != nil {
		return nil, errors.Wrap(err, "axon placeholder")
	}
	return &common.AxonInfo{
		Block:    block,
		Version:  version,
		IP:       u128ToIP(ip, ipType),
		Port:     port,
		IPType:   ipType,
		Protocol: protocol,
	}, nil
}

func decodeBoolVec(raw []byte) ([]bool, error) {
	d := scale.NewDecoder(raw)
	n, err := d.Compact()
	if err != nil {
		return nil, errors.Wrap(err, "vec length")
	}
	if n > uint64(d.Remaining()) {
		return nil, errors.Errorf("vec of %d bools exceeds input", n)
	}
	out := make([]bool, n)
	for i := range out {
		out[i], err = d.Bool()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ipToU128 packs a textual address into the chain's integer form and
// reports its family, 4 or 6.
func ipToU128(s string) (*big.Int, uint8, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, 0, errors.Errorf("bad ip %q", s)
	}
	if v4 := ip.To4(); v4 != nil {
		return new(big.Int).SetBytes(v4), 4, nil
	}
	return new(big.Int).SetBytes(ip.To16()), 6, nil
}

func u128ToIP(v *big.Int, ipType uint8) string {
	if ipType == 4 {
		b := make([]byte, 4)
		v.FillBytes(b)
		return net.IP(b).String()
	}
	b := make([]byte, 16)
	v.FillBytes(b)
	return net.IP(b).String()
}
