package chain

import (
	"github.com/grigorimaxim422/atom/chain/scale"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/wallet"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Call indices of the stock subtensor runtime: pallet 7 is
// SubtensorModule. Deployments on custom runtimes override these via
// config.
var (
	defaultSetWeightsCall = [2]byte{0x07, 0x00}
	defaultServeAxonCall  = [2]byte{0x07, 0x04}
)

// extrinsicParams is everything besides the call that goes into a v4
// signed extrinsic with an immortal era.
type extrinsicParams struct {
	call        []byte
	nonce       uint64
	tip         uint64
	specVersion uint32
	txVersion   uint32
	genesisHash [32]byte

	// metadataHash marks runtimes carrying the CheckMetadataHash
	// extension; the extrinsic then opts out with the disabled mode.
	metadataHash bool
}

// signingPayload is the byte string the sender signs: call, extra,
// then the additional data the chain checks but never ships.
func signingPayload(p *extrinsicParams) []byte {
	e := scale.NewEncoder()
	e.Raw(p.call)
	e.U8(0) // immortal era
	e.Compact(p.nonce)
	e.Compact(p.tip)
	if p.metadataHash {
		e.U8(0) // mode: disabled
	}
	e.U32(p.specVersion)
	e.U32(p.txVersion)
	e.Bytes32(p.genesisHash)
	e.Bytes32(p.genesisHash) // checkpoint hash, genesis when immortal
	if p.metadataHash {
		e.OptionNone()
	}
	payload := e.Bytes()
	// Long payloads are signed through their digest.
	if len(payload) > 256 {
		digest := blake2b.Sum256(payload)
		payload = digest[:]
	}
	return payload
}

func signatureVariant(keyType string) (uint8, error) {
	switch keyType {
	case wallet.KeyTypeEd25519:
		return 0, nil
	case wallet.KeyTypeSr25519:
		return 1, nil
	default:
		return 0, errors.Errorf("no MultiSignature variant for %s", keyType)
	}
}

// signExtrinsic assembles the length-prefixed wire form of a signed v4
// extrinsic.
func signExtrinsic(kp wallet.Keypair, p *extrinsicParams) ([]byte, error) {
	variant, err := signatureVariant(kp.Type())
	if err != nil {
		return nil, err
	}
	sig, err := kp.Sign(signingPayload(p))
	if err != nil {
		return nil, errors.Wrap(err, "sign extrinsic")
	}

	body := scale.NewEncoder()
	body.U8(0x84) // version 4, signed
	body.U8(0x00) // MultiAddress::Id
	body.Bytes32(kp.PublicKey())
	body.U8(variant)
	body.Raw(sig)
	body.U8(0) // era
	body.Compact(p.nonce)
	body.Compact(p.tip)
	if p.metadataHash {
		body.U8(0)
	}
	body.Raw(p.call)

	out := scale.NewEncoder()
	out.VecU8(body.Bytes())
	return out.Bytes(), nil
}

func encodeSetWeights(idx [2]byte, netuid common.NetUID, uids []common.UID, weights []uint16, versionKey uint64) []byte {
	e := scale.NewEncoder()
	e.Raw(idx[:])
	e.U16(uint16(netuid))
	e.Compact(uint64(len(uids)))
	for _, u := range uids {
		e.U16(uint16(u))
	}
	e.Compact(uint64(len(weights)))
	for _, w := range weights {
		e.U16(w)
	}
	e.U64(versionKey)
	return e.Bytes()
}

func encodeServeAxon(idx [2]byte, netuid common.NetUID, axon *common.AxonInfo) ([]byte, error) {
	ip, ipType, err := ipToU128(axon.IP)
	if err != nil {
		return nil, err
	}
	e := scale.NewEncoder()
	e.Raw(idx[:])
	e.U16(uint16(netuid))
	e.U32(axon.Version)
	if err := e.U128(ip); err != nil {
		return nil, err
	}
	e.U16(axon.Port)
	e.U8(ipType)
	e.U8(axon.Protocol)
	e.U8(0) // placeholder1
	e.U8(0) // placeholder2
	return e.Bytes(), nil
}
