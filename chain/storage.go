package chain

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
	"github.com/grigorimaxim422/atom/chain/scale"
	"github.com/grigorimaxim422/atom/common"
	"golang.org/x/crypto/blake2b"
)

// StorageKey addresses one entry of the remote chain state:
// twox128(pallet) then twox128(item), then one hashed segment per map
// key in the pallet's declared hasher.
type StorageKey []byte

func (self StorageKey) Hex() string {
	return "0x" + hex.EncodeToString(self)
}

func storageKey(pallet, item string, segments ...[]byte) StorageKey {
	key := twox128([]byte(pallet))
	key = append(key, twox128([]byte(item))...)
	for _, s := range segments {
		key = append(key, s...)
	}
	return key
}

// twox128 is two seeded xxhash64 passes laid out little endian.
func twox128(data []byte) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:8], xxhashSeed(data, 0))
	binary.LittleEndian.PutUint64(out[8:16], xxhashSeed(data, 1))
	return out
}

// twox64Concat hashes for lookup but keeps the key readable on chain.
func twox64Concat(data []byte) []byte {
	out := make([]byte, 8, 8+len(data))
	binary.LittleEndian.PutUint64(out, xxhashSeed(data, 0))
	return append(out, data...)
}

func blake2128Concat(data []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err)
	}
	h.Write(data)
	return append(h.Sum(nil), data...)
}

func xxhashSeed(data []byte, seed uint64) uint64 {
	h := xxhash.NewWithSeed(seed)
	h.Write(data)
	return h.Sum64()
}

func encU16(v uint16) []byte {
	e := scale.NewEncoder()
	e.U16(v)
	return e.Bytes()
}

// Keys of the SubtensorModule and System pallets this sdk reads.
func keySubnetworkN(netuid common.NetUID) StorageKey {
	return storageKey("SubtensorModule", "SubnetworkN", twox64Concat(encU16(uint16(netuid))))
}

func keyUids(netuid common.NetUID, account common.AccountID) StorageKey {
	return storageKey("SubtensorModule", "Uids",
		twox64Concat(encU16(uint16(netuid))), blake2128Concat(account.Bytes()))
}

func keyKeys(netuid common.NetUID, uid common.UID) StorageKey {
	return storageKey("SubtensorModule", "Keys",
		twox64Concat(encU16(uint16(netuid))), twox64Concat(encU16(uint16(uid))))
}

func keyTotalHotkeyStake(account common.AccountID) StorageKey {
	return storageKey("SubtensorModule", "TotalHotkeyStake", blake2128Concat(account.Bytes()))
}

func keyAxons(netuid common.NetUID, account common.AccountID) StorageKey {
	return storageKey("SubtensorModule", "Axons",
		twox64Concat(encU16(uint16(netuid))), blake2128Concat(account.Bytes()))
}

func keyTempo(netuid common.NetUID) StorageKey {
	return storageKey("SubtensorModule", "Tempo", twox64Concat(encU16(uint16(netuid))))
}

func keyValidatorPermit(netuid common.NetUID) StorageKey {
	return storageKey("SubtensorModule", "ValidatorPermit", twox64Concat(encU16(uint16(netuid))))
}

func keySystemAccount(account common.AccountID) StorageKey {
	return storageKey("System", "Account", blake2128Concat(account.Bytes()))
}
