package wallet

import (
	"testing"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
)

// Well known substrate dev account.
const (
	alicePubHex = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	aliceSS58   = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	devMnemonic = "bottom drive obey lake curtain smoke basket hold race lonely fit walk"
	devSS58     = "5DfhGyQdFobKM8NsWvEeAKk5EQQgYe9AydgJ7rMB6E1EqRzV"
	testPrefix  = uint16(42)
	otherMnem   = "legal winner thank year wave sausage worth useful legal winner thank yellow"
)

func TestSS58RoundTrip(t *testing.T) {
	pub, err := common.HexToAccountID(alicePubHex)
	if err != nil {
		t.Fatal(err)
	}
	addr := EncodeSS58(pub, testPrefix)
	if addr != aliceSS58 {
		t.Error("encode", addr)
	}
	got, prefix, err := DecodeSS58(aliceSS58)
	if err != nil {
		t.Fatal(err)
	}
	if got != pub {
		t.Error("decode pubkey", got.Hex())
	}
	if prefix != testPrefix {
		t.Error("decode prefix", prefix)
	}
}

func TestSS58RejectsCorruption(t *testing.T) {
	broken := []byte(aliceSS58)
	broken[10] = 'z'
	if _, _, err := DecodeSS58(string(broken)); err == nil {
		t.Error("corrupted address must not decode")
	}
}

func TestSS58TwoBytePrefix(t *testing.T) {
	pub, _ := common.HexToAccountID(alicePubHex)
	addr := EncodeSS58(pub, 4242)
	got, prefix, err := DecodeSS58(addr)
	if err != nil {
		t.Fatal(err)
	}
	if got != pub || prefix != 4242 {
		t.Error("two byte prefix round trip", got.Hex(), prefix)
	}
}

func TestDevMnemonicDerivation(t *testing.T) {
	seed, err := SeedFromMnemonic(KeyTypeSr25519, devMnemonic)
	if err != nil {
		t.Fatal(err)
	}
	kp, err := NewKeypair(KeyTypeSr25519, seed)
	if err != nil {
		t.Fatal(err)
	}
	if kp.SS58(testPrefix) != devSS58 {
		t.Error("dev address", kp.SS58(testPrefix))
	}
}

func TestSignVerify(t *testing.T) {
	for _, keyType := range []string{KeyTypeSr25519, KeyTypeEd25519} {
		seed, err := SeedFromMnemonic(keyType, otherMnem)
		if err != nil {
			t.Fatal(keyType, err)
		}
		kp, err := NewKeypair(keyType, seed)
		if err != nil {
			t.Fatal(keyType, err)
		}
		msg := []byte("weights for epoch 12")
		sig, err := kp.Sign(msg)
		if err != nil {
			t.Fatal(keyType, err)
		}
		if len(sig) != 64 {
			t.Error(keyType, "signature length", len(sig))
		}
		if !kp.Verify(msg, sig) {
			t.Error(keyType, "own signature must verify")
		}
		if kp.Verify([]byte("weights for epoch 13"), sig) {
			t.Error(keyType, "other message must not verify")
		}
		sig[0] ^= 0xff
		if kp.Verify(msg, sig) {
			t.Error(keyType, "mangled signature must not verify")
		}
	}
}

func TestVerifyHelpers(t *testing.T) {
	seed, _ := SeedFromMnemonic(KeyTypeSr25519, otherMnem)
	kp, _ := NewKeypair(KeyTypeSr25519, seed)
	msg := []byte("ping")
	sig, _ := kp.Sign(msg)
	if !VerifySr25519(kp.PublicKey(), msg, sig) {
		t.Error("sr25519 helper must verify")
	}
	if VerifySr25519(kp.PublicKey(), msg, sig[:10]) {
		t.Error("short signature must not verify")
	}

	edSeed, _ := SeedFromMnemonic(KeyTypeEd25519, otherMnem)
	ed, _ := NewKeypair(KeyTypeEd25519, edSeed)
	edSig, _ := ed.Sign(msg)
	if !VerifyEd25519(ed.PublicKey(), msg, edSig) {
		t.Error("ed25519 helper must verify")
	}
}

func TestWalletCreateAndReload(t *testing.T) {
	cfg := config.Wallet{Path: t.TempDir(), Name: "w0", Hotkey: "hk0", KeyType: KeyTypeSr25519}

	w := New(cfg, testPrefix)
	mnemonic, err := w.Create(false)
	if err != nil {
		t.Fatal(err)
	}
	if mnemonic == "" {
		t.Fatal("mnemonic must be returned")
	}
	first := w.Hotkey().PublicKey()

	again := New(cfg, testPrefix)
	if err := again.EnsureHotkey(); err != nil {
		t.Fatal(err)
	}
	if again.Hotkey().PublicKey() != first {
		t.Error("reloaded hotkey differs")
	}
	if again.HotkeySS58() != w.HotkeySS58() {
		t.Error("reloaded address differs")
	}

	if _, err := w.Create(false); err == nil {
		t.Error("create must refuse to overwrite")
	}

	fresh := New(cfg, testPrefix)
	if err := fresh.Regenerate(mnemonic); err != nil {
		t.Fatal(err)
	}
	if fresh.Hotkey().PublicKey() != first {
		t.Error("regenerated hotkey differs")
	}
}

func TestEnsureHotkeyCreates(t *testing.T) {
	cfg := config.Wallet{Path: t.TempDir(), Name: "w1", Hotkey: "hk1", KeyType: KeyTypeEd25519}
	w := New(cfg, testPrefix)
	if err := w.EnsureHotkey(); err != nil {
		t.Fatal(err)
	}
	if w.Hotkey() == nil {
		t.Fatal("hotkey must exist after ensure")
	}
	if w.Hotkey().Type() != KeyTypeEd25519 {
		t.Error("key type", w.Hotkey().Type())
	}
}
