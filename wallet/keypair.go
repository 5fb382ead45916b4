package wallet

import (
	"crypto/ed25519"

	"github.com/ChainSafe/go-schnorrkel"
	"github.com/grigorimaxim422/atom/common"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

const (
	KeyTypeSr25519 = "sr25519"
	KeyTypeEd25519 = "ed25519"
)

// Keypair signs and verifies 64-byte signatures over raw messages.
type Keypair interface {
	Type() string
	PublicKey() common.AccountID
	Seed() [32]byte
	SS58(prefix uint16) string
	Sign(msg []byte) ([]byte, error)
	Verify(msg, sig []byte) bool
}

// NewKeypair derives a keypair of the given type from a 32-byte seed.
func NewKeypair(keyType string, seed [32]byte) (Keypair, error) {
	switch keyType {
	case KeyTypeSr25519:
		return newSrKeypair(seed)
	case KeyTypeEd25519:
		return newEdKeypair(seed), nil
	default:
		return nil, errors.Errorf("unknown key type %s", keyType)
	}
}

// NewMnemonic returns a fresh 12-word phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", errors.Wrap(err, "entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Wrap(err, "mnemonic")
	}
	return mnemonic, nil
}

// SeedFromMnemonic derives the 32-byte seed for the given key type.
// sr25519 follows the substrate derivation, ed25519 the plain bip39 one.
func SeedFromMnemonic(keyType, mnemonic string) ([32]byte, error) {
	var seed [32]byte
	if !bip39.IsMnemonicValid(mnemonic) {
		return seed, errors.New("invalid mnemonic")
	}
	switch keyType {
	case KeyTypeSr25519:
		mini, err := schnorrkel.MiniSecretKeyFromMnemonic(mnemonic, "")
		if err != nil {
			return seed, errors.Wrap(err, "derive mini secret")
		}
		seed = mini.Encode()
		return seed, nil
	case KeyTypeEd25519:
		copy(seed[:], bip39.NewSeed(mnemonic, "")[:32])
		return seed, nil
	default:
		return seed, errors.Errorf("unknown key type %s", keyType)
	}
}

type srKeypair struct {
	seed   [32]byte
	secret *schnorrkel.SecretKey
	pub    *schnorrkel.PublicKey
}

func newSrKeypair(seed [32]byte) (*srKeypair, error) {
	mini, err := schnorrkel.NewMiniSecretKeyFromRaw(seed)
	if err != nil {
		return nil, errors.Wrap(err, "expand seed")
	}
	return &srKeypair{seed: seed, secret: mini.ExpandEd25519(), pub: mini.Public()}, nil
}

func (self *srKeypair) Type() string { return KeyTypeSr25519 }

func (self *srKeypair) PublicKey() common.AccountID {
	return common.AccountID(self.pub.Encode())
}

func (self *srKeypair) Seed() [32]byte { return self.seed }

func (self *srKeypair) SS58(prefix uint16) string {
	return EncodeSS58(self.PublicKey(), prefix)
}

func (self *srKeypair) Sign(msg []byte) ([]byte, error) {
	t := schnorrkel.NewSigningContext(signingContext, msg)
	sig, err := self.secret.Sign(t)
	if err != nil {
		return nil, errors.Wrap(err, "schnorrkel sign")
	}
	enc := sig.Encode()
	return enc[:], nil
}

func (self *srKeypair) Verify(msg, sig []byte) bool {
	return VerifySr25519(self.PublicKey(), msg, sig)
}

type edKeypair struct {
	seed [32]byte
	priv ed25519.PrivateKey
}

func newEdKeypair(seed [32]byte) *edKeypair {
	return &edKeypair{seed: seed, priv: ed25519.NewKeyFromSeed(seed[:])}
}

func (self *edKeypair) Type() string { return KeyTypeEd25519 }

func (self *edKeypair) PublicKey() common.AccountID {
	var pub common.AccountID
	copy(pub[:], self.priv.Public().(ed25519.PublicKey))
	return pub
}

func (self *edKeypair) Seed() [32]byte { return self.seed }

func (self *edKeypair) SS58(prefix uint16) string {
	return EncodeSS58(self.PublicKey(), prefix)
}

func (self *edKeypair) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(self.priv, msg), nil
}

func (self *edKeypair) Verify(msg, sig []byte) bool {
	return VerifyEd25519(self.PublicKey(), msg, sig)
}

// signingContext is the substrate transcript label shared by all
// sr25519 signatures on chain and over http.
var signingContext = []byte("substrate")

// VerifySr25519 checks a schnorrkel signature made under the substrate
// signing context.
func VerifySr25519(pub common.AccountID, msg, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	var raw [64]byte
	copy(raw[:], sig)
	s := new(schnorrkel.Signature)
	if err := s.Decode(raw); err != nil {
		return false
	}
	p := new(schnorrkel.PublicKey)
	if err := p.Decode(pub); err != nil {
		return false
	}
	t := schnorrkel.NewSigningContext(signingContext, msg)
	ok, err := p.Verify(s, t)
	return err == nil && ok
}

// VerifyEd25519 checks a plain ed25519 signature.
func VerifyEd25519(pub common.AccountID, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}
