package wallet

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/tools"
	"github.com/pkg/errors"
)

// Wallet owns the hotkey used for signing and knows the coldkey it
// belongs to. Keyfiles live under <path>/<name>/hotkeys/<hotkey> with
// the coldkey public part beside them in coldkeypub.txt.
type Wallet interface {
	Name() string
	HotkeyName() string
	Hotkey() Keypair
	HotkeySS58() string
	Coldkeypub() (common.AccountID, bool)

	// EnsureHotkey loads the hotkey from disk, creating a fresh one
	// when no keyfile exists yet.
	EnsureHotkey() error
	// Create generates a new hotkey and writes its keyfile,
	// returning the mnemonic. Refuses to overwrite unless told to.
	Create(overwrite bool) (string, error)
	// Regenerate rebuilds the hotkey from a mnemonic and writes it.
	Regenerate(mnemonic string) error
}

func New(cfg config.Wallet, ss58Prefix uint16) Wallet {
	return &wallet{cfg: cfg, prefix: ss58Prefix}
}

type wallet struct {
	cfg    config.Wallet
	prefix uint16

	hotkey     Keypair
	coldkeypub common.AccountID
	hasCold    bool
}

// keyfile is the on-disk json layout, matching what the reference
// tooling writes for unencrypted keys.
type keyfile struct {
	AccountID    string `json:"accountId"`
	PublicKey    string `json:"publicKey"`
	SecretPhrase string `json:"secretPhrase"`
	SecretSeed   string `json:"secretSeed"`
	SS58Address  string `json:"ss58Address"`
	KeyType      string `json:"keyType,omitempty"`
}

func (self *wallet) Name() string       { return self.cfg.Name }
func (self *wallet) HotkeyName() string { return self.cfg.Hotkey }
func (self *wallet) Hotkey() Keypair    { return self.hotkey }

func (self *wallet) HotkeySS58() string {
	if self.hotkey == nil {
		return ""
	}
	return self.hotkey.SS58(self.prefix)
}

func (self *wallet) Coldkeypub() (common.AccountID, bool) {
	return self.coldkeypub, self.hasCold
}

func (self *wallet) hotkeyPath() string {
	return filepath.Join(self.cfg.Path, self.cfg.Name, "hotkeys", self.cfg.Hotkey)
}

func (self *wallet) coldkeypubPath() string {
	return filepath.Join(self.cfg.Path, self.cfg.Name, "coldkeypub.txt")
}

func (self *wallet) EnsureHotkey() error {
	err := self.load()
	if err == nil {
		return nil
	}
	if !os.IsNotExist(errors.Cause(err)) {
		return err
	}
	mnemonic, err := self.Create(false)
	if err != nil {
		return err
	}
	log.Warn("created new hotkey %s/%s (%s), back up the mnemonic: %s",
		self.cfg.Name, self.cfg.Hotkey, self.HotkeySS58(), mnemonic)
	return nil
}

func (self *wallet) load() error {
	var kf keyfile
	if err := tools.ReadJSON(self.hotkeyPath(), &kf); err != nil {
		return err
	}
	keyType := kf.KeyType
	if keyType == "" {
		keyType = self.cfg.KeyType
	}
	seedHex := strings.TrimPrefix(kf.SecretSeed, "0x")
	raw, err := hex.DecodeString(seedHex)
	if err != nil {
		return errors.Wrapf(err, "seed in %s", self.hotkeyPath())
	}
	if len(raw) != 32 {
		return errors.Errorf("seed in %s must be 32 bytes, got %d", self.hotkeyPath(), len(raw))
	}
	var seed [32]byte
	copy(seed[:], raw)
	kp, err := NewKeypair(keyType, seed)
	if err != nil {
		return err
	}
	if kf.SS58Address != "" {
		pub, _, err := DecodeSS58(kf.SS58Address)
		if err != nil {
			return errors.Wrapf(err, "address in %s", self.hotkeyPath())
		}
		if pub != kp.PublicKey() {
			return errors.Errorf("keyfile %s seed does not match its address", self.hotkeyPath())
		}
	}
	self.hotkey = kp
	self.loadColdkeypub()
	return nil
}

// loadColdkeypub is best effort, a hotkey-only deployment has no coldkey
// material on the box.
func (self *wallet) loadColdkeypub() {
	var kf keyfile
	if err := tools.ReadJSON(self.coldkeypubPath(), &kf); err != nil {
		return
	}
	if kf.SS58Address == "" {
		return
	}
	pub, _, err := DecodeSS58(kf.SS58Address)
	if err != nil {
		log.Warn("bad coldkeypub at %s: %s", self.coldkeypubPath(), err)
		return
	}
	self.coldkeypub = pub
	self.hasCold = true
}

func (self *wallet) Create(overwrite bool) (string, error) {
	if !overwrite {
		if _, err := os.Stat(self.hotkeyPath()); err == nil {
			return "", errors.Errorf("hotkey %s already exists", self.hotkeyPath())
		}
	}
	mnemonic, err := NewMnemonic()
	if err != nil {
		return "", err
	}
	if err := self.Regenerate(mnemonic); err != nil {
		return "", err
	}
	return mnemonic, nil
}

func (self *wallet) Regenerate(mnemonic string) error {
	seed, err := SeedFromMnemonic(self.cfg.KeyType, mnemonic)
	if err != nil {
		return err
	}
	kp, err := NewKeypair(self.cfg.KeyType, seed)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(self.hotkeyPath()), 0o700); err != nil {
		return errors.Wrap(err, "wallet dir")
	}
	kf := keyfile{
		AccountID:    kp.PublicKey().Hex(),
		PublicKey:    kp.PublicKey().Hex(),
		SecretPhrase: mnemonic,
		SecretSeed:   "0x" + hex.EncodeToString(seed[:]),
		SS58Address:  kp.SS58(self.prefix),
		KeyType:      kp.Type(),
	}
	if err := tools.WriteJSON(self.hotkeyPath(), &kf, 0o600); err != nil {
		return err
	}
	self.hotkey = kp
	self.loadColdkeypub()
	return nil
}
