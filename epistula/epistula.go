package epistula

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/wallet"
	"github.com/pkg/errors"
)

// Version 2 of the protocol signs the sha256 of the body together with
// a request uuid, a millisecond timestamp and the intended receiver.
const Version = "2"

const (
	HeaderVersion   = "Epistula-Version"
	HeaderTimestamp = "Epistula-Timestamp"
	HeaderUUID      = "Epistula-Uuid"
	HeaderSignedBy  = "Epistula-Signed-By"
	HeaderSignedFor = "Epistula-Signed-For"
	HeaderSignature = "Epistula-Request-Signature"

	// Secret signatures bind the request to the receiver across three
	// adjacent timestamp intervals.
	headerSecret0 = "Epistula-Secret-Signature-0"
	headerSecret1 = "Epistula-Secret-Signature-1"
	headerSecret2 = "Epistula-Secret-Signature-2"
)

// DefaultAllowedDeltaMS is how far a request timestamp may lag behind
// the receiver's clock.
const DefaultAllowedDeltaMS = 8000

var (
	ErrStale             = errors.New("request is too stale")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Message assembles the exact byte string covered by the request
// signature.
func Message(body []byte, requestUUID string, timestampMS int64, signedFor string) []byte {
	digest := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s.%s.%d.%s",
		hex.EncodeToString(digest[:]), requestUUID, timestampMS, signedFor))
}

// interval quantizes a millisecond timestamp to its 10s bucket,
// rounding up.
func interval(timestampMS int64) int64 {
	const width = 10_000
	return (timestampMS + width - 1) / width * width
}

func secretMessage(intervalMS int64, signedFor string) []byte {
	return []byte(strconv.FormatInt(intervalMS, 10) + "." + signedFor)
}

// Signer produces v2 headers under one hotkey.
type Signer struct {
	kp     wallet.Keypair
	prefix uint16
	now    func() time.Time
}

func NewSigner(kp wallet.Keypair, ss58Prefix uint16) *Signer {
	return &Signer{kp: kp, prefix: ss58Prefix, now: time.Now}
}

// Headers signs body and returns a fresh header set. signedFor is the
// receiver's ss58 address, or empty for a broadcast request.
func (self *Signer) Headers(body []byte, signedFor string) (http.Header, error) {
	timestamp := self.now().UnixMilli()
	requestUUID := uuid.New().String()

	sig, err := self.kp.Sign(Message(body, requestUUID, timestamp, signedFor))
	if err != nil {
		return nil, errors.Wrap(err, "sign request")
	}

	h := http.Header{}
	h.Set(HeaderVersion, Version)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	h.Set(HeaderUUID, requestUUID)
	h.Set(HeaderSignedBy, self.kp.SS58(self.prefix))
	h.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))

	if signedFor != "" {
		h.Set(HeaderSignedFor, signedFor)
		base := interval(timestamp)
		for i, name := range []string{headerSecret0, headerSecret1, headerSecret2} {
			secret, err := self.kp.Sign(secretMessage(base+int64(i-1)*10_000, signedFor))
			if err != nil {
				return nil, errors.Wrap(err, "sign secret")
			}
			h.Set(name, "0x"+hex.EncodeToString(secret))
		}
	}
	return h, nil
}

// Apply signs body and attaches the headers to an outgoing request.
func (self *Signer) Apply(req *http.Request, body []byte, signedFor string) error {
	h, err := self.Headers(body, signedFor)
	if err != nil {
		return err
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return nil
}

// Verifier checks v2 headers against the receiver's clock.
type Verifier struct {
	allowedDeltaMS int64
	now            func() time.Time
}

func NewVerifier(allowedDeltaMS int64) *Verifier {
	if allowedDeltaMS <= 0 {
		allowedDeltaMS = DefaultAllowedDeltaMS
	}
	return &Verifier{allowedDeltaMS: allowedDeltaMS, now: time.Now}
}

// Verify checks the request signature over body and returns the
// sender's ss58 address. Signatures are accepted from sr25519 keys
// first, then ed25519 ones.
func (self *Verifier) Verify(body []byte, h http.Header) (string, error) {
	if v := h.Get(HeaderVersion); v != Version {
		return "", errors.Errorf("unsupported epistula version %q", v)
	}
	signedBy := h.Get(HeaderSignedBy)
	if signedBy == "" {
		return "", errors.New("missing Epistula-Signed-By")
	}
	requestUUID := h.Get(HeaderUUID)
	if requestUUID == "" {
		return "", errors.New("missing Epistula-Uuid")
	}
	timestamp, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return "", errors.Wrap(err, "bad Epistula-Timestamp")
	}
	sig, err := decodeSignature(h.Get(HeaderSignature))
	if err != nil {
		return "", errors.Wrap(err, "bad Epistula-Request-Signature")
	}

	if timestamp+self.allowedDeltaMS < self.now().UnixMilli() {
		return "", ErrStale
	}

	pub, _, err := wallet.DecodeSS58(signedBy)
	if err != nil {
		return "", errors.Wrap(err, "bad Epistula-Signed-By")
	}
	msg := Message(body, requestUUID, timestamp, h.Get(HeaderSignedFor))
	if !verifyEither(pub, msg, sig) {
		return "", ErrSignatureMismatch
	}
	return signedBy, nil
}

// VerifySignedFor additionally requires that the request was addressed
// to receiver and that one of the secret signatures matches the
// request's timestamp interval.
func (self *Verifier) VerifySignedFor(h http.Header, receiver string) error {
	signedFor := h.Get(HeaderSignedFor)
	if signedFor != receiver {
		return errors.Errorf("request signed for %q, not %q", signedFor, receiver)
	}
	timestamp, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return errors.Wrap(err, "bad Epistula-Timestamp")
	}
	pub, _, err := wallet.DecodeSS58(h.Get(HeaderSignedBy))
	if err != nil {
		return errors.Wrap(err, "bad Epistula-Signed-By")
	}

	base := interval(timestamp)
	for i, name := range []string{headerSecret0, headerSecret1, headerSecret2} {
		sig, err := decodeSignature(h.Get(name))
		if err != nil {
			continue
		}
		msg := secretMessage(base+int64(i-1)*10_000, signedFor)
		if verifyEither(pub, msg, sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func decodeSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty signature")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(sig) != 64 {
		return nil, errors.Errorf("signature must be 64 bytes, got %d", len(sig))
	}
	return sig, nil
}

func verifyEither(pub common.AccountID, msg, sig []byte) bool {
	return wallet.VerifySr25519(pub, msg, sig) || wallet.VerifyEd25519(pub, msg, sig)
}
