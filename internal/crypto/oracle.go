// Package crypto supplies the sequencer's signing, verification and
// hashing oracle. The core treats cryptographic primitive selection as
// opaque (spec Non-goals); this package provides one concrete HMAC-SHA256
// implementation plus the interface the rest of the write path depends on.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"strings"
)

// HashPurposeSequencedEventSignature domain-separates signatures over
// sequenced event content from any other signed artefact in the system.
const HashPurposeSequencedEventSignature = "SequencedEventSignature"

// Digest is the raw SHA-256 sum of a byte string.
type Digest [sha256.Size]byte

// Signature is the raw HMAC-SHA256 tag produced by Sign.
type Signature []byte

// Oracle signs, verifies and hashes byte strings on behalf of the
// sequencer. Implementations need not be constant-time beyond what
// crypto/hmac.Equal already guarantees.
type Oracle interface {
	Sign(content []byte) (Signature, error)
	Verify(content []byte, sig Signature) bool
	Hash(content []byte) Digest
}

// ErrEmptySecret is returned by NewHMACOracle when constructed with a
// blank signing key.
var ErrEmptySecret = errors.New("crypto: hmac secret must not be empty")

// HMACOracle signs content with HMAC-SHA256 keyed by a process secret,
// grounded on the teacher's HS256 bearer-token verifier repurposed from
// verifying tokens to signing sequenced event content.
type HMACOracle struct {
	secret []byte
}

// NewHMACOracle constructs an Oracle from the given shared secret.
func NewHMACOracle(secret string) (*HMACOracle, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &HMACOracle{secret: []byte(secret)}, nil
}

// Sign returns the HMAC-SHA256 tag over hash-purpose-domain-separated
// content: HMAC(secret, HashPurpose || Hash(content)).
func (o *HMACOracle) Sign(content []byte) (Signature, error) {
	if o == nil || len(o.secret) == 0 {
		return nil, errors.New("crypto: oracle not initialised")
	}
	digest := o.Hash(content)
	mac := hmac.New(sha256.New, o.secret)
	mac.Write([]byte(HashPurposeSequencedEventSignature))
	mac.Write(digest[:])
	return mac.Sum(nil), nil
}

// Verify recomputes the expected tag and compares it to sig in constant time.
func (o *HMACOracle) Verify(content []byte, sig Signature) bool {
	if o == nil || len(o.secret) == 0 {
		return false
	}
	expected, err := o.Sign(content)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sig)
}

// Hash returns the SHA-256 digest of content.
func (o *HMACOracle) Hash(content []byte) Digest {
	return sha256.Sum256(content)
}

var _ Oracle = (*HMACOracle)(nil)
