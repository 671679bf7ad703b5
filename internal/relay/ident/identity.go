// Package ident adapts the underlying peer-to-peer note protocol's
// cryptography: schnorr-signed events identified by a digest of their
// canonical encoding, and ECDH-encrypted direct messages. The relay core
// consumes this package only through the relay.Verifier and relay.Decrypter
// interfaces.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"wall/internal/relay"
)

// Identity is one keypair. The public key is the hex-encoded 32-byte x-only
// form used as the author field on events.
type Identity struct {
	priv *secp256k1.PrivateKey
	pub  string
}

// Generate creates a new random identity.
func Generate() (*Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return fromPrivateKey(priv), nil
}

// FromHex loads an identity from a hex-encoded 32-byte private key.
func FromHex(privHex string) (*Identity, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid private key length: %d", len(raw))
	}

	return fromPrivateKey(secp256k1.PrivKeyFromBytes(raw)), nil
}

func fromPrivateKey(priv *secp256k1.PrivateKey) *Identity {
	return &Identity{
		priv: priv,
		pub:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

// PublicKey returns the hex-encoded x-only public key.
func (id *Identity) PublicKey() string { return id.pub }

// PrivateKeyHex returns the hex-encoded private key, for operator display
// when a key was freshly generated.
func (id *Identity) PrivateKeyHex() string {
	return hex.EncodeToString(id.priv.Serialize())
}

// Sign stamps the event with this identity's public key, derives the
// canonical id, and attaches a schnorr signature.
func (id *Identity) Sign(event *relay.Event) error {
	event.PubKey = id.pub

	eid, err := EventID(*event)
	if err != nil {
		return err
	}
	event.ID = eid

	digest, _ := hex.DecodeString(eid)
	sig, err := schnorr.Sign(id.priv, digest)
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	event.Sig = hex.EncodeToString(sig.Serialize())

	return nil
}

// EventID computes the canonical event id: the hex SHA-256 digest of the
// serialized [0, pubkey, created_at, kind, tags, content] array.
func EventID(event relay.Event) (string, error) {
	tags := event.Tags
	if tags == nil {
		tags = [][]string{}
	}

	canonical, err := json.Marshal([]any{
		0,
		event.PubKey,
		event.CreatedAt,
		event.Kind,
		tags,
		event.Content,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build canonical event encoding: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SchnorrVerifier implements relay.Verifier by recomputing the canonical id
// and checking the schnorr signature against the declared author key.
type SchnorrVerifier struct{}

// Verify returns nil only if the event id matches its canonical digest and
// the signature verifies under the author's key.
func (SchnorrVerifier) Verify(event relay.Event) error {
	eid, err := EventID(event)
	if err != nil {
		return err
	}
	if eid != event.ID {
		return errors.New("event id does not match canonical digest")
	}

	pubRaw, err := hex.DecodeString(event.PubKey)
	if err != nil {
		return fmt.Errorf("failed to decode author key: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubRaw)
	if err != nil {
		return fmt.Errorf("failed to parse author key: %w", err)
	}

	sigRaw, err := hex.DecodeString(event.Sig)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		return fmt.Errorf("failed to parse signature: %w", err)
	}

	digest, _ := hex.DecodeString(eid)
	if !sig.Verify(digest, pub) {
		return errors.New("signature verification failed")
	}

	return nil
}
