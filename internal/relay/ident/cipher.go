package ident

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Cipher implements relay.Decrypter for encrypted direct messages. The wire
// form is "<base64 ciphertext>?iv=<base64 iv>" with AES-256-CBC under the
// ECDH shared secret of the two keys.
type Cipher struct {
	identity *Identity
}

// NewCipher creates a cipher bound to the local identity.
func NewCipher(identity *Identity) (*Cipher, error) {
	if identity == nil {
		return nil, errors.New("missing identity for cipher")
	}
	return &Cipher{identity: identity}, nil
}

// Decrypt decodes a direct message from the sender's declared public key.
func (c *Cipher) Decrypt(content, senderPubKey string) (string, error) {
	body, ivPart, ok := strings.Cut(content, "?iv=")
	if !ok {
		return "", errors.New("missing iv component")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return "", fmt.Errorf("failed to decode iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("invalid iv length: %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid ciphertext length: %d", len(ciphertext))
	}

	block, err := aes.NewCipher(c.sharedSecret(senderPubKey))
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = unpad(plaintext)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// Encrypt encodes a direct message for the recipient's public key. Used by
// the publish path and by tests exercising round trips between identities.
func (c *Cipher) Encrypt(plaintext, recipientPubKey string) (string, error) {
	block, err := aes.NewCipher(c.sharedSecret(recipientPubKey))
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) +
		"?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// sharedSecret derives the 32-byte ECDH secret with the peer. An unparseable
// peer key yields a zero key, which fails decryption downstream rather than
// panicking here.
func (c *Cipher) sharedSecret(peerPubKey string) []byte {
	secret := make([]byte, 32)

	raw, err := hex.DecodeString(peerPubKey)
	if err != nil || len(raw) != 32 {
		return secret
	}

	// x-only keys are lifted with even parity
	pub, err := secp256k1.ParsePubKey(append([]byte{0x02}, raw...))
	if err != nil {
		return secret
	}

	copy(secret, secp256k1.GenerateSharedSecret(c.identity.priv, pub))
	return secret
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}

	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}

	return data[:len(data)-n], nil
}
