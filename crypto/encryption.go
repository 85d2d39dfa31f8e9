package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// sealedBoxInfo binds HKDF output to this construction so the derived
// key can never be reused as key material for anything else.
const sealedBoxInfo = "xaynet/pet/sealed-box/v1"

// KemPublicKey is a sum participant's per-round X25519 exchange key
// (pk_e in spec.md §3). Update participants seal mask-seed shares to it.
type KemPublicKey = *ecdh.PublicKey

// KemPrivateKey is the secret half of a per-round exchange keypair.
type KemPrivateKey = *ecdh.PrivateKey

// GenerateExchangeKeyPair generates a fresh X25519 keypair for a sum
// participant's per-round pk_e/sk_e.
func GenerateExchangeKeyPair() (KemPrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// ParseExchangeKey parses a wire-format X25519 public key.
func ParseExchangeKey(raw []byte) (KemPublicKey, error) {
	return ecdh.X25519().NewPublicKey(raw)
}

// SealedBox is an anonymous sealed-box ciphertext: the sender needs only
// the recipient's per-round exchange public key, not an identity keypair
// of its own, mirroring libsodium's crypto_box_seal. Update participants
// use this to encrypt mask-seed shares addressed to each sum participant.
type SealedBox struct {
	EphemeralPubKey []byte // X25519 ephemeral public key, 32 bytes
	Nonce           []byte // AES-GCM nonce, 12 bytes
	Ciphertext      []byte // AES-256-GCM ciphertext with appended auth tag
}

// Seal encrypts plaintext to recipientPubKey using an ephemeral X25519
// key, HKDF-SHA256 key derivation, and AES-256-GCM.
func Seal(recipientPubKey KemPublicKey, plaintext []byte) (*SealedBox, error) {
	ephemeralPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}

	sharedSecret, err := ephemeralPriv.ECDH(recipientPubKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}

	aesKey, err := deriveAESKey(sharedSecret, ephemeralPriv.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, ephemeralPriv.PublicKey().Bytes())

	return &SealedBox{
		EphemeralPubKey: ephemeralPriv.PublicKey().Bytes(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// Open decrypts a SealedBox with the recipient's exchange private key.
// Failure is a fatal error for the enclosing message only, never for the
// coordinator as a whole (spec.md §4.1).
func Open(recipientPrivKey KemPrivateKey, box *SealedBox) ([]byte, error) {
	ephemeralPub, err := ecdh.X25519().NewPublicKey(box.EphemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse ephemeral key: %w", err)
	}

	sharedSecret, err := recipientPrivKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}

	aesKey, err := deriveAESKey(sharedSecret, box.EphemeralPubKey)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(aesKey)
	if err != nil {
		return nil, err
	}

	if len(box.Nonce) != gcm.NonceSize() {
		return nil, errors.New("crypto: invalid nonce size")
	}

	plaintext, err := gcm.Open(nil, box.Nonce, box.Ciphertext, box.EphemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}

	return plaintext, nil
}

// Bytes serializes a sealed box into a flat wire format.
func (b *SealedBox) Bytes() []byte {
	out := make([]byte, 0, len(b.EphemeralPubKey)+len(b.Nonce)+len(b.Ciphertext))
	out = append(out, b.EphemeralPubKey...)
	out = append(out, b.Nonce...)
	out = append(out, b.Ciphertext...)
	return out
}

// ParseSealedBox parses the wire format produced by Bytes.
func ParseSealedBox(data []byte) (*SealedBox, error) {
	const pubKeyLen = 32
	const nonceLen = 12
	const tagLen = 16

	if len(data) < pubKeyLen+nonceLen+tagLen {
		return nil, errors.New("crypto: sealed box too short")
	}

	return &SealedBox{
		EphemeralPubKey: data[:pubKeyLen],
		Nonce:           data[pubKeyLen : pubKeyLen+nonceLen],
		Ciphertext:      data[pubKeyLen+nonceLen:],
	}, nil
}

func deriveAESKey(sharedSecret, salt []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, sharedSecret, salt, []byte(sealedBoxInfo))
	key := make([]byte, 32)
	if _, err := kdf.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
