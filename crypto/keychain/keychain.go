// Package keychain manages the asymmetric key material the proxy swaps
// in for KingsIsle's own during the session handshake: a public "KI"
// key set the real server trusts, and a private "injected" key set the
// proxy hands the client instead, so the proxy can decrypt and re-sign
// the handshake payload that carries the session's AES key.
//
// Keys are addressed by slot rather than by a single fixed pair, since
// the client picks a slot during the handshake and the proxy must have
// an injected key on hand for whichever one it chose. An FNV-1a
// fingerprint over a region of the key buffer lets the proxy confirm the
// hash the client sends in its Session Accept matches the injected key
// buffer, and compute the matching hash over KI's genuine buffer to put
// in its place.
package keychain

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"

	"github.com/vbe0201/wizproxy/internal/fnv"
)

// ErrKeyHashMismatch indicates an injected key buffer's FNV-1a fingerprint
// no longer matches what the caller expected it to be — the ki-keyring
// dump and the injected key material have drifted out of sync.
var ErrKeyHashMismatch = errors.New("keychain: key hash mismatch; algorithm changed?")

// KeyChain holds the two key sets: the public keys KI's real client
// trusts (copied verbatim from a ki-keyring export) and the private keys
// the proxy substitutes in their place.
type KeyChain struct {
	kiKeyBuf  []byte
	publicKeys []*rsa.PublicKey

	injectedKeyBuf []byte
	privateKeys    []*rsa.PrivateKey
}

// New builds a KeyChain from the raw key buffers (as extracted by
// ki-keyring) and their already-parsed RSA keys, in matching slot order.
func New(kiKeyBuf []byte, publicKeys []*rsa.PublicKey, injectedKeyBuf []byte, privateKeys []*rsa.PrivateKey) *KeyChain {
	return &KeyChain{
		kiKeyBuf:       kiKeyBuf,
		publicKeys:     publicKeys,
		injectedKeyBuf: injectedKeyBuf,
		privateKeys:    privateKeys,
	}
}

// HashKeyBuf fingerprints a region of the genuine KI key buffer with
// FNV-1a, producing the hash a genuine client would report in its
// Session Accept so the proxy can substitute it before forwarding.
func (k *KeyChain) HashKeyBuf(offset, length int) (uint32, error) {
	region, err := slice(k.kiKeyBuf, offset, length)
	if err != nil {
		return 0, err
	}
	return fnv.Sum1a(region), nil
}

// VerifyKeyHash fingerprints a region of the injected key buffer and
// compares it against an expected hash, returning ErrKeyHashMismatch if
// the injected key material no longer lines up with what produced that
// hash (i.e. the substitution would be detectable by the client).
func (k *KeyChain) VerifyKeyHash(offset, length int, expected uint32) error {
	region, err := slice(k.injectedKeyBuf, offset, length)
	if err != nil {
		return err
	}
	if fnv.Sum1a(region) != expected {
		return ErrKeyHashMismatch
	}
	return nil
}

func slice(buf []byte, offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return nil, fmt.Errorf("keychain: region [%d:%d] out of bounds for %d-byte buffer", offset, offset+length, len(buf))
	}
	return buf[offset : offset+length], nil
}

// Sign produces a PKCS#1v1.5 SHA-1 signature over data using the private
// key at keySlot, standing in for KI's own signature so the client's
// verification against the (substituted) public key still succeeds.
func (k *KeyChain) Sign(keySlot int, data []byte) ([]byte, error) {
	key, err := k.privateKey(keySlot)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(data)
	return rsa.SignPKCS1v15(rand.Reader, key, 0, sum[:])
}

// Verify checks a PKCS#1v1.5 SHA-1 signature against the public key at
// keySlot.
func (k *KeyChain) Verify(keySlot int, data, signature []byte) error {
	key, err := k.publicKey(keySlot)
	if err != nil {
		return err
	}
	sum := sha1.Sum(data)
	return rsa.VerifyPKCS1v15(key, 0, sum[:], signature)
}

// Encrypt RSA-OAEP/SHA-1 encrypts data under the public key at keySlot.
func (k *KeyChain) Encrypt(keySlot int, data []byte) ([]byte, error) {
	key, err := k.publicKey(keySlot)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, key, data, nil)
}

// Decrypt RSA-OAEP/SHA-1 decrypts data under the private key at keySlot —
// this is how the proxy recovers the AES session key the client thought
// it was sealing for KI's eyes only.
func (k *KeyChain) Decrypt(keySlot int, data []byte) ([]byte, error) {
	key, err := k.privateKey(keySlot)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(sha1.New(), rand.Reader, key, data, nil)
}

func (k *KeyChain) publicKey(slot int) (*rsa.PublicKey, error) {
	if slot < 0 || slot >= len(k.publicKeys) {
		return nil, fmt.Errorf("keychain: no public key in slot %d", slot)
	}
	return k.publicKeys[slot], nil
}

func (k *KeyChain) privateKey(slot int) (*rsa.PrivateKey, error) {
	if slot < 0 || slot >= len(k.privateKeys) {
		return nil, fmt.Errorf("keychain: no private key in slot %d", slot)
	}
	return k.privateKeys[slot], nil
}
