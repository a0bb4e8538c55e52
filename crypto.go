package chainvault

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize mirrors the three symmetric key sizes the spec's crypto contract
// (§4.A) advertises. chacha20poly1305 only takes a 256-bit key, so 128/192
// are accepted as inputs (e.g. from a seed) and stretched via HKDF to the
// cipher's native size. The advertised KeySize is only reported back by
// Size; authorization hashes are always the 32-byte SHA-256 Hash.
type KeySize int

const (
	KeySize128 KeySize = 16
	KeySize192 KeySize = 24
	KeySize256 KeySize = 32
)

// Hash is the fixed-width digest used for authorization hashes and public
// key identities throughout the chain.
type Hash [32]byte

// HashOf returns the SHA-256 digest of one or more byte slices concatenated.
func HashOf(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// FromBytesTwice implements the seeded double-hash construction the spec's
// crypto contract calls AteHash::from_bytes_twice — folding a salt into a
// digest twice so two different salts never collide even over identical
// inputs.
func FromBytesTwice(salt, data []byte) Hash {
	first := sha256.Sum256(append(append([]byte{}, salt...), data...))
	return HashOf(first[:], salt)
}

// Equal performs constant-time comparison, mirroring the teacher's
// constantTimeEqual helper.
func (h Hash) Equal(o Hash) bool {
	var v byte
	for i := range h {
		v |= h[i] ^ o[i]
	}
	return v == 0
}

func (h Hash) String() string { return fmt.Sprintf("%x", h[:8]) }

// EncryptKey is a symmetric key used to transform row payloads (spec §4.A,
// §4.I). Encrypt/Decrypt implement the transformer contract consumed by the
// pipeline's DataTransformer capability.
type EncryptKey struct {
	size KeySize
	raw  []byte // stretched to 32 bytes for chacha20poly1305
}

// GenerateEncryptKey creates a fresh random key of the given size.
func GenerateEncryptKey(size KeySize) (EncryptKey, error) {
	seed := make([]byte, size)
	if _, err := rand.Read(seed); err != nil {
		return EncryptKey{}, err
	}
	return EncryptKeyFromSeed(seed, size)
}

// EncryptKeyFromSeed implements the spec's deterministic
// `from_seed_bytes(seed, size)` key derivation via HKDF-SHA512, so the same
// seed always yields the same key (used to re-derive a user's nominal keys
// from their password during login, see login.go).
func EncryptKeyFromSeed(seed []byte, size KeySize) (EncryptKey, error) {
	out := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha512.New, seed, nil, []byte("chainvault-encrypt-key"))
	if _, err := fillFromReader(r, out); err != nil {
		return EncryptKey{}, err
	}
	return EncryptKey{size: size, raw: out}, nil
}

func fillFromReader(r interface {
	Read(p []byte) (int, error)
}, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("short hkdf read")
		}
	}
	return total, nil
}

// Size reports the advertised key size.
func (k EncryptKey) Size() KeySize { return k.size }

// Hash returns the key's identity hash, used in MetaAuthorization.ReadHashes.
func (k EncryptKey) Hash() Hash { return HashOf(k.raw) }

// Cipher is the AEAD output of Encrypt: a fresh IV plus ciphertext.
type Cipher struct {
	IV         [chacha20poly1305.NonceSize]byte
	Ciphertext []byte
}

// Encrypt seals plaintext under a fresh IV (spec §4.A contract).
func (k EncryptKey) Encrypt(plaintext []byte) (Cipher, error) {
	aead, err := chacha20poly1305.New(k.raw)
	if err != nil {
		return Cipher{}, err
	}
	var iv [chacha20poly1305.NonceSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return Cipher{}, err
	}
	ct := aead.Seal(nil, iv[:], plaintext, nil)
	return Cipher{IV: iv, Ciphertext: ct}, nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (k EncryptKey) Decrypt(iv [chacha20poly1305.NonceSize]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(k.raw)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, iv[:], ciphertext, nil)
}

// PublicKey is an ed25519 signing identity advertised in the chain (§3).
type PublicKey struct {
	Raw ed25519.PublicKey
}

func (p PublicKey) Hash() Hash { return HashOf(p.Raw) }

// PrivateKey is the asymmetric signing counterpart used by linters to
// produce Signature metadata entries.
type PrivateKey struct {
	Public PublicKey
	raw    ed25519.PrivateKey
}

// GeneratePrivateKey creates a fresh ed25519 keypair.
func GeneratePrivateKey() (PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, err
	}
	return PrivateKey{Public: PublicKey{Raw: pub}, raw: priv}, nil
}

// Sign produces a raw ed25519 signature over a header hash.
func (k PrivateKey) Sign(headerHash Hash) []byte {
	return ed25519.Sign(k.raw, headerHash[:])
}

// Verify checks a signature produced by Sign.
func (p PublicKey) Verify(headerHash Hash, sig []byte) bool {
	return ed25519.Verify(p.Raw, headerHash[:], sig)
}

// EncryptedPrivateKey stores a PrivateKey at rest, encrypted under an
// EncryptKey — mirrors original_source/lib/src/crypto/encrypted_private_key.rs.
type EncryptedPrivateKey struct {
	Public    PublicKey
	KeyHash   Hash
	IV        [chacha20poly1305.NonceSize]byte
	Encrypted []byte
}

// SealPrivateKey encrypts priv.raw under ek.
func SealPrivateKey(priv PrivateKey, ek EncryptKey) (EncryptedPrivateKey, error) {
	c, err := ek.Encrypt(priv.raw)
	if err != nil {
		return EncryptedPrivateKey{}, err
	}
	return EncryptedPrivateKey{
		Public:    priv.Public,
		KeyHash:   ek.Hash(),
		IV:        c.IV,
		Encrypted: c.Ciphertext,
	}, nil
}

// Open decrypts back to a usable PrivateKey given the same EncryptKey.
func (e EncryptedPrivateKey) Open(ek EncryptKey) (PrivateKey, error) {
	raw, err := ek.Decrypt(e.IV, e.Encrypted)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("open private key: %w", err)
	}
	return PrivateKey{Public: e.Public, raw: ed25519.PrivateKey(raw)}, nil
}

// EncryptedEncryptionKey stores a symmetric EncryptKey at rest, encrypted
// under another EncryptKey — used to distribute read keys down a Tree via
// CoreMetadata.EncryptedEncryptionKey entries.
type EncryptedEncryptionKey struct {
	KeyHash   Hash
	Size      KeySize
	IV        [chacha20poly1305.NonceSize]byte
	Encrypted []byte
}

func SealEncryptionKey(inner, outer EncryptKey) (EncryptedEncryptionKey, error) {
	c, err := outer.Encrypt(inner.raw)
	if err != nil {
		return EncryptedEncryptionKey{}, err
	}
	return EncryptedEncryptionKey{KeyHash: outer.Hash(), Size: inner.size, IV: c.IV, Encrypted: c.Ciphertext}, nil
}

func (e EncryptedEncryptionKey) Open(outer EncryptKey) (EncryptKey, error) {
	raw, err := outer.Decrypt(e.IV, e.Encrypted)
	if err != nil {
		return EncryptKey{}, fmt.Errorf("open encryption key: %w", err)
	}
	return EncryptKey{size: e.Size, raw: raw}, nil
}
