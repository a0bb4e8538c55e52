package chainvault

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// RowEncryptionTransformer is the production DataTransformer (spec §4.D
// step 2): a row whose header carries a read authorization is sealed under
// whichever of the session's read keys matches one of the authorization's
// ReadHashes, and opened the same way on load. A row with no authorization
// entry, or an authorization with no read restriction, passes through
// unchanged. Grounded on crypto.go's EncryptKey.Encrypt/Decrypt and
// meta.go's MetaAuthorization (spec §3 "Row", §8 property 2).
type RowEncryptionTransformer struct{}

// Underlay seals data under the row's read authorization, if any (spec §4.D
// step 2). The nonce EncryptKey.Encrypt generates is prepended to the
// ciphertext rather than carried in a separate header entry, so Overlay can
// recover it without touching meta.
func (RowEncryptionTransformer) Underlay(meta *Metadata, data []byte, session *Session) ([]byte, error) {
	auth, ok := meta.GetAuthorization()
	if !ok || len(auth.ReadHashes) == 0 {
		return data, nil
	}
	key, ok := firstMatchingReadKey(auth, session)
	if !ok {
		return nil, fmt.Errorf("row encryption: session holds no key matching the row's read authorization")
	}
	cipher, err := key.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("row encryption: %w", err)
	}
	sealed := make([]byte, 0, len(cipher.IV)+len(cipher.Ciphertext))
	sealed = append(sealed, cipher.IV[:]...)
	sealed = append(sealed, cipher.Ciphertext...)
	return sealed, nil
}

// Overlay reverses Underlay (spec §4.D "on replay"). A session missing the
// matching read key fails here rather than returning garbage, which is what
// chain.Load turns into LoadErrMissingReadKey (spec §8 property 2).
func (RowEncryptionTransformer) Overlay(meta *Metadata, data []byte, session *Session) ([]byte, error) {
	auth, ok := meta.GetAuthorization()
	if !ok || len(auth.ReadHashes) == 0 {
		return data, nil
	}
	key, ok := firstMatchingReadKey(auth, session)
	if !ok {
		return nil, fmt.Errorf("row encryption: session holds no key matching the row's read authorization")
	}
	if len(data) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("row encryption: sealed payload shorter than a nonce")
	}
	var iv [chacha20poly1305.NonceSize]byte
	copy(iv[:], data[:chacha20poly1305.NonceSize])
	plain, err := key.Decrypt(iv, data[chacha20poly1305.NonceSize:])
	if err != nil {
		return nil, fmt.Errorf("row encryption: %w", err)
	}
	return plain, nil
}

func firstMatchingReadKey(auth MetaAuthorization, session *Session) (EncryptKey, bool) {
	for _, want := range auth.ReadHashes {
		if key, ok := session.ReadKeyFor(want); ok {
			return key, ok
		}
	}
	return EncryptKey{}, false
}
