package chainvault

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/gob"
	"fmt"
)

// SessionProperty is one typed credential held by a Session (spec §4.I).
// Modeled as a tagged struct (mirroring CoreMetadata) rather than an
// interface hierarchy, per the design note on preferring tagged variants
// over polymorphic trees for closed unions.
type SessionProperty struct {
	Kind     SessionPropertyKind
	ReadKey  EncryptKey
	WriteKey PrivateKey
	Identity string
	Role     string
}

type SessionPropertyKind int

const (
	SessionReadKey SessionPropertyKind = iota
	SessionWriteKey
	SessionIdentity
	SessionRole
)

// Session is a caller-held bag of keys and identity consulted by linters,
// transformers and validators (spec §4.I).
type Session struct {
	Properties []SessionProperty
}

// NewSession returns an empty session; callers append properties directly,
// matching the teacher's plain-struct-literal construction style.
func NewSession() *Session { return &Session{} }

func (s *Session) WithReadKey(k EncryptKey) *Session {
	s.Properties = append(s.Properties, SessionProperty{Kind: SessionReadKey, ReadKey: k})
	return s
}

func (s *Session) WithWriteKey(k PrivateKey) *Session {
	s.Properties = append(s.Properties, SessionProperty{Kind: SessionWriteKey, WriteKey: k})
	return s
}

func (s *Session) WithIdentity(id string) *Session {
	s.Properties = append(s.Properties, SessionProperty{Kind: SessionIdentity, Identity: id})
	return s
}

func (s *Session) WithRole(role string) *Session {
	s.Properties = append(s.Properties, SessionProperty{Kind: SessionRole, Role: role})
	return s
}

func (s *Session) ReadKeys() []EncryptKey {
	var out []EncryptKey
	for _, p := range s.Properties {
		if p.Kind == SessionReadKey {
			out = append(out, p.ReadKey)
		}
	}
	return out
}

func (s *Session) WriteKeys() []PrivateKey {
	var out []PrivateKey
	for _, p := range s.Properties {
		if p.Kind == SessionWriteKey {
			out = append(out, p.WriteKey)
		}
	}
	return out
}

func (s *Session) Identity() (string, bool) {
	for _, p := range s.Properties {
		if p.Kind == SessionIdentity {
			return p.Identity, true
		}
	}
	return "", false
}

func (s *Session) HasRole(role string) bool {
	for _, p := range s.Properties {
		if p.Kind == SessionRole && p.Role == role {
			return true
		}
	}
	return false
}

// wireSessionProperty is the gob-safe form of SessionProperty: EncryptKey
// and PrivateKey carry unexported fields, so the token codec copies only
// the raw key material needed to reconstruct them.
type wireSessionProperty struct {
	Kind         SessionPropertyKind
	ReadKeySize  KeySize
	ReadKeyRaw   []byte
	WritePublic  ed25519.PublicKey
	WritePrivate ed25519.PrivateKey
	Identity     string
	Role         string
}

// EncodeSessionToken renders a session as the opaque base64 blob described
// in spec §6 "Session token", suitable for the caller to persist and later
// hand back to DecodeSessionToken.
func EncodeSessionToken(s *Session) (string, error) {
	wire := make([]wireSessionProperty, len(s.Properties))
	for i, p := range s.Properties {
		switch p.Kind {
		case SessionReadKey:
			wire[i] = wireSessionProperty{Kind: p.Kind, ReadKeySize: p.ReadKey.size, ReadKeyRaw: p.ReadKey.raw}
		case SessionWriteKey:
			wire[i] = wireSessionProperty{Kind: p.Kind, WritePublic: p.WriteKey.Public.Raw, WritePrivate: p.WriteKey.raw}
		case SessionIdentity:
			wire[i] = wireSessionProperty{Kind: p.Kind, Identity: p.Identity}
		case SessionRole:
			wire[i] = wireSessionProperty{Kind: p.Kind, Role: p.Role}
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return "", fmt.Errorf("encode session token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeSessionToken reconstructs a Session from a blob produced by
// EncodeSessionToken.
func DecodeSessionToken(token string) (*Session, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode session token: %w", err)
	}
	var wire []wireSessionProperty
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode session token: %w", err)
	}
	s := NewSession()
	for _, w := range wire {
		switch w.Kind {
		case SessionReadKey:
			s.Properties = append(s.Properties, SessionProperty{
				Kind:    SessionReadKey,
				ReadKey: EncryptKey{size: w.ReadKeySize, raw: w.ReadKeyRaw},
			})
		case SessionWriteKey:
			s.Properties = append(s.Properties, SessionProperty{
				Kind: SessionWriteKey,
				WriteKey: PrivateKey{
					Public: PublicKey{Raw: w.WritePublic},
					raw:    w.WritePrivate,
				},
			})
		case SessionIdentity:
			s.WithIdentity(w.Identity)
		case SessionRole:
			s.WithRole(w.Role)
		}
	}
	return s, nil
}

// ReadKeyFor returns the first read key whose hash matches want, if held.
func (s *Session) ReadKeyFor(want Hash) (EncryptKey, bool) {
	for _, k := range s.ReadKeys() {
		if k.Hash().Equal(want) {
			return k, true
		}
	}
	return EncryptKey{}, false
}
