package chainvault

import "testing"

func TestSessionTokenRoundTrip(t *testing.T) {
	readKey, err := GenerateEncryptKey(KeySize256)
	if err != nil {
		t.Fatalf("GenerateEncryptKey: %v", err)
	}
	writeKey, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	s := NewSession().WithReadKey(readKey).WithWriteKey(writeKey).WithIdentity("alice").WithRole("admin")

	token, err := EncodeSessionToken(s)
	if err != nil {
		t.Fatalf("EncodeSessionToken: %v", err)
	}
	got, err := DecodeSessionToken(token)
	if err != nil {
		t.Fatalf("DecodeSessionToken: %v", err)
	}

	if id, ok := got.Identity(); !ok || id != "alice" {
		t.Fatalf("Identity = %v, %v, want alice, true", id, ok)
	}
	if !got.HasRole("admin") {
		t.Fatal("expected role admin to survive the round trip")
	}
	if _, ok := got.ReadKeyFor(readKey.Hash()); !ok {
		t.Fatal("expected the read key to survive the round trip")
	}
	if len(got.WriteKeys()) != 1 || !got.WriteKeys()[0].Public.Raw.Equal(writeKey.Public.Raw) {
		t.Fatal("expected the write key to survive the round trip")
	}
}

func TestSessionReadKeyForMiss(t *testing.T) {
	s := NewSession()
	other, _ := GenerateEncryptKey(KeySize256)
	if _, ok := s.ReadKeyFor(other.Hash()); ok {
		t.Fatal("ReadKeyFor should report false for an empty session")
	}
}
