package chainvault

import "testing"

func TestMetadataGetDataKey(t *testing.T) {
	m := ForData(PrimaryKey(42))
	pk, ok := m.GetDataKey()
	if !ok || pk != 42 {
		t.Fatalf("GetDataKey = %v, %v, want 42, true", pk, ok)
	}
	if _, ok := m.GetTombstone(); ok {
		t.Fatal("fresh data header should carry no tombstone entry")
	}
}

func TestMetadataTombstone(t *testing.T) {
	var m Metadata
	m.AddTombstone(PrimaryKey(7))
	pk, ok := m.GetTombstone()
	if !ok || pk != 7 {
		t.Fatalf("GetTombstone = %v, %v, want 7, true", pk, ok)
	}
}

func TestMetaAuthorizationSatisfiesRead(t *testing.T) {
	rk, err := GenerateEncryptKey(KeySize256)
	if err != nil {
		t.Fatalf("GenerateEncryptKey: %v", err)
	}
	auth := MetaAuthorization{ReadHashes: []Hash{rk.Hash()}}

	withKey := NewSession().WithReadKey(rk)
	if !auth.SatisfiesRead(withKey) {
		t.Fatal("session holding the matching read key should satisfy authorization")
	}

	other, err := GenerateEncryptKey(KeySize256)
	if err != nil {
		t.Fatalf("GenerateEncryptKey: %v", err)
	}
	withoutKey := NewSession().WithReadKey(other)
	if auth.SatisfiesRead(withoutKey) {
		t.Fatal("session holding an unrelated read key should not satisfy authorization")
	}
}

func TestMetaAuthorizationOpenByDefault(t *testing.T) {
	var auth MetaAuthorization
	if !auth.SatisfiesRead(NewSession()) {
		t.Fatal("an authorization with no read hashes should be open to any session")
	}
	if auth.NeedsSignature() {
		t.Fatal("an authorization with no write hashes should not require a signature")
	}
}

func TestMetaAuthorizationNeedsSignature(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	auth := MetaAuthorization{WriteHashes: []Hash{priv.Public.Hash()}}
	if !auth.NeedsSignature() {
		t.Fatal("an authorization with write hashes should require a signature")
	}

	withKey := NewSession().WithWriteKey(priv)
	if !auth.SatisfiesWrite(withKey) {
		t.Fatal("session holding the matching write key should satisfy authorization")
	}
}

func TestMetadataSignatures(t *testing.T) {
	m := Metadata{Core: []CoreMetadata{
		SignatureMeta(MetaSignature{Signature: []byte("a")}),
		SignatureMeta(MetaSignature{Signature: []byte("b")}),
		DataMeta(PrimaryKey(1)),
	}}
	sigs := m.Signatures()
	if len(sigs) != 2 {
		t.Fatalf("Signatures() returned %d entries, want 2", len(sigs))
	}
}
