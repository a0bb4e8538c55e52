package chainvault

import "testing"

func sampleHeader() EventHeader {
	priv, _ := GeneratePrivateKey()
	return EventHeader{
		Meta: Metadata{Core: []CoreMetadata{
			DataMeta(PrimaryKey(123)),
			TreeMeta(MetaTree{Parent: PrimaryKey(1), InheritRead: true, InheritWrite: false}),
			AuthorizationMeta(MetaAuthorization{
				ReadHashes:        []Hash{HashOf([]byte("r"))},
				WriteHashes:       []Hash{priv.Public.Hash()},
				ImplicitAuthority: "tenant-a",
			}),
			TimestampMeta(1234567890),
			AuthorMeta("alice"),
			PublicKeyMeta(priv.Public),
			SignatureMeta(MetaSignature{
				HeaderHashes:  []Hash{HashOf([]byte("h"))},
				SignatureHash: HashOf([]byte("sh")),
				PublicKeyHash: priv.Public.Hash(),
				Signature:     []byte("sig-bytes"),
			}),
		}},
	}
}

func TestEncodeDecodeHeaderBinary(t *testing.T) {
	h := sampleHeader()
	h.Format = FormatBinary
	raw, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	got, err := DecodeHeader(raw, FormatBinary)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	assertHeadersEqual(t, h, got)
}

func TestEncodeDecodeHeaderSelfDescribing(t *testing.T) {
	h := sampleHeader()
	h.Format = FormatSelfDescribing
	raw, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	got, err := DecodeHeader(raw, FormatSelfDescribing)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	assertHeadersEqual(t, h, got)
}

func TestHeaderHashDeterministic(t *testing.T) {
	h := sampleHeader()
	h.Format = FormatBinary
	h1, err := HeaderHash(h)
	if err != nil {
		t.Fatalf("HeaderHash: %v", err)
	}
	h2, err := HeaderHash(h)
	if err != nil {
		t.Fatalf("HeaderHash: %v", err)
	}
	if !h1.Equal(h2) {
		t.Fatal("hashing the same header twice produced different hashes")
	}
}

func assertHeadersEqual(t *testing.T, want, got EventHeader) {
	t.Helper()
	if len(want.Meta.Core) != len(got.Meta.Core) {
		t.Fatalf("core entry count mismatch: got %d want %d", len(got.Meta.Core), len(want.Meta.Core))
	}
	for i := range want.Meta.Core {
		w, g := want.Meta.Core[i], got.Meta.Core[i]
		if w.Kind != g.Kind {
			t.Fatalf("entry %d kind mismatch: got %v want %v", i, g.Kind, w.Kind)
		}
		switch w.Kind {
		case MetaData:
			if w.DataKey != g.DataKey {
				t.Fatalf("entry %d data key mismatch", i)
			}
		case MetaAuthor:
			if w.Author != g.Author {
				t.Fatalf("entry %d author mismatch: got %q want %q", i, g.Author, w.Author)
			}
		case MetaTimestampKind:
			if w.Timestamp.MsSinceEpoch != g.Timestamp.MsSinceEpoch {
				t.Fatalf("entry %d timestamp mismatch", i)
			}
		case MetaSignatureKind:
			if string(w.Signature.Signature) != string(g.Signature.Signature) {
				t.Fatalf("entry %d signature bytes mismatch", i)
			}
			if !w.Signature.PublicKeyHash.Equal(g.Signature.PublicKeyHash) {
				t.Fatalf("entry %d signature public key hash mismatch", i)
			}
		}
	}
}
