package chainvault

import "testing"

func TestVerifySignatureCoverageNoneNeeded(t *testing.T) {
	header := EventHeader{Meta: ForData(PrimaryKey(1))}
	h, _ := HeaderHash(header)
	if err := verifySignatureCoverage(header, h, newTrustedKeys()); err != nil {
		t.Fatalf("header with no write restriction should need no signature: %v", err)
	}
}

func TestVerifySignatureCoverageMissingSignature(t *testing.T) {
	priv, _ := GeneratePrivateKey()
	meta := ForData(PrimaryKey(1))
	meta.Core = append(meta.Core, AuthorizationMeta(MetaAuthorization{WriteHashes: []Hash{priv.Public.Hash()}}))
	header := EventHeader{Meta: meta}
	h, _ := HeaderHash(header)

	err := verifySignatureCoverage(header, h, newTrustedKeys())
	var ve *ValidationError
	if err == nil {
		t.Fatal("expected an error for a signature-required header with no signature")
	}
	if !asValidationError(err, &ve) || ve.Kind != ValidationErrMissingSignature {
		t.Fatalf("got %v, want ValidationErrMissingSignature", err)
	}
}

func TestVerifySignatureCoverageUnknownKey(t *testing.T) {
	priv, _ := GeneratePrivateKey()
	meta := ForData(PrimaryKey(1))
	meta.Core = append(meta.Core, AuthorizationMeta(MetaAuthorization{WriteHashes: []Hash{priv.Public.Hash()}}))
	header := EventHeader{Meta: meta}
	h, _ := HeaderHash(header)
	sig := priv.Sign(h)
	meta.Core = append(meta.Core, SignatureMeta(MetaSignature{
		HeaderHashes:  []Hash{h},
		SignatureHash: h,
		PublicKeyHash: priv.Public.Hash(),
		Signature:     sig,
	}))
	header.Meta = meta

	err := verifySignatureCoverage(header, h, newTrustedKeys())
	var ve *ValidationError
	if !asValidationError(err, &ve) || ve.Kind != ValidationErrUnknownKey {
		t.Fatalf("got %v, want ValidationErrUnknownKey for an untrusted signer", err)
	}
}

func TestVerifySignatureCoverageTrustedSigner(t *testing.T) {
	priv, _ := GeneratePrivateKey()
	meta := ForData(PrimaryKey(1))
	meta.Core = append(meta.Core, AuthorizationMeta(MetaAuthorization{WriteHashes: []Hash{priv.Public.Hash()}}))
	header := EventHeader{Meta: meta}
	h, _ := HeaderHash(header)
	sig := priv.Sign(h)
	meta.Core = append(meta.Core, SignatureMeta(MetaSignature{
		HeaderHashes:  []Hash{h},
		SignatureHash: h,
		PublicKeyHash: priv.Public.Hash(),
		Signature:     sig,
	}))
	header.Meta = meta

	trust := newTrustedKeys()
	trust.add(priv.Public)
	if err := verifySignatureCoverage(header, h, trust); err != nil {
		t.Fatalf("verifySignatureCoverage with a trusted signer should pass: %v", err)
	}
}

func TestSignBatchOneEnvelopePerWriteKey(t *testing.T) {
	k1, _ := GeneratePrivateKey()
	k2, _ := GeneratePrivateKey()
	hashes := []Hash{HashOf([]byte("a")), HashOf([]byte("b"))}

	entries, err := signBatch(hashes, []PrivateKey{k1, k2, k1})
	if err != nil {
		t.Fatalf("signBatch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("signBatch produced %d envelopes, want 2 (one per distinct key)", len(entries))
	}
	for _, e := range entries {
		if len(e.Signature.HeaderHashes) != 2 {
			t.Fatalf("envelope should cover all %d header hashes, got %d", len(hashes), len(e.Signature.HeaderHashes))
		}
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}
