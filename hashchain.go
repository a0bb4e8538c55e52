package chainvault

import "fmt"

// trustedKeys tracks every public key the chain has ever accepted via a
// genesis or PublicKey metadata entry, keyed by hash, so a validator can
// answer "is this signer known to the chain" (spec §8 property 6). Adapted
// from the teacher's verifier pattern of checking a signature tag against an
// accumulated key chain, replacing the teacher's HMAC key-ratchet with
// ed25519 public-key accumulation since the chain's trust model is
// asymmetric (spec §4.A).
type trustedKeys struct {
	byHash map[Hash]PublicKey
}

func newTrustedKeys() *trustedKeys {
	return &trustedKeys{byHash: make(map[Hash]PublicKey)}
}

func (t *trustedKeys) add(pk PublicKey) {
	t.byHash[pk.Hash()] = pk
}

func (t *trustedKeys) get(h Hash) (PublicKey, bool) {
	pk, ok := t.byHash[h]
	return pk, ok
}

// verifySignatureCoverage implements testable property 6: every header whose
// authorization needs a signature must carry at least one Signature entry
// that (a) lists the header's own hash in HeaderHashes, (b) hashes a
// signature produced by a key this chain trusts, and (c) verifies under that
// key. extra carries signature envelopes from outside the header itself,
// namely the batch-metadata event SignatureLinter produces alongside the
// rows it covers (spec §4.D step 3), since a batch signature is never
// folded into the signed rows' own headers.
func verifySignatureCoverage(header EventHeader, headerHash Hash, trust *trustedKeys, extra ...MetaSignature) error {
	if !header.Meta.NeedsSignature() {
		return nil
	}
	sigs := append(append([]MetaSignature(nil), header.Meta.Signatures()...), extra...)
	if len(sigs) == 0 {
		return &ValidationError{Kind: ValidationErrMissingSignature}
	}
	for _, sig := range sigs {
		if !coversHash(sig, headerHash) {
			continue
		}
		pk, ok := trust.get(sig.PublicKeyHash)
		if !ok {
			continue
		}
		if !pk.Verify(sig.SignatureHash, sig.Signature) {
			continue
		}
		return nil
	}
	return &ValidationError{Kind: ValidationErrUnknownKey}
}

func coversHash(sig MetaSignature, h Hash) bool {
	for _, hh := range sig.HeaderHashes {
		if hh.Equal(h) {
			return true
		}
	}
	return false
}

// signBatch produces one MetaSignature envelope per distinct key in
// writeKeys, covering every header hash in the batch (spec §4.E "Signing
// policy"); SignatureLinter passes it only the session's write keys that the
// batch's row authorizations reference. It is the ManyLinter half
// of the batch-metadata entry the pipeline assembles at commit time.
func signBatch(headerHashes []Hash, writeKeys []PrivateKey) ([]CoreMetadata, error) {
	if len(headerHashes) == 0 || len(writeKeys) == 0 {
		return nil, nil
	}
	envelopeHash := HashOf(flattenHashes(headerHashes)...)
	var out []CoreMetadata
	seen := make(map[Hash]bool)
	for _, wk := range writeKeys {
		ph := wk.Public.Hash()
		if seen[ph] {
			continue
		}
		seen[ph] = true
		sig := wk.Sign(envelopeHash)
		out = append(out, SignatureMeta(MetaSignature{
			HeaderHashes:  append([]Hash(nil), headerHashes...),
			SignatureHash: envelopeHash,
			PublicKeyHash: ph,
			Signature:     sig,
		}))
	}
	return out, nil
}

// SignatureLinter is the production ManyLinter (spec §4.D step 3, §4.E
// "Signing policy"): it signs every write-restricted header in the batch
// with each distinct session write key that one of those headers'
// authorizations names, via signBatch. A batch with no write-restricted
// rows, or a session holding none of the named write keys, contributes
// nothing.
type SignatureLinter struct{}

func (SignatureLinter) LintMany(events []LintData, session *Session) ([]CoreMetadata, error) {
	var headerHashes []Hash
	referenced := make(map[Hash]bool)
	for _, e := range events {
		if !e.Header.Meta.NeedsSignature() {
			continue
		}
		h, err := HeaderHash(e.Header)
		if err != nil {
			return nil, fmt.Errorf("signature linter: %w", err)
		}
		headerHashes = append(headerHashes, h)
		auth, _ := e.Header.Meta.GetAuthorization()
		for _, wh := range auth.WriteHashes {
			referenced[wh] = true
		}
	}
	if len(headerHashes) == 0 {
		return nil, nil
	}
	var signers []PrivateKey
	for _, wk := range session.WriteKeys() {
		if referenced[wk.Public.Hash()] {
			signers = append(signers, wk)
		}
	}
	return signBatch(headerHashes, signers)
}

func flattenHashes(hs []Hash) [][]byte {
	out := make([][]byte, len(hs))
	for i, h := range hs {
		out[i] = h[:]
	}
	return out
}
