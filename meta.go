package chainvault

// MetaAuthorization records the read/write hash sets and implicit authority
// string that gate a row (spec §3, §4.I).
type MetaAuthorization struct {
	ReadHashes        []Hash
	WriteHashes       []Hash
	ImplicitAuthority string
}

// SatisfiesRead reports whether session holds a read key matching auth.
func (a MetaAuthorization) SatisfiesRead(s *Session) bool {
	if len(a.ReadHashes) == 0 {
		return true
	}
	for _, rk := range s.ReadKeys() {
		h := rk.Hash()
		for _, want := range a.ReadHashes {
			if h.Equal(want) {
				return true
			}
		}
	}
	return false
}

// SatisfiesWrite reports whether session holds a write key matching auth.
func (a MetaAuthorization) SatisfiesWrite(s *Session) bool {
	if len(a.WriteHashes) == 0 {
		return true
	}
	for _, wk := range s.WriteKeys() {
		h := wk.Public.Hash()
		for _, want := range a.WriteHashes {
			if h.Equal(want) {
				return true
			}
		}
	}
	return false
}

// NeedsSignature is true iff any write restriction is present — a row with
// no write-key restriction carries no signing obligation.
func (a MetaAuthorization) NeedsSignature() bool {
	return len(a.WriteHashes) > 0
}

// MetaTree links a row to a parent and carries authorization-inheritance
// flags (spec §3).
type MetaTree struct {
	Parent       PrimaryKey
	InheritRead  bool
	InheritWrite bool
}

// MetaSignature is the signature envelope described in spec §4.E: one per
// distinct write key referenced by a committed batch, covering every event
// hash in HeaderHashes.
type MetaSignature struct {
	HeaderHashes  []Hash
	SignatureHash Hash
	PublicKeyHash Hash
	Signature     []byte
}

// MetaTimestamp is attached by the timestamp enforcer linter (spec §4.H).
type MetaTimestamp struct {
	MsSinceEpoch uint64
}

// CoreMetaKind tags the closed union of header entries (spec §3).
type CoreMetaKind int

const (
	MetaNone CoreMetaKind = iota
	MetaData
	MetaTombstone
	MetaAuthorizationKind
	MetaTreeKind
	MetaInitializationVector
	MetaPublicKey
	MetaEncryptedPrivateKey
	MetaEncryptedEncryptionKey
	MetaSignatureKind
	MetaTimestampKind
	MetaAuthor
)

// CoreMetadata is one entry in an event's metadata header. Only the field
// matching Kind is meaningful; this mirrors the Rust enum's tagged-union
// shape without resorting to an interface-per-variant hierarchy.
type CoreMetadata struct {
	Kind CoreMetaKind

	DataKey      PrimaryKey
	TombstoneKey PrimaryKey
	Auth         MetaAuthorization
	Tree         MetaTree
	IV           [24]byte
	PublicKey    PublicKey
	EncPrivate   EncryptedPrivateKey
	EncEncKey    EncryptedEncryptionKey
	Signature    MetaSignature
	Timestamp    MetaTimestamp
	Author       string
}

func DataMeta(pk PrimaryKey) CoreMetadata {
	return CoreMetadata{Kind: MetaData, DataKey: pk}
}

func TombstoneMeta(pk PrimaryKey) CoreMetadata {
	return CoreMetadata{Kind: MetaTombstone, TombstoneKey: pk}
}

func AuthorizationMeta(a MetaAuthorization) CoreMetadata {
	return CoreMetadata{Kind: MetaAuthorizationKind, Auth: a}
}

func TreeMeta(t MetaTree) CoreMetadata {
	return CoreMetadata{Kind: MetaTreeKind, Tree: t}
}

func SignatureMeta(s MetaSignature) CoreMetadata {
	return CoreMetadata{Kind: MetaSignatureKind, Signature: s}
}

func TimestampMeta(ms uint64) CoreMetadata {
	return CoreMetadata{Kind: MetaTimestampKind, Timestamp: MetaTimestamp{MsSinceEpoch: ms}}
}

func AuthorMeta(identity string) CoreMetadata {
	return CoreMetadata{Kind: MetaAuthor, Author: identity}
}

func PublicKeyMeta(pk PublicKey) CoreMetadata {
	return CoreMetadata{Kind: MetaPublicKey, PublicKey: pk}
}

// Metadata is the ordered header vector carried by every Event (spec §3,
// §4.B).
type Metadata struct {
	Core []CoreMetadata
}

// ForData constructs a fresh header naming the row an event mutates.
func ForData(pk PrimaryKey) Metadata {
	return Metadata{Core: []CoreMetadata{DataMeta(pk)}}
}

// AddTombstone appends a tombstone entry. It is a programming error to call
// this on a header that already carries a Data entry for the same row; the
// DIO never does so (store/delete build disjoint metadata headers).
func (m *Metadata) AddTombstone(pk PrimaryKey) {
	m.Core = append(m.Core, TombstoneMeta(pk))
}

// GetDataKey returns the first Data entry's key, if any.
func (m Metadata) GetDataKey() (PrimaryKey, bool) {
	for _, c := range m.Core {
		if c.Kind == MetaData {
			return c.DataKey, true
		}
	}
	return 0, false
}

// GetTombstone returns the first Tombstone entry's key, if any.
func (m Metadata) GetTombstone() (PrimaryKey, bool) {
	for _, c := range m.Core {
		if c.Kind == MetaTombstone {
			return c.TombstoneKey, true
		}
	}
	return 0, false
}

// GetAuthorization returns the authorization entry, if any.
func (m Metadata) GetAuthorization() (MetaAuthorization, bool) {
	for _, c := range m.Core {
		if c.Kind == MetaAuthorizationKind {
			return c.Auth, true
		}
	}
	return MetaAuthorization{}, false
}

// GetTree returns the tree-link entry, if any.
func (m Metadata) GetTree() (MetaTree, bool) {
	for _, c := range m.Core {
		if c.Kind == MetaTreeKind {
			return c.Tree, true
		}
	}
	return MetaTree{}, false
}

// GetTimestamp returns the timestamp entry, if any.
func (m Metadata) GetTimestamp() (MetaTimestamp, bool) {
	for _, c := range m.Core {
		if c.Kind == MetaTimestampKind {
			return c.Timestamp, true
		}
	}
	return MetaTimestamp{}, false
}

// Signatures returns every signature envelope carried by the header.
func (m Metadata) Signatures() []MetaSignature {
	var out []MetaSignature
	for _, c := range m.Core {
		if c.Kind == MetaSignatureKind {
			out = append(out, c.Signature)
		}
	}
	return out
}

// NeedsSignature is true iff the header's authorization entry restricts
// writes to specific keys.
func (m Metadata) NeedsSignature() bool {
	auth, ok := m.GetAuthorization()
	if !ok {
		return false
	}
	return auth.NeedsSignature()
}
