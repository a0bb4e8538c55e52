package chainvault

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Format is the wire encoding tag declared in an event's header (spec §3,
// §6). Binary is a compact gob encoding (teacher's mesh transport already
// used encoding/gob for its protocol messages); SelfDescribing is a
// forward-compatible tag/length/value encoding built on protowire's
// low-level varint and length-delimited primitives, so an older reader can
// skip fields it does not recognise.
type Format int

const (
	FormatBinary Format = iota
	FormatSelfDescribing
)

// EventHeader is the decoded form of an event's metadata section.
type EventHeader struct {
	Meta   Metadata
	Format Format
}

// Event is the atomic durable unit appended to the redo log (spec §3).
// DataBytes is nil for tombstones and pure-metadata (batch header) events.
type Event struct {
	Meta      Metadata
	DataBytes []byte
	Format    Format
}

func (e Event) AsHeader() EventHeader {
	return EventHeader{Meta: e.Meta, Format: e.Format}
}

// EncodeHeader serializes the metadata header per the event's declared
// format.
func EncodeHeader(h EventHeader) ([]byte, error) {
	switch h.Format {
	case FormatBinary:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(h.Meta.Core); err != nil {
			return nil, fmt.Errorf("encode header: %w", err)
		}
		return buf.Bytes(), nil
	case FormatSelfDescribing:
		return encodeMetaSelfDescribing(h.Meta), nil
	default:
		return nil, fmt.Errorf("unknown format %d", h.Format)
	}
}

// DecodeHeader parses a header previously produced by EncodeHeader.
func DecodeHeader(raw []byte, format Format) (EventHeader, error) {
	switch format {
	case FormatBinary:
		var core []CoreMetadata
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&core); err != nil {
			return EventHeader{}, fmt.Errorf("decode header: %w", err)
		}
		return EventHeader{Meta: Metadata{Core: core}, Format: format}, nil
	case FormatSelfDescribing:
		core, err := decodeMetaSelfDescribing(raw)
		if err != nil {
			return EventHeader{}, fmt.Errorf("decode header: %w", err)
		}
		return EventHeader{Meta: Metadata{Core: core}, Format: format}, nil
	default:
		return EventHeader{}, fmt.Errorf("unknown format %d", format)
	}
}

// HeaderHash hashes the encoded header; it is the value MetaSignature.
// HeaderHashes lists and signature coverage is checked against.
func HeaderHash(h EventHeader) (Hash, error) {
	raw, err := EncodeHeader(h)
	if err != nil {
		return Hash{}, err
	}
	return HashOf(raw), nil
}

// Self-describing encoding: one length-delimited protowire field per
// CoreMetadata entry (field 1, repeated), each entry itself a small
// tag/value record keyed by CoreMetaKind so a future reader can skip kinds
// it doesn't understand.
const (
	sdFieldEntries   = 1
	sdFieldKind      = 1
	sdFieldDataKey   = 2
	sdFieldTombstone = 3
	sdFieldAuthRead  = 4
	sdFieldAuthWrite = 5
	sdFieldAuthImpl  = 6
	sdFieldTreeParen = 7
	sdFieldTreeIR    = 8
	sdFieldTreeIW    = 9
	sdFieldSigHashes = 10
	sdFieldSigSig    = 11
	sdFieldSigHash   = 12
	sdFieldSigPKHash = 13
	sdFieldTimestamp = 14
	sdFieldAuthor    = 15
	sdFieldPubKey    = 16
)

func encodeMetaSelfDescribing(m Metadata) []byte {
	var out []byte
	for _, c := range m.Core {
		entry := encodeCoreEntry(c)
		out = protowire.AppendTag(out, sdFieldEntries, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

func encodeCoreEntry(c CoreMetadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, sdFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Kind))

	switch c.Kind {
	case MetaData:
		b = protowire.AppendTag(b, sdFieldDataKey, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.DataKey))
	case MetaTombstone:
		b = protowire.AppendTag(b, sdFieldTombstone, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.TombstoneKey))
	case MetaAuthorizationKind:
		for _, h := range c.Auth.ReadHashes {
			b = protowire.AppendTag(b, sdFieldAuthRead, protowire.BytesType)
			b = protowire.AppendBytes(b, h[:])
		}
		for _, h := range c.Auth.WriteHashes {
			b = protowire.AppendTag(b, sdFieldAuthWrite, protowire.BytesType)
			b = protowire.AppendBytes(b, h[:])
		}
		b = protowire.AppendTag(b, sdFieldAuthImpl, protowire.BytesType)
		b = protowire.AppendString(b, c.Auth.ImplicitAuthority)
	case MetaTreeKind:
		b = protowire.AppendTag(b, sdFieldTreeParen, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Tree.Parent))
		b = protowire.AppendTag(b, sdFieldTreeIR, protowire.VarintType)
		b = protowire.AppendVarint(b, boolToU64(c.Tree.InheritRead))
		b = protowire.AppendTag(b, sdFieldTreeIW, protowire.VarintType)
		b = protowire.AppendVarint(b, boolToU64(c.Tree.InheritWrite))
	case MetaSignatureKind:
		for _, h := range c.Signature.HeaderHashes {
			b = protowire.AppendTag(b, sdFieldSigHashes, protowire.BytesType)
			b = protowire.AppendBytes(b, h[:])
		}
		b = protowire.AppendTag(b, sdFieldSigSig, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Signature.Signature)
		b = protowire.AppendTag(b, sdFieldSigHash, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Signature.SignatureHash[:])
		b = protowire.AppendTag(b, sdFieldSigPKHash, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Signature.PublicKeyHash[:])
	case MetaTimestampKind:
		b = protowire.AppendTag(b, sdFieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, c.Timestamp.MsSinceEpoch)
	case MetaAuthor:
		b = protowire.AppendTag(b, sdFieldAuthor, protowire.BytesType)
		b = protowire.AppendString(b, c.Author)
	case MetaPublicKey:
		b = protowire.AppendTag(b, sdFieldPubKey, protowire.BytesType)
		b = protowire.AppendBytes(b, c.PublicKey.Raw)
	}
	return b
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func decodeMetaSelfDescribing(raw []byte) ([]CoreMetadata, error) {
	var core []CoreMetadata
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != sdFieldEntries || typ != protowire.BytesType {
			// forward-compatible: skip unknown top-level field
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		c, err := decodeCoreEntry(entry)
		if err != nil {
			return nil, err
		}
		core = append(core, c)
	}
	return core, nil
}

func decodeCoreEntry(raw []byte) (CoreMetadata, error) {
	var c CoreMetadata
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == sdFieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			c.Kind = CoreMetaKind(v)
			b = b[n:]
		case num == sdFieldDataKey && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.DataKey = PrimaryKey(v)
			b = b[n:]
		case num == sdFieldTombstone && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.TombstoneKey = PrimaryKey(v)
			b = b[n:]
		case num == sdFieldAuthRead && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			var h Hash
			copy(h[:], v)
			c.Auth.ReadHashes = append(c.Auth.ReadHashes, h)
			b = b[n:]
		case num == sdFieldAuthWrite && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			var h Hash
			copy(h[:], v)
			c.Auth.WriteHashes = append(c.Auth.WriteHashes, h)
			b = b[n:]
		case num == sdFieldAuthImpl && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			c.Auth.ImplicitAuthority = string(v)
			b = b[n:]
		case num == sdFieldTreeParen && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.Tree.Parent = PrimaryKey(v)
			b = b[n:]
		case num == sdFieldTreeIR && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.Tree.InheritRead = v != 0
			b = b[n:]
		case num == sdFieldTreeIW && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.Tree.InheritWrite = v != 0
			b = b[n:]
		case num == sdFieldSigHashes && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			var h Hash
			copy(h[:], v)
			c.Signature.HeaderHashes = append(c.Signature.HeaderHashes, h)
			b = b[n:]
		case num == sdFieldSigSig && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			c.Signature.Signature = append([]byte(nil), v...)
			b = b[n:]
		case num == sdFieldSigHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			copy(c.Signature.SignatureHash[:], v)
			b = b[n:]
		case num == sdFieldSigPKHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			copy(c.Signature.PublicKeyHash[:], v)
			b = b[n:]
		case num == sdFieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			c.Timestamp.MsSinceEpoch = v
			b = b[n:]
		case num == sdFieldAuthor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			c.Author = string(v)
			b = b[n:]
		case num == sdFieldPubKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			c.PublicKey.Raw = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return c, nil
}
