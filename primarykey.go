package chainvault

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// PrimaryKey is the 64-bit row identifier described in spec §3. It can be
// generated at random or derived deterministically by hashing a domain
// string, and defines row identity throughout the chain and the DIO.
type PrimaryKey uint64

// GeneratePrimaryKey returns a fresh random key, using uuid's CSPRNG-backed
// generator as the entropy source (the teacher pulls randomness from
// crypto/rand directly; google/uuid gives the same guarantee plus a
// collision-resistant 128-bit intermediate we fold down to 64 bits).
func GeneratePrimaryKey() PrimaryKey {
	id := uuid.New()
	b := id[:]
	hi := binary.BigEndian.Uint64(b[0:8])
	lo := binary.BigEndian.Uint64(b[8:16])
	return PrimaryKey(hi ^ lo)
}

// PrimaryKeyFromString derives a stable key from a domain string, e.g. for
// well-known singleton rows (group adverts, root records).
func PrimaryKeyFromString(domain string) PrimaryKey {
	h := HashOf([]byte(domain))
	return PrimaryKey(binary.BigEndian.Uint64(h[:8]))
}

func (k PrimaryKey) String() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return hexEncode(b[:])
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// ChainKey names a chain: a 4-hex prefix of a stable domain hash plus an
// optional subdomain label (spec §6).
type ChainKey struct {
	Domain    string
	Subdomain string
}

// NewChainKey derives the key's hex prefix from the domain string.
func NewChainKey(domain, subdomain string) ChainKey {
	return ChainKey{Domain: domain, Subdomain: subdomain}
}

// String renders the on-disk/wire form: "<4hex>[.subdomain]".
func (c ChainKey) String() string {
	h := HashOf([]byte(c.Domain))
	prefix := hexEncode(h[:2])
	if c.Subdomain == "" {
		return prefix
	}
	return prefix + "." + c.Subdomain
}
