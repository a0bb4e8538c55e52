package chainvault

import (
	"time"

	"go.uber.org/zap"
)

// Config threads the knobs a Chain and RedoLog need through their
// constructors (mirrors the teacher logger's Config struct —
// no package-level mutable config, no env-var magic).
type Config struct {
	// RotateAfterBytes is the active-segment size threshold (spec §4.C).
	RotateAfterBytes int64
	// CompactEvery is not read by any code in this package; Chain.Compact
	// runs only when called.
	CompactEvery uint64
	// PrimaryCacheSize is not read by any code in this package; the chain
	// resolves keys through the sidecar index and keeps no primary-index LRU.
	PrimaryCacheSize int
	// LoadCacheSize is not read by NewDio, which takes its load_cache size
	// as an argument.
	LoadCacheSize int
	// NTPPool, NTPPort and NTPTolerance are not read by
	// NewTimestampEnforcer, which takes its pool, port and tolerance as
	// arguments.
	NTPPool      string
	NTPPort      uint16
	NTPTolerance time.Duration
	// SidecarIndex enables the optional SQLite offset->leaf sidecar index.
	SidecarIndex bool
	// Log receives rotation/compaction lines from RedoLog and Chain. Nil
	// falls back to a no-op logger, matching the package's "never crash on
	// an unconfigured logger" stance (logging.go NewLogger is the real one).
	Log *zap.Logger
}

// DefaultConfig returns sane defaults matching the teacher's own defaults
// (anchors/rotation roughly every few thousand records, NTP pool.ntp.org).
func DefaultConfig() Config {
	return Config{
		RotateAfterBytes: 64 << 20,
		CompactEvery:     10_000,
		PrimaryCacheSize: 4096,
		LoadCacheSize:    1024,
		NTPPool:          "pool.ntp.org",
		NTPPort:          123,
		NTPTolerance:     200 * time.Millisecond,
		SidecarIndex:     true,
	}
}
