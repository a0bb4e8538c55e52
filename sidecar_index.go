package chainvault

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// EventLeaf locates one accepted event on disk: which segment file and byte
// offset within it (spec §4.C "segmented redo log").
type EventLeaf struct {
	Segment int
	Offset  int64
}

// sidecarIndex is the optional SQLite-backed offset->leaf index (spec §4.C,
// Config.SidecarIndex) that lets a Chain resolve a PrimaryKey to its latest
// leaf without a full replay. Grounded on the teacher's sqliteStore: WAL
// journal mode, a single serializable writer, schema-qualified PRAGMAs set
// once at open.
type sidecarIndex struct {
	db *sql.DB
}

func openSidecarIndex(dsn string) (*sidecarIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sidecar index: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sidecar index: %w", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS primary_index (
  primary_key INTEGER PRIMARY KEY,
  segment     INTEGER NOT NULL,
  offset      INTEGER NOT NULL,
  tombstone   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS secondary_index (
  parent_key  INTEGER NOT NULL,
  primary_key INTEGER NOT NULL,
  PRIMARY KEY (parent_key, primary_key)
);
CREATE INDEX IF NOT EXISTS secondary_parent_ix ON secondary_index(parent_key);
CREATE TABLE IF NOT EXISTS pubkey_index (
  key_hash BLOB PRIMARY KEY,
  raw      BLOB NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sidecar schema: %w", err)
	}
	return &sidecarIndex{db: db}, nil
}

// indexLeaf records (or updates) the latest leaf for a primary key, and
// maintains the parent->child secondary index when the event carries a
// MetaTree link. A tombstone marks the row without removing it, so lookups
// can still report "deleted" instead of "unknown".
func (s *sidecarIndex) indexLeaf(leaf EventLeaf, meta Metadata) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if pk, ok := meta.GetTombstone(); ok {
		if _, err := tx.Exec(
			`INSERT INTO primary_index(primary_key, segment, offset, tombstone) VALUES(?, ?, ?, 1)
			 ON CONFLICT(primary_key) DO UPDATE SET segment=excluded.segment, offset=excluded.offset, tombstone=1`,
			int64(pk), leaf.Segment, leaf.Offset,
		); err != nil {
			return fmt.Errorf("tombstone %s: %w", pk, err)
		}
		return tx.Commit()
	}

	pk, ok := meta.GetDataKey()
	if !ok {
		return tx.Commit()
	}
	if _, err := tx.Exec(
		`INSERT INTO primary_index(primary_key, segment, offset, tombstone) VALUES(?, ?, ?, 0)
		 ON CONFLICT(primary_key) DO UPDATE SET segment=excluded.segment, offset=excluded.offset, tombstone=0`,
		int64(pk), leaf.Segment, leaf.Offset,
	); err != nil {
		return fmt.Errorf("index %s: %w", pk, err)
	}

	if tree, ok := meta.GetTree(); ok {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO secondary_index(parent_key, primary_key) VALUES(?, ?)`,
			int64(tree.Parent), int64(pk),
		); err != nil {
			return fmt.Errorf("index tree link %s->%s: %w", tree.Parent, pk, err)
		}
	}

	if c, ok := findCoreKind(meta, MetaPublicKey); ok {
		h := c.PublicKey.Hash()
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO pubkey_index(key_hash, raw) VALUES(?, ?)`,
			h[:], []byte(c.PublicKey.Raw),
		); err != nil {
			return fmt.Errorf("index public key: %w", err)
		}
	}

	return tx.Commit()
}

func findCoreKind(m Metadata, kind CoreMetaKind) (CoreMetadata, bool) {
	for _, c := range m.Core {
		if c.Kind == kind {
			return c, true
		}
	}
	return CoreMetadata{}, false
}

// lookupPrimary resolves the latest leaf for a key. ok is false if the key
// has never been seen; tombstoned is true if the key's latest state is a
// deletion (spec §4.C "lookup_primary").
func (s *sidecarIndex) lookupPrimary(pk PrimaryKey) (leaf EventLeaf, tombstoned bool, ok bool, err error) {
	var segment int
	var offset int64
	var tomb int
	row := s.db.QueryRow(`SELECT segment, offset, tombstone FROM primary_index WHERE primary_key=?`, int64(pk))
	switch err := row.Scan(&segment, &offset, &tomb); {
	case errors.Is(err, sql.ErrNoRows):
		return EventLeaf{}, false, false, nil
	case err != nil:
		return EventLeaf{}, false, false, err
	}
	return EventLeaf{Segment: segment, Offset: offset}, tomb != 0, true, nil
}

// lookupSecondary returns every live (non-tombstoned) child of parent, in
// no particular order (spec §4.C "lookup_secondary_raw").
func (s *sidecarIndex) lookupSecondary(parent PrimaryKey) ([]PrimaryKey, error) {
	rows, err := s.db.Query(`
		SELECT s.primary_key FROM secondary_index s
		JOIN primary_index p ON p.primary_key = s.primary_key
		WHERE s.parent_key = ? AND p.tombstone = 0`, int64(parent))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PrimaryKey
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		out = append(out, PrimaryKey(pk))
	}
	return out, rows.Err()
}

// allLive returns every primary key not currently tombstoned, used by
// Chain.Compact to enumerate what must survive (spec §4.E).
func (s *sidecarIndex) allLive() ([]PrimaryKey, error) {
	rows, err := s.db.Query(`SELECT primary_key FROM primary_index WHERE tombstone = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PrimaryKey
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		out = append(out, PrimaryKey(pk))
	}
	return out, rows.Err()
}

func (s *sidecarIndex) close() error { return s.db.Close() }
