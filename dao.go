package chainvault

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Dao is a typed handle onto one row inside a Dio (spec §4.F). Mutating any
// field through Set marks the row dirty and locks its key until this Dao or
// the owning Dio commits, giving read-your-writes-but-no-dirty-reads
// isolation.
type Dao[T any] struct {
	Key   PrimaryKey
	Data  T
	Meta  Metadata
	dio   *Dio
	dirty bool
}

// Set replaces the row's data and marks it dirty, locking Key within the
// owning Dio (spec §4.F "Dao mutation").
func (d *Dao[T]) Set(data T) {
	d.Data = data
	d.dirty = true
	d.dio.lock(d.Key)
}

// Delete moves the row to the Dio's deleted set, removing any staged
// counterpart (spec §4.F "Dao::delete").
func (d *Dao[T]) Delete() {
	d.dio.deleteKey(d.Key)
}

// SetAuthorization attaches or replaces the row's read/write authorization
// and marks it dirty, so the restriction is staged along with the row's data
// on the next Commit (spec §3 "Row", §4.I, §8 scenario S1). Replacing rather
// than appending keeps a header from ever carrying two authorization
// entries for the same row.
func (d *Dao[T]) SetAuthorization(auth MetaAuthorization) {
	var core []CoreMetadata
	for _, c := range d.Meta.Core {
		if c.Kind != MetaAuthorizationKind {
			core = append(core, c)
		}
	}
	d.Meta.Core = append(core, AuthorizationMeta(auth))
	d.dirty = true
	d.dio.lock(d.Key)
}

// Commit flushes just this row into the Dio's staging area and releases its
// key's lock, so a later Load in the same Dio resolves to the staged row
// (spec §8 scenario S1). A Dao that is mutated but not committed keeps its
// key locked until the whole Dio commits (scenario S3).
func (d *Dao[T]) Commit() error {
	if !d.dirty {
		return nil
	}
	raw, err := encodeDao(d.Data)
	if err != nil {
		return &CommitError{Kind: CommitErrSerialization, Cause: err}
	}
	d.dio.stageRow(stagedRow{Key: d.Key, Meta: d.Meta, Payload: raw})
	d.dirty = false
	d.dio.mu.Lock()
	delete(d.dio.locked, d.Key)
	d.dio.mu.Unlock()
	return nil
}

func encodeDao[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode dao payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeDao[T any](raw []byte) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
		return out, fmt.Errorf("decode dao payload: %w", err)
	}
	return out, nil
}

// DaoVec is an ordered collection of child rows hanging off a parent key
// under a collection id (spec §4.F "children", §8 property 8 "collection
// membership").
type DaoVec[T any] struct {
	Parent       PrimaryKey
	CollectionID string
	dio          *Dio
}

// Push stages a new child row tied to Parent/CollectionID, inheriting tree
// authorization per the Dio's store_ext default.
func (v *DaoVec[T]) Push(data T) (*Dao[T], error) {
	return storeChild[T](v.dio, v.Parent, v.CollectionID, data)
}

// Children loads every live child under Parent/CollectionID.
func (v *DaoVec[T]) Children() ([]*Dao[T], error) {
	return childrenOf[T](v.dio, v.Parent, v.CollectionID)
}
