package chainvault

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// stagedRow is one row waiting to be turned into an event at commit time.
type stagedRow struct {
	Key     PrimaryKey
	Meta    Metadata
	Payload []byte
	Deleted bool
}

type cachedEvent struct {
	Meta    Metadata
	Payload []byte
}

// Dio is the transactional view bound to (chain, session, scope) described
// in spec §4.F. It is the sole mutation surface applications use; a Dio is
// not safe for concurrent use by multiple goroutines, mirroring the DIO's
// own internal mutex guarding state independent of the chain mutex (spec
// §5 "never acquired while holding the chain mutex").
type Dio struct {
	mu       sync.Mutex
	chain    *ChainMulti
	session  *Session
	scope    TransactionScope
	pipeline *Pipeline
	pipe     Pipe

	stagedByKey        map[PrimaryKey]stagedRow
	stagedOrder        []PrimaryKey
	stagedByCollection map[collectionKey][]PrimaryKey

	loadCache *lru.Cache[PrimaryKey, cachedEvent]
	locked    map[PrimaryKey]bool
	deleted   map[PrimaryKey]bool
}

type collectionKey struct {
	Parent PrimaryKey
	ID     string
}

// NewDio opens a transactional view over chain for session, acknowledging
// commits per scope (spec §4.F). The Dio's pipe is always a LocalPipe over
// chain.
func NewDio(chain *Chain, session *Session, scope TransactionScope, pipeline *Pipeline, loadCacheSize int) (*Dio, error) {
	cache, err := lru.New[PrimaryKey, cachedEvent](maxInt(loadCacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("new dio: %w", err)
	}
	return &Dio{
		chain:              chain.Multi(),
		session:            session,
		scope:              scope,
		pipeline:           pipeline,
		pipe:               &LocalPipe{Chain: chain},
		stagedByKey:        make(map[PrimaryKey]stagedRow),
		stagedByCollection: make(map[collectionKey][]PrimaryKey),
		loadCache:          cache,
		locked:             make(map[PrimaryKey]bool),
		deleted:            make(map[PrimaryKey]bool),
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (d *Dio) lock(pk PrimaryKey) {
	d.mu.Lock()
	d.locked[pk] = true
	d.mu.Unlock()
}

func (d *Dio) deleteKey(pk PrimaryKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleted[pk] {
		return // tombstone idempotence (spec §8 property 5)
	}
	d.deleted[pk] = true
	delete(d.stagedByKey, pk)
	d.loadCache.Remove(pk)
}

func (d *Dio) stageRow(row stagedRow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.stagedByKey[row.Key]; !exists {
		d.stagedOrder = append(d.stagedOrder, row.Key)
	}
	d.stagedByKey[row.Key] = row
	if tree, ok := row.Meta.GetTree(); ok {
		ck := collectionKey{Parent: tree.Parent, ID: collectionIDFromMeta(row.Meta)}
		d.stagedByCollection[ck] = appendUnique(d.stagedByCollection[ck], row.Key)
	}
}

func appendUnique(keys []PrimaryKey, pk PrimaryKey) []PrimaryKey {
	for _, k := range keys {
		if k == pk {
			return keys
		}
	}
	return append(keys, pk)
}

// collectionIDFromMeta returns the collection id a child row was tagged
// with: storeChild records the DaoVec's CollectionID verbatim as the row's
// Author entry. A row with no Author entry yields the empty id.
func collectionIDFromMeta(m Metadata) string {
	if c, ok := findCoreKind(m, MetaAuthor); ok {
		return c.Author
	}
	return ""
}

// Store creates a new row with a fresh primary key and the binary wire
// format (spec §4.F "store"). The row's metadata holds only its Data entry:
// no tree link and no authorization entry are added.
func Store[T any](dio *Dio, data T) (*Dao[T], error) {
	return StoreExt[T](dio, data, FormatBinary, GeneratePrimaryKey())
}

// StoreExt creates a new row under a caller-supplied primary key (spec §4.F
// "store_ext"). The format argument is not recorded on the row: Dio.Commit
// writes every row as FormatBinary.
func StoreExt[T any](dio *Dio, data T, format Format, key PrimaryKey) (*Dao[T], error) {
	meta := ForData(key)
	dao := &Dao[T]{Key: key, Data: data, Meta: meta, dio: dio, dirty: true}
	dio.lock(key)
	return dao, nil
}

// storeChild is Store plus a MetaTree link to parent/collectionID, used by
// DaoVec.Push (spec §4.F, §8 property 8).
func storeChild[T any](dio *Dio, parent PrimaryKey, collectionID string, data T) (*Dao[T], error) {
	key := GeneratePrimaryKey()
	meta := ForData(key)
	meta.Core = append(meta.Core, TreeMeta(MetaTree{Parent: parent, InheritRead: true, InheritWrite: true}))
	meta.Core = append(meta.Core, AuthorMeta(collectionID))
	dao := &Dao[T]{Key: key, Data: data, Meta: meta, dio: dio, dirty: true}
	dio.lock(key)
	return dao, nil
}

// Load resolves pk to a typed Dao following the precedence order in spec
// §4.F "load": locked, staged, load_cache, deleted, then the chain's
// primary index.
func Load[T any](dio *Dio, pk PrimaryKey) (*Dao[T], error) {
	dio.mu.Lock()
	if dio.locked[pk] {
		dio.mu.Unlock()
		return nil, &LoadError{Kind: LoadErrObjectStillLocked, Key: pk}
	}
	if row, ok := dio.stagedByKey[pk]; ok {
		dio.mu.Unlock()
		data, err := decodeDao[T](row.Payload)
		if err != nil {
			return nil, &LoadError{Kind: LoadErrSerialization, Key: pk, Cause: err}
		}
		return &Dao[T]{Key: pk, Data: data, Meta: row.Meta, dio: dio}, nil
	}
	if cached, ok := dio.loadCache.Get(pk); ok {
		dio.mu.Unlock()
		data, err := decodeDao[T](cached.Payload)
		if err != nil {
			return nil, &LoadError{Kind: LoadErrSerialization, Key: pk, Cause: err}
		}
		return &Dao[T]{Key: pk, Data: data, Meta: cached.Meta, dio: dio}, nil
	}
	if dio.deleted[pk] {
		dio.mu.Unlock()
		return nil, &LoadError{Kind: LoadErrAlreadyDeleted, Key: pk}
	}
	dio.mu.Unlock()

	leaf, tombstoned, ok, err := dio.chain.LookupPrimary(pk)
	if err != nil {
		return nil, &LoadError{Kind: LoadErrSerialization, Key: pk, Cause: err}
	}
	if !ok {
		return nil, &LoadError{Kind: LoadErrNotFound, Key: pk}
	}
	if tombstoned {
		return nil, &LoadError{Kind: LoadErrNotFound, Key: pk}
	}
	header, payload, err := dio.chain.Load(leaf, dio.session)
	if err != nil {
		return nil, &LoadError{Kind: LoadErrMissingReadKey, Key: pk, Cause: err}
	}

	dio.mu.Lock()
	dio.loadCache.Add(pk, cachedEvent{Meta: header.Meta, Payload: payload})
	dio.mu.Unlock()

	data, err := decodeDao[T](payload)
	if err != nil {
		return nil, &LoadError{Kind: LoadErrSerialization, Key: pk, Cause: err}
	}
	return &Dao[T]{Key: pk, Data: data, Meta: header.Meta, dio: dio}, nil
}

// Children returns the union of chain-indexed and locally staged children of
// parent under collectionID, deduplicated by key (spec §4.F "children").
func Children[T any](dio *Dio, parent PrimaryKey, collectionID string) ([]*Dao[T], error) {
	return childrenOf[T](dio, parent, collectionID)
}

func childrenOf[T any](dio *Dio, parent PrimaryKey, collectionID string) ([]*Dao[T], error) {
	seen := make(map[PrimaryKey]bool)
	var out []*Dao[T]

	chainChildren, err := dio.chain.LookupSecondaryRaw(parent)
	if err != nil {
		return nil, fmt.Errorf("children: %w", err)
	}
	for _, pk := range chainChildren {
		dio.mu.Lock()
		skip := dio.locked[pk] || dio.deleted[pk]
		dio.mu.Unlock()
		if skip || seen[pk] {
			continue
		}
		dao, err := Load[T](dio, pk)
		if err != nil {
			if _, ok := err.(*LoadError); ok {
				continue
			}
			return nil, err
		}
		if collectionID != "" && collectionIDFromMeta(dao.Meta) != collectionID {
			continue
		}
		seen[pk] = true
		out = append(out, dao)
	}

	dio.mu.Lock()
	staged := append([]PrimaryKey(nil), dio.stagedByCollection[collectionKey{Parent: parent, ID: collectionID}]...)
	dio.mu.Unlock()
	for _, pk := range staged {
		if seen[pk] {
			continue
		}
		dao, err := Load[T](dio, pk)
		if err != nil {
			continue
		}
		seen[pk] = true
		out = append(out, dao)
	}

	return out, nil
}

// Commit drains staged_rows in insertion order, followed by one tombstone
// per deleted key (the relative order of the tombstones is not defined),
// constructs events, enriches metadata via the pipeline, assembles a leading
// batch-metadata event if cross-event lint produced entries, and issues a
// single transaction with the Dio's scope (spec §4.F "Dio::commit"). On
// error the Dio state is left intact so the caller may re-commit after
// remediation.
func (d *Dio) Commit() error {
	d.mu.Lock()
	order := append([]PrimaryKey(nil), d.stagedOrder...)
	rows := make(map[PrimaryKey]stagedRow, len(d.stagedByKey))
	for k, v := range d.stagedByKey {
		rows[k] = v
	}
	deletedKeys := make([]PrimaryKey, 0, len(d.deleted))
	for k := range d.deleted {
		deletedKeys = append(deletedKeys, k)
	}
	d.mu.Unlock()

	if len(order) == 0 && len(deletedKeys) == 0 {
		return nil
	}

	events := make([]Event, 0, len(order)+len(deletedKeys))
	for _, k := range order {
		row, ok := rows[k]
		if !ok {
			continue // staged, then removed by Delete
		}
		events = append(events, Event{Meta: row.Meta, DataBytes: row.Payload, Format: FormatBinary})
	}
	for _, k := range deletedKeys {
		events = append(events, Event{Meta: Metadata{Core: []CoreMetadata{TombstoneMeta(k)}}, Format: FormatBinary})
	}

	lintInput := make([]LintData, len(events))
	for i, ev := range events {
		lintInput[i] = LintData{Event: ev, Header: ev.AsHeader()}
	}
	extra, err := d.pipeline.LintMany(lintInput, d.session)
	if err != nil {
		return &CommitError{Kind: CommitErrLint, Cause: err}
	}
	if len(extra) > 0 {
		batchHeader := Metadata{Core: extra}
		events = append([]Event{{Meta: batchHeader, Format: FormatBinary}}, events...)
	}

	tx := Transaction{Scope: d.scope, Events: events, Session: d.session}
	if d.scope != ScopeNone {
		tx.Result = make(chan error, 1)
	}
	if err := d.pipe.Feed(tx); err != nil {
		return &CommitError{Kind: CommitErrTransmit, Cause: err}
	}
	if tx.Result != nil {
		if err := <-tx.Result; err != nil {
			return err
		}
	}

	d.mu.Lock()
	for _, k := range order {
		delete(d.stagedByKey, k)
	}
	d.stagedOrder = nil
	d.stagedByCollection = make(map[collectionKey][]PrimaryKey)
	for _, k := range deletedKeys {
		delete(d.deleted, k)
	}
	d.locked = make(map[PrimaryKey]bool)
	d.mu.Unlock()

	return nil
}
