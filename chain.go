package chainvault

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// TransactionScope is the three-valued acknowledgment policy a Dio commit
// chooses (spec §4.E).
type TransactionScope int

const (
	// ScopeNone is fire-and-forget: feed returns as soon as events are queued.
	ScopeNone TransactionScope = iota
	// ScopeLocal waits until appended to the local log.
	ScopeLocal
	// ScopeFull waits until replicated by the mesh, if any.
	ScopeFull
)

// Transaction is one batch fed to a chain: an ordered list of events sharing
// a single append (spec §4.E "feed(transaction)"). Result, if non-nil, is
// closed once the scope's acknowledgment condition is met.
type Transaction struct {
	Scope  TransactionScope
	Events []Event
	Result chan error
	// Session, if set, is used for every pipeline call made while feeding
	// this batch (LintEvent, Underlay, Validate) instead of the chain's own
	// fixed session — needed so a chain shared across many callers (e.g. one
	// user row per caller-derived key) transforms each batch under the
	// credentials that produced it rather than the chain-wide default.
	Session *Session
}

// Pipe is the mesh bridge contract a Chain commits through (spec §4.G). A
// LocalPipe calls straight into Chain.Feed; a remote pipe (mesh.go)
// serializes the transaction onto the wire and forwards the ack.
type Pipe interface {
	Feed(tx Transaction) error
	Unlock(key PrimaryKey) error
}

// LocalPipe feeds directly into an in-process chain.
type LocalPipe struct {
	Chain *Chain
}

func (p *LocalPipe) Feed(tx Transaction) error  { return p.Chain.Feed(tx) }
func (p *LocalPipe) Unlock(_ PrimaryKey) error  { return nil }

// Chain is the trust chain: a redo log plus the plugin pipeline plus the
// indexes it maintains, opened for exactly one key (spec §4.E). Multiple
// DIOs may hold a cheap read-only Multi facade concurrently; at most one
// Single mutator facade exists per chain, matching the single append mutex
// the spec's concurrency model requires (spec §5).
type Chain struct {
	key      ChainKey
	dir      string
	cfg      Config
	pipeline *Pipeline
	session  *Session

	mu  sync.Mutex // guards {append; update-index} as one critical section
	log *RedoLog

	verifier *replayVerifier
	single   bool
	logger   *zap.Logger
}

// OpenChain opens or creates the chain named by key under dir, replaying
// its full log through the pipeline before returning (spec §4.E "open").
// If the log is empty, it writes a genesis event carrying rootKey.
func OpenChain(dir string, key ChainKey, cfg Config, pipeline *Pipeline, session *Session, rootKey PublicKey) (*Chain, error) {
	chainDir := dir + "/" + key.String()
	log, err := OpenRedoLog(chainDir, key.String(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open chain %s: %w", key, err)
	}

	logger := cfg.Log
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Chain{
		key:      key,
		dir:      chainDir,
		cfg:      cfg,
		pipeline: pipeline,
		session:  session,
		log:      log,
		verifier: newReplayVerifier(log.index),
		logger:   logger,
	}

	segments, err := log.replay()
	if err != nil {
		return nil, fmt.Errorf("open chain %s: replay: %w", key, err)
	}
	total := 0
	for _, seg := range segments {
		n, err := c.verifier.replaySegment(seg.Segment, seg.Frames, pipeline, session)
		if err != nil {
			return nil, fmt.Errorf("open chain %s: %w", key, err)
		}
		total += n
	}

	if total == 0 {
		if err := c.writeGenesis(rootKey); err != nil {
			return nil, fmt.Errorf("open chain %s: genesis: %w", key, err)
		}
	}
	return c, nil
}

func (c *Chain) writeGenesis(rootKey PublicKey) error {
	meta := Metadata{Core: []CoreMetadata{PublicKeyMeta(rootKey)}}
	header := EventHeader{Meta: meta, Format: FormatBinary}
	leaf, err := c.log.append(header, nil)
	if err != nil {
		return err
	}
	c.verifier.trust.add(rootKey)
	if c.log.index != nil {
		if err := c.log.index.indexLeaf(leaf, meta); err != nil {
			return err
		}
	}
	return c.log.flush()
}

// Feed accepts a batch, re-running lint/validate/sink, appending every event
// in order, and signaling completion through tx.Result if the scope
// requires acknowledgment (spec §4.E). Events fed by the same call are
// contiguous in the log with monotonically increasing offsets (spec §5).
func (c *Chain) Feed(tx Transaction) error {
	err := c.feedLocked(tx)
	if tx.Result != nil {
		select {
		case tx.Result <- err:
		default:
		}
		close(tx.Result)
	}
	if tx.Scope == ScopeNone {
		return nil
	}
	return err
}

func (c *Chain) feedLocked(tx Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session := tx.Session
	if session == nil {
		session = c.session
	}

	// Signatures produced by SignatureLinter ride on a leading batch-metadata
	// event rather than on the rows they cover (spec §4.D step 3), so every
	// event's coverage check must see the whole batch's envelopes, not just
	// its own header's.
	var batchSigs []MetaSignature
	for _, ev := range tx.Events {
		batchSigs = append(batchSigs, ev.Meta.Signatures()...)
	}

	for _, ev := range tx.Events {
		header := ev.AsHeader()

		if err := c.pipeline.LintEvent(&header.Meta, session); err != nil {
			return &CommitError{Kind: CommitErrLint, Cause: err}
		}

		sealed, err := c.pipeline.Underlay(&header.Meta, ev.DataBytes, session)
		if err != nil {
			return &CommitError{Kind: CommitErrSerialization, Cause: err}
		}

		result, err := c.pipeline.Validate(header, session)
		if err != nil {
			return &CommitError{Kind: CommitErrValidation, Cause: err}
		}
		if result == ValidationDeny {
			return &CommitError{Kind: CommitErrValidation, Cause: ErrDenied}
		}

		headerHash, err := HeaderHash(header)
		if err != nil {
			return &CommitError{Kind: CommitErrSerialization, Cause: err}
		}
		if err := verifySignatureCoverage(header, headerHash, c.verifier.trust, batchSigs...); err != nil {
			return &CommitError{Kind: CommitErrValidation, Cause: err}
		}
		for _, entry := range header.Meta.Core {
			if entry.Kind == MetaPublicKey {
				c.verifier.trust.add(entry.PublicKey)
			}
		}

		leaf, err := c.log.append(header, sealed)
		if err != nil {
			return &CommitError{Kind: CommitErrTransmit, Cause: err}
		}

		dataHash := HashOf(sealed)
		if err := c.pipeline.Feed(header.Meta, &dataHash); err != nil {
			return &CommitError{Kind: CommitErrSink, Cause: err}
		}
		if c.log.index != nil {
			if err := c.log.index.indexLeaf(leaf, header.Meta); err != nil {
				return &CommitError{Kind: CommitErrSink, Cause: err}
			}
		}
		if err := c.pipeline.Index(leaf, header.Meta); err != nil {
			return &CommitError{Kind: CommitErrSink, Cause: err}
		}
	}

	if tx.Scope == ScopeLocal || tx.Scope == ScopeFull {
		if err := c.log.flush(); err != nil {
			return &CommitError{Kind: CommitErrTransmit, Cause: err}
		}
	}
	return nil
}

// LookupPrimary resolves a key to its latest leaf (spec §4.E).
func (c *Chain) LookupPrimary(pk PrimaryKey) (leaf EventLeaf, tombstoned bool, ok bool, err error) {
	if c.log.index == nil {
		return EventLeaf{}, false, false, fmt.Errorf("lookup_primary: chain %s has no sidecar index", c.key)
	}
	return c.log.index.lookupPrimary(pk)
}

// LookupSecondaryRaw returns the live children of parent (spec §4.E).
func (c *Chain) LookupSecondaryRaw(parent PrimaryKey) ([]PrimaryKey, error) {
	if c.log.index == nil {
		return nil, fmt.Errorf("lookup_secondary_raw: chain %s has no sidecar index", c.key)
	}
	return c.log.index.lookupSecondary(parent)
}

// Load reads and decodes one event by leaf, applying the pipeline's reverse
// transform (Overlay) so the caller receives the original payload.
func (c *Chain) Load(leaf EventLeaf, session *Session) (EventHeader, []byte, error) {
	header, payload, err := c.log.load(leaf)
	if err != nil {
		return EventHeader{}, nil, &LoadError{Kind: LoadErrSerialization, Cause: err}
	}
	plain, err := c.pipeline.Overlay(&header.Meta, payload, session)
	if err != nil {
		return EventHeader{}, nil, &LoadError{Kind: LoadErrMissingReadKey, Cause: err}
	}
	return header, plain, nil
}

// Multi returns a cheap read-only facade usable from multiple DIOs/threads
// concurrently (spec §4.E "multi").
func (c *Chain) Multi() *ChainMulti { return &ChainMulti{chain: c} }

// Single returns an exclusive mutator facade. Only one may exist per chain
// at a time; a second call returns an error (spec §4.E "single").
func (c *Chain) Single() (*ChainSingle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.single {
		return nil, fmt.Errorf("chain %s already has an exclusive single() facade", c.key)
	}
	c.single = true
	return &ChainSingle{chain: c}, nil
}

func (c *Chain) releaseSingle() {
	c.mu.Lock()
	c.single = false
	c.mu.Unlock()
}

func (c *Chain) Key() ChainKey { return c.key }

func (c *Chain) Close() error { return c.log.close() }

// ChainMulti is the read-only facade a Dio binds to.
type ChainMulti struct{ chain *Chain }

func (m *ChainMulti) LookupPrimary(pk PrimaryKey) (EventLeaf, bool, bool, error) {
	return m.chain.LookupPrimary(pk)
}
func (m *ChainMulti) LookupSecondaryRaw(parent PrimaryKey) ([]PrimaryKey, error) {
	return m.chain.LookupSecondaryRaw(parent)
}
func (m *ChainMulti) Load(leaf EventLeaf, session *Session) (EventHeader, []byte, error) {
	return m.chain.Load(leaf, session)
}
func (m *ChainMulti) Feed(tx Transaction) error { return m.chain.Feed(tx) }

// ChainSingle is the exclusive mutator facade; Release must be called when
// the caller is done so another Single() can be granted.
type ChainSingle struct{ chain *Chain }

func (s *ChainSingle) Feed(tx Transaction) error { return s.chain.Feed(tx) }
func (s *ChainSingle) Release()                  { s.chain.releaseSingle() }

// Compact rewrites the log keeping only the latest Data event per live key
// plus the dependency chain of signing keys (every event carrying a
// PublicKey entry) and any event a Compactor votes to keep; tombstones and
// superseded events are dropped (spec §4.E "compact"). It replays the current log,
// keeps a trimmed event set, writes it to a staging log, then atomically
// swaps it in.
func (c *Chain) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.log.index == nil {
		return fmt.Errorf("compact: chain %s has no sidecar index to enumerate live keys", c.key)
	}
	live, err := c.log.index.allLive()
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	latest := make(map[PrimaryKey]EventLeaf, len(live))
	for _, pk := range live {
		leaf, _, ok, err := c.log.index.lookupPrimary(pk)
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		if ok {
			latest[pk] = leaf
		}
	}

	segments, err := c.log.replay()
	if err != nil {
		return fmt.Errorf("compact: replay: %w", err)
	}

	var keep []struct {
		Header  EventHeader
		Payload []byte
	}
	for _, seg := range segments {
		for _, rf := range seg.Frames {
			header, err := DecodeHeader(rf.Frame.HeaderBytes, rf.Frame.HeaderFormat)
			if err != nil {
				return fmt.Errorf("compact: decode header: %w", err)
			}
			keepIt := c.pipeline.KeepDuringCompaction(header.Meta)
			if pk, ok := header.Meta.GetDataKey(); ok {
				if leaf, isLive := latest[pk]; isLive && leaf == (EventLeaf{Segment: seg.Segment, Offset: rf.Offset}) {
					keepIt = true
				}
			}
			for _, entry := range header.Meta.Core {
				if entry.Kind == MetaPublicKey {
					keepIt = true
				}
			}
			if !keepIt {
				continue
			}
			keep = append(keep, struct {
				Header  EventHeader
				Payload []byte
			}{Header: header, Payload: rf.Frame.Payload})
		}
	}

	staged, err := compactInto(c.dir, c.key.String(), c.cfg, keep)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	old := c.log
	c.logger.Info("compacted chain",
		zap.String("chain", c.key.String()),
		zap.Int("events_kept", len(keep)),
		zap.String("before", humanSize(sumSegmentBytes(old))),
		zap.String("after", humanSize(sumSegmentBytes(staged))),
	)
	c.log = staged
	c.verifier = newReplayVerifier(staged.index)
	for _, e := range keep {
		for _, entry := range e.Header.Meta.Core {
			if entry.Kind == MetaPublicKey {
				c.verifier.trust.add(entry.PublicKey)
			}
		}
	}
	return old.close()
}
