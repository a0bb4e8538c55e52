package chainvault

import "fmt"

// ValidationResult is the three-valued verdict a Validator returns for an
// event (spec §4.D): Allow/Deny/Abstain. Deny aborts the whole batch;
// Abstain means "no opinion", letting another validator or the default
// allow decide.
type ValidationResult int

const (
	ValidationAbstain ValidationResult = iota
	ValidationAllow
	ValidationDeny
)

// LintData pairs a staged event with its (not yet appended) header, as
// passed to a ManyLinter across a whole commit batch (spec §4.D step 3).
type LintData struct {
	Event  Event
	Header EventHeader
}

// Linter may append header entries to a single event before it is sealed
// (spec §4.D step 1) — e.g. attaching a Timestamp or Author entry.
type Linter interface {
	LintEvent(meta *Metadata, session *Session) ([]CoreMetadata, error)
}

// ManyLinter runs once per commit batch and may produce a single leading
// batch-metadata event (spec §4.D step 3) — e.g. the signature envelope
// binding every row's write key.
type ManyLinter interface {
	LintMany(events []LintData, session *Session) ([]CoreMetadata, error)
}

// DataTransformer encodes/decodes a row's payload (spec §4.D step 2, and
// on replay/load). Every transformation must be reversible given the
// session's read keys.
type DataTransformer interface {
	Underlay(meta *Metadata, data []byte, session *Session) ([]byte, error)
	Overlay(meta *Metadata, data []byte, session *Session) ([]byte, error)
}

// Validator accepts, rejects or abstains on a sealed event header (spec
// §4.D step 4).
type Validator interface {
	Validate(header EventHeader, session *Session) (ValidationResult, error)
}

// Sink observes an accepted event after append, used to maintain plugin-
// owned side state (spec §4.D step 5) — e.g. the timestamp enforcer's
// cursor.
type Sink interface {
	Feed(meta Metadata, dataHash *Hash) error
}

// Indexer updates primary/secondary indexes from an accepted event (spec
// §4.D step 6).
type Indexer interface {
	Index(leaf EventLeaf, meta Metadata) error
}

// Compactor decides whether an event must survive compaction beyond the
// default "latest Data event per live key" rule (spec §4.E) — e.g. keeping
// PublicKey/EncryptedPrivateKey events that later signatures still depend
// on.
type Compactor interface {
	KeepDuringCompaction(meta Metadata) bool
}

// Pipeline is an ordered list of plugins, each implementing any subset of
// the seven capabilities above. Dispatch is by type assertion against each
// capability interface, per the design note preferring a flat ordered
// collection over a polymorphic class hierarchy.
type Pipeline struct {
	Plugins []any
}

func NewPipeline(plugins ...any) *Pipeline {
	return &Pipeline{Plugins: plugins}
}

// NewDefaultPipeline assembles the plugin set a real deployment opens its
// chains and DIOs with: row encryption (DataTransformer) and write-key batch
// signing (ManyLinter), plus any caller-supplied plugins such as a
// TimestampEnforcer. Callers sharing one chain across a Chain and its DIOs
// should construct a single pipeline this way and pass it to both OpenChain
// and every NewDio, since Underlay/Overlay run from the Chain's pipeline
// while LintMany runs from the Dio's.
func NewDefaultPipeline(extra ...any) *Pipeline {
	plugins := append([]any{RowEncryptionTransformer{}, SignatureLinter{}}, extra...)
	return NewPipeline(plugins...)
}

// LintEvent runs every Linter in order, appending each one's output
// directly into meta so later linters observe earlier entries.
func (p *Pipeline) LintEvent(meta *Metadata, session *Session) error {
	for _, pl := range p.Plugins {
		l, ok := pl.(Linter)
		if !ok {
			continue
		}
		extra, err := l.LintEvent(meta, session)
		if err != nil {
			return fmt.Errorf("lint event: %w", err)
		}
		meta.Core = append(meta.Core, extra...)
	}
	return nil
}

// LintMany runs every ManyLinter across a whole batch and concatenates
// their output into the leading batch-metadata event's header.
func (p *Pipeline) LintMany(events []LintData, session *Session) ([]CoreMetadata, error) {
	var out []CoreMetadata
	for _, pl := range p.Plugins {
		l, ok := pl.(ManyLinter)
		if !ok {
			continue
		}
		extra, err := l.LintMany(events, session)
		if err != nil {
			return nil, fmt.Errorf("lint many: %w", err)
		}
		out = append(out, extra...)
	}
	return out, nil
}

// Underlay runs every DataTransformer's encode step in pipeline order
// (spec §4.D step 2): each transformer wraps the previous one's output.
func (p *Pipeline) Underlay(meta *Metadata, data []byte, session *Session) ([]byte, error) {
	cur := data
	for _, pl := range p.Plugins {
		t, ok := pl.(DataTransformer)
		if !ok {
			continue
		}
		next, err := t.Underlay(meta, cur, session)
		if err != nil {
			return nil, fmt.Errorf("transform underlay: %w", err)
		}
		cur = next
	}
	return cur, nil
}

// Overlay reverses Underlay in the opposite pipeline order, as on replay or
// load (spec §4.D "on replay").
func (p *Pipeline) Overlay(meta *Metadata, data []byte, session *Session) ([]byte, error) {
	cur := data
	for i := len(p.Plugins) - 1; i >= 0; i-- {
		t, ok := p.Plugins[i].(DataTransformer)
		if !ok {
			continue
		}
		next, err := t.Overlay(meta, cur, session)
		if err != nil {
			return nil, fmt.Errorf("transform overlay: %w", err)
		}
		cur = next
	}
	return cur, nil
}

// Validate runs every Validator; any Deny aborts immediately, otherwise the
// event is allowed, whether some validator allowed it or all abstained —
// matching the teacher's deny-wins / otherwise-permissive stance.
func (p *Pipeline) Validate(header EventHeader, session *Session) (ValidationResult, error) {
	result := ValidationAbstain
	for _, pl := range p.Plugins {
		v, ok := pl.(Validator)
		if !ok {
			continue
		}
		r, err := v.Validate(header, session)
		if err != nil {
			return ValidationDeny, err
		}
		switch r {
		case ValidationDeny:
			return ValidationDeny, nil
		case ValidationAllow:
			result = ValidationAllow
		}
	}
	if result == ValidationAbstain {
		return ValidationAllow, nil
	}
	return result, nil
}

// Feed runs every Sink after an event has been durably appended.
func (p *Pipeline) Feed(meta Metadata, dataHash *Hash) error {
	for _, pl := range p.Plugins {
		s, ok := pl.(Sink)
		if !ok {
			continue
		}
		if err := s.Feed(meta, dataHash); err != nil {
			return fmt.Errorf("sink feed: %w", err)
		}
	}
	return nil
}

// Index runs every Indexer after Feed.
func (p *Pipeline) Index(leaf EventLeaf, meta Metadata) error {
	for _, pl := range p.Plugins {
		ix, ok := pl.(Indexer)
		if !ok {
			continue
		}
		if err := ix.Index(leaf, meta); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}
	return nil
}

// KeepDuringCompaction is true if any Compactor votes to keep the event.
func (p *Pipeline) KeepDuringCompaction(meta Metadata) bool {
	for _, pl := range p.Plugins {
		c, ok := pl.(Compactor)
		if !ok {
			continue
		}
		if c.KeepDuringCompaction(meta) {
			return true
		}
	}
	return false
}
