package chainvault

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// TimestampEnforcer is the three-capability plugin described in spec §4.H:
// as a Linter it stamps every outgoing event with now()+offset; as a Sink it
// advances cursor to the maximum timestamp it has observed; as a Validator
// it rejects anything outside [cursor-tolerance, now+offset+tolerance].
// Grounded on original_source/src/time.rs, translated from its
// thread-plus-Mutex/RwLock-plus-Drop shape into a goroutine guarded by a
// context.CancelFunc: no global singleton, exactly one background goroutine
// per enforcer, stopped by Close.
type TimestampEnforcer struct {
	pool string
	port int

	mu       sync.RWMutex
	offset   time.Duration
	ping     time.Duration
	cursor   time.Duration
	bestPing time.Duration

	tolerance time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTimestampEnforcer seeds an initial NTP query against pool:port and
// starts the background re-query loop.
func NewTimestampEnforcer(pool string, port uint16, tolerance time.Duration) (*TimestampEnforcer, error) {
	resp, err := ntp.QueryWithOptions(pool, ntp.QueryOptions{Port: int(port), Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &TimestampEnforcer{
		pool:      pool,
		port:      int(port),
		offset:    resp.ClockOffset,
		ping:      resp.RTT,
		bestPing:  resp.RTT,
		cursor:    tolerance,
		tolerance: tolerance,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go e.run(ctx)
	return e, nil
}

// run re-queries the NTP pool every ~20 seconds, adopting the new offset
// only when its round-trip is under the last adopted round-trip plus 50ms
// (original_source/src/time.rs: `if ping < best_ping + 50`).
func (e *TimestampEnforcer) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := ntp.QueryWithOptions(e.pool, ntp.QueryOptions{Port: e.port, Timeout: 5 * time.Second})
			if err != nil {
				continue
			}
			e.mu.Lock()
			if resp.RTT < e.bestPing+50*time.Millisecond {
				e.bestPing = resp.RTT
				e.offset = resp.ClockOffset
				e.ping = resp.RTT
			}
			e.mu.Unlock()
		}
	}
}

// Close stops the background goroutine and blocks until it has exited.
func (e *TimestampEnforcer) Close() error {
	e.cancel()
	<-e.done
	return nil
}

// currentTimestamp returns now()+offset, the enforcer's notion of
// authoritative wall-clock time.
func (e *TimestampEnforcer) currentTimestamp() time.Time {
	e.mu.RLock()
	offset := e.offset
	e.mu.RUnlock()
	return time.Now().Add(offset)
}

// LintEvent attaches a Timestamp header entry (spec §4.H "Linter").
func (e *TimestampEnforcer) LintEvent(_ *Metadata, _ *Session) ([]CoreMetadata, error) {
	ms := uint64(e.currentTimestamp().UnixMilli())
	return []CoreMetadata{TimestampMeta(ms)}, nil
}

// Feed advances cursor to the maximum timestamp observed (spec §4.H "Sink").
func (e *TimestampEnforcer) Feed(meta Metadata, _ *Hash) error {
	ts, ok := meta.GetTimestamp()
	if !ok {
		return nil
	}
	t := time.Duration(ts.MsSinceEpoch) * time.Millisecond
	e.mu.Lock()
	if t > e.cursor {
		e.cursor = t
	}
	e.mu.Unlock()
	return nil
}

// Validate rejects events whose timestamp falls outside
// [cursor-tolerance, now+offset+tolerance] (spec §4.H "Validator", §8
// property 7).
func (e *TimestampEnforcer) Validate(header EventHeader, _ *Session) (ValidationResult, error) {
	ts, ok := header.Meta.GetTimestamp()
	if !ok {
		if header.Meta.NeedsSignature() {
			return ValidationDeny, &ValidationError{Kind: ValidationErrNoTimestamp}
		}
		return ValidationAbstain, nil
	}

	t := time.Duration(ts.MsSinceEpoch) * time.Millisecond

	e.mu.RLock()
	cursor := e.cursor
	tolerance := e.tolerance
	e.mu.RUnlock()

	minT := cursor - tolerance
	maxT := time.Duration(e.currentTimestamp().UnixMilli())*time.Millisecond + tolerance
	if t < minT || t > maxT {
		return ValidationDeny, &ValidationError{Kind: ValidationErrTimeOutOfBounds, When: time.UnixMilli(int64(t / time.Millisecond))}
	}
	return ValidationAbstain, nil
}
