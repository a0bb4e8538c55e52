package chainvault

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// RedoLog is the durable, byte-addressable, append-only stream backing one
// chain (spec §4.C). It owns a sequence of on-disk segments plus an
// optional sidecar index mapping offset -> leaf, and rotates to a fresh
// segment once the active one crosses Config.RotateAfterBytes. Grounded on
// the teacher's Logger: a single mutex guarding sequential state, append
// returning the durable position, Close draining the active segment.
type RedoLog struct {
	mu       sync.Mutex
	dir      string
	chain    string
	cfg      Config
	segments []*segmentStore
	active   int
	index    *sidecarIndex
	logger   *zap.Logger
}

// OpenRedoLog opens or creates the segment set for chain under dir,
// discovering any existing <chain>-<n>.redo files and opening a fresh one
// if none exist.
func OpenRedoLog(dir, chain string, cfg Config) (*RedoLog, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create redo log dir: %w", err)
	}
	logger := cfg.Log
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &RedoLog{dir: dir, chain: chain, cfg: cfg, logger: logger}

	n := 0
	for {
		path := segmentName(dir, chain, n)
		if _, err := os.Stat(path); err != nil {
			break
		}
		store, err := openSegmentStore(path)
		if err != nil {
			return nil, err
		}
		rl.segments = append(rl.segments, store)
		n++
	}
	if len(rl.segments) == 0 {
		store, err := openSegmentStore(segmentName(dir, chain, 0))
		if err != nil {
			return nil, err
		}
		rl.segments = append(rl.segments, store)
	}
	rl.active = len(rl.segments) - 1

	if cfg.SidecarIndex {
		idx, err := openSidecarIndex(filepath.Join(dir, chain+".idx.db"))
		if err != nil {
			return nil, err
		}
		rl.index = idx
	}
	return rl, nil
}

// append persists one event's encoded header and payload, rotating to a
// fresh segment first if the active one has crossed the configured
// threshold. It returns the leaf the event now lives at.
func (rl *RedoLog) append(header EventHeader, payload []byte) (EventLeaf, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	headerBytes, err := EncodeHeader(header)
	if err != nil {
		return EventLeaf{}, fmt.Errorf("append: encode header: %w", err)
	}

	store := rl.segments[rl.active]
	if rl.cfg.RotateAfterBytes > 0 && store.tailSize() >= rl.cfg.RotateAfterBytes {
		next, err := rl.rotateLocked()
		if err != nil {
			return EventLeaf{}, err
		}
		store = next
	}

	offset, err := store.append(frameRecord{
		HeaderFormat: header.Format,
		HeaderBytes:  headerBytes,
		Payload:      payload,
	})
	if err != nil {
		return EventLeaf{}, fmt.Errorf("append: %w", err)
	}
	return EventLeaf{Segment: rl.active, Offset: offset}, nil
}

// rotateLocked starts a new segment and returns it. Caller must hold rl.mu.
func (rl *RedoLog) rotateLocked() (*segmentStore, error) {
	closing := rl.segments[rl.active]
	n := len(rl.segments)
	store, err := openSegmentStore(segmentName(rl.dir, rl.chain, n))
	if err != nil {
		return nil, fmt.Errorf("rotate: open segment %d: %w", n, err)
	}
	rl.logger.Info("rotating redo log segment",
		zap.String("chain", rl.chain),
		zap.Int("closed_segment", rl.active),
		zap.String("closed_size", humanSize(closing.tailSize())),
		zap.Int("next_segment", n),
	)
	rl.segments = append(rl.segments, store)
	rl.active = n
	return store, nil
}

// load reads back the raw frame at leaf and decodes its header.
func (rl *RedoLog) load(leaf EventLeaf) (EventHeader, []byte, error) {
	rl.mu.Lock()
	store, err := rl.segmentLocked(leaf.Segment)
	rl.mu.Unlock()
	if err != nil {
		return EventHeader{}, nil, err
	}

	frame, err := store.load(leaf.Offset)
	if err != nil {
		return EventHeader{}, nil, fmt.Errorf("load %v: %w", leaf, err)
	}
	header, err := DecodeHeader(frame.HeaderBytes, frame.HeaderFormat)
	if err != nil {
		return EventHeader{}, nil, fmt.Errorf("load %v: decode header: %w", leaf, err)
	}
	return header, frame.Payload, nil
}

// loadMany batches load, preserving input order (spec §4.C "load_many").
func (rl *RedoLog) loadMany(leaves []EventLeaf) ([]EventHeader, [][]byte, error) {
	headers := make([]EventHeader, len(leaves))
	payloads := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		h, p, err := rl.load(leaf)
		if err != nil {
			return nil, nil, err
		}
		headers[i] = h
		payloads[i] = p
	}
	return headers, payloads, nil
}

func (rl *RedoLog) segmentLocked(n int) (*segmentStore, error) {
	if n < 0 || n >= len(rl.segments) {
		return nil, fmt.Errorf("segment %d out of range", n)
	}
	return rl.segments[n], nil
}

// replay streams every frame of every segment from offset 0 to the tail, in
// segment then offset order, restartable on every call (spec §4.C).
func (rl *RedoLog) replay() ([]replaySegmentFrames, error) {
	rl.mu.Lock()
	segments := append([]*segmentStore(nil), rl.segments...)
	rl.mu.Unlock()

	out := make([]replaySegmentFrames, len(segments))
	for i, store := range segments {
		frames, err := store.replay()
		if err != nil {
			return nil, fmt.Errorf("replay segment %d: %w", i, err)
		}
		out[i] = replaySegmentFrames{Segment: i, Frames: frames}
	}
	return out, nil
}

type replaySegmentFrames struct {
	Segment int
	Frames  []replayedFrame
}

// sumSegmentBytes totals the durable size of every segment in rl, used to
// report the before/after footprint of a compaction (spec §4.E "compact").
func sumSegmentBytes(rl *RedoLog) int64 {
	var total int64
	for _, s := range rl.segments {
		total += s.tailSize()
	}
	return total
}

// flush fsyncs every open segment: the redo log's durability barrier (spec
// §4.C "flush").
func (rl *RedoLog) flush() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for i, store := range rl.segments {
		if err := store.flush(); err != nil {
			return fmt.Errorf("flush segment %d: %w", i, err)
		}
	}
	return nil
}

func (rl *RedoLog) close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var firstErr error
	for _, store := range rl.segments {
		if err := store.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rl.index != nil {
		if err := rl.index.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// compactInto rewrites the live set described by keep into a brand new
// segment-0-only log under dir, used by Chain.Compact to atomically swap a
// trimmed log in (spec §4.C "Rotation", §4.E "compact").
func compactInto(dir, chain string, cfg Config, keep []struct {
	Header  EventHeader
	Payload []byte
}) (*RedoLog, error) {
	tmpDir := dir + ".compact.tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("compact: clear staging dir: %w", err)
	}
	rl, err := OpenRedoLog(tmpDir, chain, cfg)
	if err != nil {
		return nil, fmt.Errorf("compact: open staging log: %w", err)
	}
	for _, e := range keep {
		leaf, err := rl.append(e.Header, e.Payload)
		if err != nil {
			return nil, fmt.Errorf("compact: rewrite event: %w", err)
		}
		if rl.index != nil {
			if err := rl.index.indexLeaf(leaf, e.Header.Meta); err != nil {
				return nil, fmt.Errorf("compact: index event: %w", err)
			}
		}
	}
	if err := rl.flush(); err != nil {
		return nil, fmt.Errorf("compact: flush staging log: %w", err)
	}
	return rl, nil
}
