package chainvault

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
)

// segmentStore persists one redo-log segment as a POSIX append-only file
// using the bit-exact frame format from spec §6:
//
//	[len32_be | header_len32_be | format_tag_byte | header_bytes | payload_bytes]
//
// where len32 = header_len + len(payload_bytes) + 1 (the +1 counts the
// format tag byte). This mirrors the teacher's fileStore: flock-guarded
// append, fsync as the durability barrier, bufio for sequential replay.
type segmentStore struct {
	path string
	file *os.File
	mu   sync.RWMutex
	size int64
}

func openSegmentStore(path string) (*segmentStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat segment %s: %w", path, err)
	}
	return &segmentStore{path: path, file: f, size: info.Size()}, nil
}

// frameRecord is one on-disk frame: a raw (still-encoded) header plus its
// declared format and optional payload.
type frameRecord struct {
	HeaderFormat Format
	HeaderBytes  []byte
	Payload      []byte
}

// append writes a frame at the current tail and returns its byte offset.
// Atomic w.r.t. readers: replay never observes a partially written frame
// because the whole buffer is assembled before the single Write call.
func (s *segmentStore) append(r frameRecord) (offset int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	headerLen := uint32(len(r.HeaderBytes))
	payloadLen := uint32(len(r.Payload))
	total := 4 + 4 + 1 + int(headerLen) + int(payloadLen)

	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], 1+headerLen+payloadLen)
	binary.BigEndian.PutUint32(buf[4:8], headerLen)
	buf[8] = byte(r.HeaderFormat)
	copy(buf[9:9+headerLen], r.HeaderBytes)
	copy(buf[9+headerLen:], r.Payload)

	if err := syscall.Flock(int(s.file.Fd()), syscall.LOCK_EX); err != nil {
		return 0, fmt.Errorf("lock segment: %w", err)
	}
	defer syscall.Flock(int(s.file.Fd()), syscall.LOCK_UN)

	offset = s.size
	n, err := s.file.Write(buf)
	if err != nil {
		return 0, fmt.Errorf("write frame: %w", err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("incomplete frame write: %d of %d bytes", n, len(buf))
	}
	s.size += int64(n)
	return offset, nil
}

func (s *segmentStore) flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Sync()
}

// load reads one frame at the given offset.
func (s *segmentStore) load(offset int64) (frameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lenBuf [8]byte
	if _, err := s.file.ReadAt(lenBuf[:], offset); err != nil {
		return frameRecord{}, fmt.Errorf("read frame header at %d: %w", offset, err)
	}
	headerLen := binary.BigEndian.Uint32(lenBuf[4:8])
	total := binary.BigEndian.Uint32(lenBuf[0:4])
	payloadLen := total - headerLen - 1

	rest := make([]byte, 1+headerLen+payloadLen)
	if _, err := s.file.ReadAt(rest, offset+8); err != nil {
		return frameRecord{}, fmt.Errorf("read frame body at %d: %w", offset, err)
	}
	return frameRecord{
		HeaderFormat: Format(rest[0]),
		HeaderBytes:  append([]byte(nil), rest[1:1+headerLen]...),
		Payload:      append([]byte(nil), rest[1+headerLen:]...),
	}, nil
}

// replay streams every frame from byte 0 to the current tail, yielding each
// frame's offset alongside its decoded contents.
func (s *segmentStore) replay() ([]replayedFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open segment for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var out []replayedFrame
	var offset int64
	for {
		var lenBuf [8]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("replay: read frame header: %w", err)
		}
		total := binary.BigEndian.Uint32(lenBuf[0:4])
		headerLen := binary.BigEndian.Uint32(lenBuf[4:8])
		payloadLen := total - headerLen - 1

		rest := make([]byte, 1+headerLen+payloadLen)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, fmt.Errorf("replay: read frame body: %w", err)
		}

		out = append(out, replayedFrame{
			Offset: offset,
			Frame: frameRecord{
				HeaderFormat: Format(rest[0]),
				HeaderBytes:  append([]byte(nil), rest[1:1+headerLen]...),
				Payload:      append([]byte(nil), rest[1+headerLen:]...),
			},
		})
		offset += 8 + int64(len(rest))
	}
	return out, nil
}

func (s *segmentStore) tailSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *segmentStore) close() error { return s.file.Close() }

type replayedFrame struct {
	Offset int64
	Frame  frameRecord
}

// humanSize renders a byte count for rotation/compaction log lines.
func humanSize(n int64) string { return humanize.Bytes(uint64(n)) }

// segmentName builds the "<chain>-<n>.redo" filename the spec mandates.
func segmentName(dir, chain string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.redo", chain, n))
}
