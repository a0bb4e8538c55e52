package chainvault

import (
	"path/filepath"
	"testing"
)

func TestSegmentStoreAppendLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := openSegmentStore(filepath.Join(dir, "chain-0.redo"))
	if err != nil {
		t.Fatalf("openSegmentStore: %v", err)
	}
	defer store.close()

	frame := frameRecord{
		HeaderFormat: FormatBinary,
		HeaderBytes:  []byte("header-bytes"),
		Payload:      []byte("payload-bytes"),
	}
	offset, err := store.append(frame)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if offset != 0 {
		t.Fatalf("first append offset = %d, want 0", offset)
	}

	got, err := store.load(offset)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got.HeaderBytes) != string(frame.HeaderBytes) || string(got.Payload) != string(frame.Payload) {
		t.Fatalf("load returned %+v, want %+v", got, frame)
	}
	if got.HeaderFormat != FormatBinary {
		t.Fatalf("load returned format %v, want FormatBinary", got.HeaderFormat)
	}
}

func TestSegmentStoreAppendIsSequential(t *testing.T) {
	dir := t.TempDir()
	store, err := openSegmentStore(filepath.Join(dir, "chain-0.redo"))
	if err != nil {
		t.Fatalf("openSegmentStore: %v", err)
	}
	defer store.close()

	var offsets []int64
	for i := 0; i < 3; i++ {
		off, err := store.append(frameRecord{HeaderBytes: []byte("h"), Payload: []byte{byte(i)}})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		offsets = append(offsets, off)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("offsets not monotonically increasing: %v", offsets)
		}
	}
}

func TestSegmentStoreReplayMatchesAppendOrder(t *testing.T) {
	dir := t.TempDir()
	store, err := openSegmentStore(filepath.Join(dir, "chain-0.redo"))
	if err != nil {
		t.Fatalf("openSegmentStore: %v", err)
	}
	defer store.close()

	want := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, p := range want {
		if _, err := store.append(frameRecord{HeaderBytes: []byte("h"), Payload: p}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	frames, err := store.replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(frames) != len(want) {
		t.Fatalf("replay returned %d frames, want %d", len(frames), len(want))
	}
	for i, rf := range frames {
		if string(rf.Frame.Payload) != string(want[i]) {
			t.Fatalf("frame %d payload = %q, want %q", i, rf.Frame.Payload, want[i])
		}
	}
}

func TestSegmentStoreReplayAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain-0.redo")

	store, err := openSegmentStore(path)
	if err != nil {
		t.Fatalf("openSegmentStore: %v", err)
	}
	if _, err := store.append(frameRecord{HeaderBytes: []byte("h"), Payload: []byte("persisted")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := store.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := openSegmentStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.close()
	if reopened.tailSize() == 0 {
		t.Fatal("reopened segment should report the previously appended bytes")
	}
	frames, err := reopened.replay()
	if err != nil {
		t.Fatalf("replay after reopen: %v", err)
	}
	if len(frames) != 1 || string(frames[0].Frame.Payload) != "persisted" {
		t.Fatalf("replay after reopen = %+v, want one frame with payload %q", frames, "persisted")
	}
}
