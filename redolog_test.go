package chainvault

import "testing"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RotateAfterBytes = 0
	cfg.NTPPool = ""
	return cfg
}

func TestRedoLogAppendLoad(t *testing.T) {
	rl, err := OpenRedoLog(t.TempDir(), "chain", testConfig())
	if err != nil {
		t.Fatalf("OpenRedoLog: %v", err)
	}
	defer rl.close()

	header := EventHeader{Meta: ForData(PrimaryKey(1)), Format: FormatBinary}
	leaf, err := rl.append(header, []byte("payload"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	gotHeader, gotPayload, err := rl.load(leaf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(gotPayload) != "payload" {
		t.Fatalf("load payload = %q, want %q", gotPayload, "payload")
	}
	if pk, ok := gotHeader.Meta.GetDataKey(); !ok || pk != PrimaryKey(1) {
		t.Fatalf("load header data key = %v, %v, want 1, true", pk, ok)
	}
}

func TestRedoLogRotation(t *testing.T) {
	cfg := testConfig()
	cfg.RotateAfterBytes = 1 // rotate after every append
	rl, err := OpenRedoLog(t.TempDir(), "chain", cfg)
	if err != nil {
		t.Fatalf("OpenRedoLog: %v", err)
	}
	defer rl.close()

	var leaves []EventLeaf
	for i := 0; i < 3; i++ {
		leaf, err := rl.append(EventHeader{Meta: ForData(PrimaryKey(i)), Format: FormatBinary}, []byte("x"))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		leaves = append(leaves, leaf)
	}
	if leaves[0].Segment == leaves[2].Segment {
		t.Fatalf("expected rotation to move across segments, got %+v", leaves)
	}
}

func TestRedoLogReplayIsRestartable(t *testing.T) {
	rl, err := OpenRedoLog(t.TempDir(), "chain", testConfig())
	if err != nil {
		t.Fatalf("OpenRedoLog: %v", err)
	}
	defer rl.close()

	for i := 0; i < 3; i++ {
		if _, err := rl.append(EventHeader{Meta: ForData(PrimaryKey(i)), Format: FormatBinary}, []byte("x")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	first, err := rl.replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	second, err := rl.replay()
	if err != nil {
		t.Fatalf("replay again: %v", err)
	}
	totalFirst, totalSecond := 0, 0
	for _, s := range first {
		totalFirst += len(s.Frames)
	}
	for _, s := range second {
		totalSecond += len(s.Frames)
	}
	if totalFirst != 3 || totalFirst != totalSecond {
		t.Fatalf("replay not restartable: got %d then %d frames, want 3 each time", totalFirst, totalSecond)
	}
}

func TestRedoLogSidecarIndexOptional(t *testing.T) {
	cfg := testConfig()
	cfg.SidecarIndex = false
	rl, err := OpenRedoLog(t.TempDir(), "chain", cfg)
	if err != nil {
		t.Fatalf("OpenRedoLog: %v", err)
	}
	defer rl.close()
	if rl.index != nil {
		t.Fatal("expected no sidecar index when Config.SidecarIndex is false")
	}
}

func TestCompactIntoRewritesOnlyKept(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	keep := []struct {
		Header  EventHeader
		Payload []byte
	}{
		{Header: EventHeader{Meta: ForData(PrimaryKey(1)), Format: FormatBinary}, Payload: []byte("keep-me")},
	}
	rl, err := compactInto(dir, "chain", cfg, keep)
	if err != nil {
		t.Fatalf("compactInto: %v", err)
	}
	defer rl.close()

	segments, err := rl.replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	total := 0
	for _, s := range segments {
		total += len(s.Frames)
	}
	if total != 1 {
		t.Fatalf("compacted log has %d frames, want 1", total)
	}
}
