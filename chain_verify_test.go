package chainvault

import "testing"

func TestReplaySegmentIndexesAndTrustsKeys(t *testing.T) {
	rl, err := OpenRedoLog(t.TempDir(), "chain", testConfig())
	if err != nil {
		t.Fatalf("OpenRedoLog: %v", err)
	}
	defer rl.close()

	root, _ := GeneratePrivateKey()
	genesis := EventHeader{Meta: Metadata{Core: []CoreMetadata{PublicKeyMeta(root.Public)}}, Format: FormatBinary}
	if _, err := rl.append(genesis, nil); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	if _, err := rl.append(EventHeader{Meta: ForData(PrimaryKey(1)), Format: FormatBinary}, []byte("data")); err != nil {
		t.Fatalf("append data: %v", err)
	}

	segments, err := rl.replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	verifier := newReplayVerifier(rl.index)
	pipeline := NewPipeline()
	total := 0
	for _, seg := range segments {
		n, err := verifier.replaySegment(seg.Segment, seg.Frames, pipeline, NewSession())
		if err != nil {
			t.Fatalf("replaySegment: %v", err)
		}
		total += n
	}
	if total != 2 {
		t.Fatalf("replaySegment applied %d frames, want 2", total)
	}
	if _, ok := verifier.trust.get(root.Public.Hash()); !ok {
		t.Fatal("replay should have trusted the genesis public key")
	}

	leaf, tombstoned, ok, err := rl.index.lookupPrimary(PrimaryKey(1))
	if err != nil {
		t.Fatalf("lookupPrimary: %v", err)
	}
	if !ok || tombstoned || leaf.Segment != 0 {
		t.Fatalf("lookupPrimary after replay = %+v, %v, %v", leaf, tombstoned, ok)
	}
}

func TestReplaySegmentRejectsDenied(t *testing.T) {
	rl, err := OpenRedoLog(t.TempDir(), "chain", testConfig())
	if err != nil {
		t.Fatalf("OpenRedoLog: %v", err)
	}
	defer rl.close()
	if _, err := rl.append(EventHeader{Meta: ForData(PrimaryKey(1)), Format: FormatBinary}, []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	segments, err := rl.replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	verifier := newReplayVerifier(rl.index)
	pipeline := NewPipeline(denyValidator{})
	for _, seg := range segments {
		if _, err := verifier.replaySegment(seg.Segment, seg.Frames, pipeline, NewSession()); err == nil {
			t.Fatal("expected replaySegment to fail when a validator denies the event")
		}
	}
}
