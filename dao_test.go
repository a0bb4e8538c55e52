package chainvault

import "testing"

func TestEncodeDecodeDaoPayloadRoundTrip(t *testing.T) {
	raw, err := encodeDao(widget{Name: "cog", Count: 7})
	if err != nil {
		t.Fatalf("encodeDao: %v", err)
	}
	got, err := decodeDao[widget](raw)
	if err != nil {
		t.Fatalf("decodeDao: %v", err)
	}
	if got != (widget{Name: "cog", Count: 7}) {
		t.Fatalf("decodeDao = %+v, want {cog 7}", got)
	}
}

func TestDecodeDaoEmptyPayloadIsZeroValue(t *testing.T) {
	got, err := decodeDao[widget](nil)
	if err != nil {
		t.Fatalf("decodeDao(nil): %v", err)
	}
	if got != (widget{}) {
		t.Fatalf("decodeDao(nil) = %+v, want zero value", got)
	}
}

func TestDaoSetMarksDirtyAndLocks(t *testing.T) {
	dio := openTestDio(t, ScopeLocal)
	dao, err := Store[widget](dio, widget{Name: "washer"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	dao.Set(widget{Name: "washer", Count: 5})
	if !dao.dirty {
		t.Fatal("Set should mark the Dao dirty")
	}
	if err := dao.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if dao.dirty {
		t.Fatal("Commit should clear the dirty flag")
	}
}

func TestDaoRepeatedCommitWithNoFurtherChangeIsNoop(t *testing.T) {
	dio := openTestDio(t, ScopeLocal)
	dao, err := Store[widget](dio, widget{Name: "clip"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := dao.Commit(); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if dao.dirty {
		t.Fatal("Commit should clear dirty")
	}
	// second Commit with no further Set should still be a cheap no-op
	if err := dao.Commit(); err != nil {
		t.Fatalf("second Commit: %v", err)
	}
}
