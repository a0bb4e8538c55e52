package chainvault

import "testing"

type widget struct {
	Name  string
	Count int
}

func openTestDio(t *testing.T, scope TransactionScope) *Dio {
	t.Helper()
	chain, _ := openTestChain(t, nil, nil)
	dio, err := NewDio(chain, NewSession(), scope, NewPipeline(), 64)
	if err != nil {
		t.Fatalf("NewDio: %v", err)
	}
	return dio
}

func TestDioStoreCommitLoadRoundTrip(t *testing.T) {
	dio := openTestDio(t, ScopeLocal)

	dao, err := Store[widget](dio, widget{Name: "bolt", Count: 3})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := dao.Commit(); err != nil {
		t.Fatalf("Dao.Commit: %v", err)
	}
	if err := dio.Commit(); err != nil {
		t.Fatalf("Dio.Commit: %v", err)
	}

	loaded, err := Load[widget](dio, dao.Key)
	if err != nil {
		t.Fatalf("Load after commit should resolve via load_cache/chain: %v", err)
	}
	if loaded.Data != (widget{Name: "bolt", Count: 3}) {
		t.Fatalf("Load = %+v, want {bolt 3}", loaded.Data)
	}
}

func TestDioLoadStillLockedBeforeDaoCommit(t *testing.T) {
	// A stored Dao keeps its key locked until that Dao commits; Dao.Commit
	// stages the row and releases the lock.
	dio := openTestDio(t, ScopeLocal)

	dao, err := Store[widget](dio, widget{Name: "nut", Count: 1})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	_, err = Load[widget](dio, dao.Key)
	if err == nil {
		t.Fatal("expected Load to report the key as still locked before Dao.Commit")
	}
	if e, ok := err.(*LoadError); !ok || e.Kind != LoadErrObjectStillLocked {
		t.Fatalf("got %v, want LoadErrObjectStillLocked", err)
	}

	if err := dao.Commit(); err != nil {
		t.Fatalf("Dao.Commit: %v", err)
	}
	if _, err := Load[widget](dio, dao.Key); err != nil {
		t.Fatalf("Load after Dao.Commit should see the staged row: %v", err)
	}

	if err := dio.Commit(); err != nil {
		t.Fatalf("Dio.Commit: %v", err)
	}
	if _, err := Load[widget](dio, dao.Key); err != nil {
		t.Fatalf("Load after Dio.Commit should succeed: %v", err)
	}
}

func TestDioDeleteThenLoadNotFound(t *testing.T) {
	dio := openTestDio(t, ScopeLocal)
	dao, err := Store[widget](dio, widget{Name: "washer"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := dao.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := dio.Commit(); err != nil {
		t.Fatalf("Dio.Commit: %v", err)
	}

	reloaded, err := Load[widget](dio, dao.Key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reloaded.Delete()
	if err := dio.Commit(); err != nil {
		t.Fatalf("Dio.Commit after delete: %v", err)
	}

	if _, err := Load[widget](dio, dao.Key); err == nil {
		t.Fatal("expected Load of a deleted key to fail")
	}
}

func TestDioDeleteIsIdempotent(t *testing.T) {
	dio := openTestDio(t, ScopeLocal)
	dao, _ := Store[widget](dio, widget{Name: "rivet"})
	dao.Commit()
	dio.Commit()

	reloaded, err := Load[widget](dio, dao.Key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reloaded.Delete()
	reloaded.Delete() // spec §8 property 5: repeated delete is a no-op, not an error
	if err := dio.Commit(); err != nil {
		t.Fatalf("Dio.Commit after double delete: %v", err)
	}
}

func TestDaoVecPushAndChildren(t *testing.T) {
	dio := openTestDio(t, ScopeLocal)
	parent, err := Store[widget](dio, widget{Name: "bin"})
	if err != nil {
		t.Fatalf("Store parent: %v", err)
	}
	if err := parent.Commit(); err != nil {
		t.Fatalf("Commit parent: %v", err)
	}

	vec := DaoVec[widget]{Parent: parent.Key, CollectionID: "contents", dio: dio}
	for i := 0; i < 3; i++ {
		child, err := vec.Push(widget{Name: "item", Count: i})
		if err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		if err := child.Commit(); err != nil {
			t.Fatalf("commit child %d: %v", i, err)
		}
	}
	if err := dio.Commit(); err != nil {
		t.Fatalf("Dio.Commit: %v", err)
	}

	children, err := vec.Children()
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("Children returned %d rows, want 3", len(children))
	}
}
