package chainvault

import (
	"testing"
	"time"
)

func newTestEnforcer(tolerance time.Duration) *TimestampEnforcer {
	return &TimestampEnforcer{
		cursor:    0,
		tolerance: tolerance,
		offset:    0,
	}
}

func TestTimestampEnforcerLintEventStampsNow(t *testing.T) {
	e := newTestEnforcer(time.Second)
	entries, err := e.LintEvent(nil, nil)
	if err != nil {
		t.Fatalf("LintEvent: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != MetaTimestampKind {
		t.Fatalf("LintEvent entries = %+v, want one MetaTimestampKind", entries)
	}
	got := time.UnixMilli(int64(entries[0].Timestamp.MsSinceEpoch))
	if time.Since(got) > time.Second || time.Since(got) < -time.Second {
		t.Fatalf("stamped timestamp %v too far from now", got)
	}
}

func TestTimestampEnforcerFeedAdvancesCursor(t *testing.T) {
	e := newTestEnforcer(time.Second)
	meta := Metadata{Core: []CoreMetadata{TimestampMeta(1_000_000)}}
	if err := e.Feed(meta, nil); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if e.cursor != 1_000_000*time.Millisecond {
		t.Fatalf("cursor = %v, want %v", e.cursor, 1_000_000*time.Millisecond)
	}

	// an older timestamp should not move the cursor backward
	older := Metadata{Core: []CoreMetadata{TimestampMeta(500_000)}}
	if err := e.Feed(older, nil); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if e.cursor != 1_000_000*time.Millisecond {
		t.Fatalf("cursor moved backward to %v", e.cursor)
	}
}

func TestTimestampEnforcerValidateRejectsOutOfBounds(t *testing.T) {
	e := newTestEnforcer(100 * time.Millisecond)
	// the cursor sits at now, as after earlier accepted events, so the
	// lower bound is now-100ms
	e.cursor = time.Duration(time.Now().UnixMilli()) * time.Millisecond
	header := EventHeader{Meta: Metadata{Core: []CoreMetadata{TimestampMeta(uint64(time.Now().Add(-time.Hour).UnixMilli()))}}}
	result, err := e.Validate(header, nil)
	if err == nil || result != ValidationDeny {
		t.Fatalf("Validate = %v, %v, want ValidationDeny with a ValidationError", result, err)
	}
	var ve *ValidationError
	if ve, _ = err.(*ValidationError); ve == nil || ve.Kind != ValidationErrTimeOutOfBounds {
		t.Fatalf("got %v, want ValidationErrTimeOutOfBounds", err)
	}
}

func TestTimestampEnforcerValidateAcceptsWithinBounds(t *testing.T) {
	e := newTestEnforcer(time.Second)
	header := EventHeader{Meta: Metadata{Core: []CoreMetadata{TimestampMeta(uint64(time.Now().UnixMilli()))}}}
	result, err := e.Validate(header, nil)
	if err != nil || result != ValidationAbstain {
		t.Fatalf("Validate = %v, %v, want ValidationAbstain, nil", result, err)
	}
}

func TestTimestampEnforcerValidateDeniesMissingTimestampWhenSignatureNeeded(t *testing.T) {
	e := newTestEnforcer(time.Second)
	priv, _ := GeneratePrivateKey()
	meta := ForData(PrimaryKey(1))
	meta.Core = append(meta.Core, AuthorizationMeta(MetaAuthorization{WriteHashes: []Hash{priv.Public.Hash()}}))
	header := EventHeader{Meta: meta}

	result, err := e.Validate(header, nil)
	if err == nil || result != ValidationDeny {
		t.Fatalf("Validate = %v, %v, want ValidationDeny for a signature-required header with no timestamp", result, err)
	}
}

func TestTimestampEnforcerValidateAbstainsMissingTimestampOtherwise(t *testing.T) {
	e := newTestEnforcer(time.Second)
	header := EventHeader{Meta: ForData(PrimaryKey(1))}
	result, err := e.Validate(header, nil)
	if err != nil || result != ValidationAbstain {
		t.Fatalf("Validate = %v, %v, want ValidationAbstain, nil when no signature is required", result, err)
	}
}
