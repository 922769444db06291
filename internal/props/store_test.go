package props

import (
	"errors"
	"strings"
	"testing"
	"time"

	"roomd/internal/protocol"
)

func TestCompareMismatchLeavesStoreUntouched(t *testing.T) {
	s := NewStore(Limits{})
	if err := s.Set(map[string]any{"a": "b"}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.Compare(map[string]any{"a": "wrong"}, nil)
	if !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("expected InvalidOperation, got %v", err)
	}
	if v, _ := s.Get("a"); v != "b" {
		t.Fatalf("store mutated: a=%#v", v)
	}
}

func TestCompareNullMeansAbsentOrNull(t *testing.T) {
	s := NewStore(Limits{})
	if err := s.Compare(map[string]any{"missing": nil}, nil); err != nil {
		t.Fatalf("absent key should match nil: %v", err)
	}
	if err := s.Set(map[string]any{"n": nil, "x": int64(1)}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Compare(map[string]any{"n": nil}, nil); err != nil {
		t.Fatalf("stored nil should match nil: %v", err)
	}
	if err := s.Compare(map[string]any{"x": nil}, nil); err == nil {
		t.Fatal("stored value must not match nil")
	}
}

func TestCompareArraysDeep(t *testing.T) {
	s := NewStore(Limits{})
	if err := s.Set(map[string]any{"arr": []any{int64(1), "two"}}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Compare(map[string]any{"arr": []any{1.0, "two"}}, nil); err != nil {
		t.Fatalf("deep-equal array should match: %v", err)
	}
	if err := s.Compare(map[string]any{"arr": []any{int64(1)}}, nil); err == nil {
		t.Fatal("shorter array must not match")
	}
}

func TestDeleteNull(t *testing.T) {
	s := NewStore(Limits{})
	_ = s.Set(map[string]any{"a": int64(1), "b": int64(2)}, false)

	if err := s.Set(map[string]any{"a": nil}, true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected a to be removed")
	}

	if err := s.Set(map[string]any{"b": nil}, false); err != nil {
		t.Fatalf("set nil: %v", err)
	}
	if v, ok := s.Get("b"); !ok || v != nil {
		t.Fatalf("expected b stored as nil, got %#v present=%v", v, ok)
	}
}

func TestBudgetsRejectWholeWrite(t *testing.T) {
	s := NewStore(Limits{MaxKeys: 2, MaxBytes: 64})
	if err := s.Set(map[string]any{"a": int64(1)}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.Set(map[string]any{"b": int64(2), "c": int64(3)}, false)
	if !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("expected key budget error, got %v", err)
	}
	if _, ok := s.Get("b"); ok {
		t.Fatal("partial write applied")
	}

	err = s.Set(map[string]any{"b": strings.Repeat("x", 100)}, false)
	if !errors.Is(err, protocol.ErrInvalidOperation) {
		t.Fatalf("expected byte budget error, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 key after rejected writes, got %d", s.Len())
	}
}

func TestSnapshotSkipsUnknownAndCopies(t *testing.T) {
	s := NewStore(Limits{})
	_ = s.Set(map[string]any{"m": map[string]any{"k": "v"}}, false)

	snap := s.Snapshot([]string{"m", "nope"})
	if len(snap) != 1 {
		t.Fatalf("expected 1 key, got %#v", snap)
	}
	snap["m"].(map[string]any)["k"] = "changed"
	if v, _ := s.Get("m"); v.(map[string]any)["k"] != "v" {
		t.Fatal("snapshot aliases store contents")
	}
}

func TestNormalizeWellKnown(t *testing.T) {
	limits := TTLLimits{MaxPlayerTTL: time.Minute, MaxEmptyRoomTTL: 5 * time.Minute}

	v, err := NormalizeWellKnown(MaxPlayers, 4.0, limits)
	if err != nil || v != int64(4) {
		t.Fatalf("MaxPlayers 4.0 -> %#v, %v", v, err)
	}
	if _, err := NormalizeWellKnown(MaxPlayers, "4", limits); err == nil {
		t.Fatal("string MaxPlayers must be rejected")
	}
	if _, err := NormalizeWellKnown(MaxPlayers, int64(256), limits); err == nil {
		t.Fatal("MaxPlayers above limit must be rejected")
	}
	if _, err := NormalizeWellKnown(EmptyRoomTTL, int64(10*60*1000), limits); err == nil {
		t.Fatal("oversized EmptyRoomTTL must be rejected, not clamped")
	}
	if _, err := NormalizeWellKnown(PlayerTTL, int64(2*60*1000), limits); err == nil {
		t.Fatal("oversized PlayerTTL must be rejected")
	}
	v, err = NormalizeWellKnown(PlayerTTL, int64(-5), limits)
	if err != nil || v != int64(-1) {
		t.Fatalf("negative PlayerTTL -> %#v, %v", v, err)
	}
	if _, err := NormalizeWellKnown(IsOpen, int64(1), limits); err == nil {
		t.Fatal("non-bool IsOpen must be rejected")
	}
	v, err = NormalizeWellKnown(ExpectedUsers, []any{"a", "b"}, limits)
	if err != nil || len(v.([]any)) != 2 {
		t.Fatalf("ExpectedUsers -> %#v, %v", v, err)
	}
	if _, err := NormalizeWellKnown(ExpectedUsers, []any{"a", int64(1)}, limits); err == nil {
		t.Fatal("non-string user id must be rejected")
	}
}
