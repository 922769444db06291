// Package props is the per-room and per-actor property store: a small
// string-keyed map with compare-and-swap checks and size budgets.
//
// A Store is not safe for concurrent use; the owning room serializes access.
package props

import (
	"roomd/internal/protocol"
	"roomd/internal/value"
)

// Limits bounds one property set.
type Limits struct {
	MaxBytes int
	MaxKeys  int
}

// Store holds one property set.
type Store struct {
	values map[string]any
	limits Limits
}

// NewStore returns an empty store with the given budgets. Zero budgets are
// unlimited.
func NewStore(limits Limits) *Store {
	return &Store{values: make(map[string]any), limits: limits}
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of stored keys.
func (s *Store) Len() int { return len(s.values) }

// Snapshot returns a deep copy of the requested keys; nil keys means all.
// Keys that are not stored are skipped.
func (s *Store) Snapshot(keys []string) map[string]any {
	if keys == nil {
		return value.CloneMap(s.values)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = value.Clone(v)
		}
	}
	return out
}

// Matcher decides whether the stored state of one key satisfies an expected
// value. present reports whether the key is stored at all.
type Matcher func(key string, want, have any, present bool) bool

// Match is the default Matcher: an expected nil matches an absent or nil
// key, anything else must be stored and structurally equal.
func Match(_ string, want, have any, present bool) bool {
	if want == nil {
		return !present || have == nil
	}
	return present && value.Equal(want, have)
}

// Compare checks every expected key against the store. The first mismatch
// fails the whole comparison with InvalidOperation. A nil match uses Match.
func (s *Store) Compare(expected map[string]any, match Matcher) error {
	if match == nil {
		match = Match
	}
	for _, k := range value.SortedKeys(expected) {
		have, present := s.values[k]
		if !match(k, expected[k], have, present) {
			return protocol.Errorf(protocol.InvalidOperation, "expected value of property %q does not match", k)
		}
	}
	return nil
}

// Staged is a validated but not yet applied write.
type Staged struct {
	next    map[string]any
	Changes map[string]any
}

// Stage computes the result of applying changes without mutating the store
// and checks it against the key and byte budgets. With deleteNull, a nil
// value removes the key instead of storing nil.
func (s *Store) Stage(changes map[string]any, deleteNull bool) (*Staged, error) {
	next := make(map[string]any, len(s.values)+len(changes))
	for k, v := range s.values {
		next[k] = v
	}
	applied := make(map[string]any, len(changes))
	for k, v := range changes {
		if k == "" {
			return nil, protocol.Errorf(protocol.InvalidOperation, "empty property key")
		}
		applied[k] = v
		if v == nil && deleteNull {
			delete(next, k)
			continue
		}
		next[k] = v
	}

	if s.limits.MaxKeys > 0 && len(next) > s.limits.MaxKeys {
		return nil, protocol.Errorf(protocol.InvalidOperation, "property count %d exceeds limit %d", len(next), s.limits.MaxKeys)
	}
	if s.limits.MaxBytes > 0 {
		size, err := value.Size(next)
		if err != nil {
			return nil, protocol.Errorf(protocol.InvalidOperation, "encode properties: %v", err)
		}
		if size > s.limits.MaxBytes {
			return nil, protocol.Errorf(protocol.InvalidOperation, "properties size %d bytes exceeds limit %d", size, s.limits.MaxBytes)
		}
	}
	return &Staged{next: next, Changes: applied}, nil
}

// Commit applies a write produced by Stage on this store.
func (s *Store) Commit(st *Staged) {
	s.values = st.next
}

// Set stages and commits in one step.
func (s *Store) Set(changes map[string]any, deleteNull bool) error {
	st, err := s.Stage(changes, deleteNull)
	if err != nil {
		return err
	}
	s.Commit(st)
	return nil
}
