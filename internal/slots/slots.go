// Package slots keeps the reserved-capacity invariant of a room:
//
//	joined actors + (ExpectedUsers not yet joined) <= capacity
//
// whenever capacity is non-zero. Joined actors include inactive ones.
package slots

import "roomd/internal/protocol"

// Occupancy is the membership a slot list is validated against.
type Occupancy struct {
	// Capacity is MaxPlayers; zero is unlimited.
	Capacity int
	// Joined counts active and inactive actors.
	Joined int
	// JoinedUsers holds the user ids of joined actors.
	JoinedUsers map[string]struct{}
}

// Dedup removes repeated user ids keeping the first occurrence.
func Dedup(users []string) []string {
	if users == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Reserved counts the users of expected that hold a slot without having
// joined.
func Reserved(expected []string, joined map[string]struct{}) int {
	n := 0
	for _, u := range Dedup(expected) {
		if _, ok := joined[u]; !ok {
			n++
		}
	}
	return n
}

// Used is the number of capacity units taken by members and reservations.
func (o Occupancy) Used(expected []string) int {
	return o.Joined + Reserved(expected, o.JoinedUsers)
}

// Fits reports whether expected respects the capacity.
func (o Occupancy) Fits(expected []string) bool {
	return o.Capacity <= 0 || o.Used(expected) <= o.Capacity
}

// Free returns the number of unreserved, unjoined places; -1 when unlimited.
func (o Occupancy) Free(expected []string) int {
	if o.Capacity <= 0 {
		return -1
	}
	free := o.Capacity - o.Used(expected)
	if free < 0 {
		return 0
	}
	return free
}

// Merge returns the union of current and add for a create or join that
// carries an AddUsers list. occ must already include the joining actor.
// Failures are reported as SlotError.
func Merge(current, add []string, occ Occupancy) ([]string, error) {
	for _, u := range add {
		if u == "" {
			return nil, protocol.Errorf(protocol.SlotError, "empty user id in slot reservation")
		}
	}
	merged := Dedup(append(append([]string(nil), current...), add...))
	if !occ.Fits(merged) {
		return nil, protocol.Errorf(protocol.SlotError, "%d places requested, capacity %d", occ.Used(merged), occ.Capacity)
	}
	return merged, nil
}

// Replace validates a full replacement of ExpectedUsers made through
// SetProperties. The result is deduplicated before the capacity check.
// Failures are reported as InvalidOperation.
func Replace(next []string, occ Occupancy) ([]string, error) {
	for _, u := range next {
		if u == "" {
			return nil, protocol.Errorf(protocol.InvalidOperation, "empty user id in ExpectedUsers")
		}
	}
	deduped := Dedup(next)
	if !occ.Fits(deduped) {
		return nil, protocol.Errorf(protocol.InvalidOperation, "ExpectedUsers needs %d places, capacity %d", occ.Used(deduped), occ.Capacity)
	}
	return deduped, nil
}

// SameSet reports whether a and b hold the same users, ignoring order and
// repeats.
func SameSet(a, b []string) bool {
	da, db := Dedup(a), Dedup(b)
	if len(da) != len(db) {
		return false
	}
	set := make(map[string]struct{}, len(da))
	for _, u := range da {
		set[u] = struct{}{}
	}
	for _, u := range db {
		if _, ok := set[u]; !ok {
			return false
		}
	}
	return true
}
