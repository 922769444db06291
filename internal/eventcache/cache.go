// Package eventcache stores the events a room replays to actors that join
// after the events were raised.
//
// Events live either in the global cache, which is split into numbered
// slices (slice 0 is the default), or in a per-actor cache keyed by the
// actor that raised them. A Cache is not safe for concurrent use; the owning
// room serializes access.
package eventcache

import (
	"sort"

	"roomd/internal/protocol"
	"roomd/internal/value"
)

// Op selects what RaiseEvent does with the cache.
type Op int

// Cache operations.
const (
	DoNotCache                       Op = 0
	MergeCache                       Op = 1
	ReplaceCache                     Op = 2
	RemoveCache                      Op = 3
	AddToRoomCache                   Op = 4
	AddToRoomCacheGlobal             Op = 5
	RemoveFromRoomCache              Op = 6
	RemoveFromRoomCacheForActorsLeft Op = 7
	SliceIncreaseIndex               Op = 10
	SliceSetIndex                    Op = 11
	SlicePurgeIndex                  Op = 12
	SlicePurgeUpToIndex              Op = 13
)

// Valid reports whether op is a known cache operation.
func (op Op) Valid() bool {
	switch op {
	case DoNotCache, MergeCache, ReplaceCache, RemoveCache, AddToRoomCache, AddToRoomCacheGlobal,
		RemoveFromRoomCache, RemoveFromRoomCacheForActorsLeft,
		SliceIncreaseIndex, SliceSetIndex, SlicePurgeIndex, SlicePurgeUpToIndex:
		return true
	}
	return false
}

// Dispatches reports whether an event raised with op is also delivered to
// receivers. Removal and slice management ops only touch the cache.
func (op Op) Dispatches() bool {
	switch op {
	case DoNotCache, MergeCache, ReplaceCache, AddToRoomCache, AddToRoomCacheGlobal:
		return true
	}
	return false
}

// Event is one cached event. ActorNr is 0 for global events.
type Event struct {
	Code    int
	ActorNr int
	Data    any
}

// Limits caps the cache. Zero values are unlimited.
type Limits struct {
	// MaxEvents caps all cached events of the room.
	MaxEvents int
	// MaxActorEvents caps the cache of one actor.
	MaxActorEvents int
	// MaxSlices caps the number of global cache slices.
	MaxSlices int
}

// Request is one cache operation.
type Request struct {
	Op      Op
	ActorNr int
	Code    int
	Data    any
	// ActorList filters RemoveFromRoomCache; 0 selects global events.
	ActorList []int
	// SliceIndex is the argument of SliceSetIndex and the purge ops.
	SliceIndex int
}

// Result reports what Apply did.
type Result struct {
	// Overflow is set when a write was refused because a cache limit was
	// reached. The room closes itself in response.
	Overflow bool
	Reason   string
	Removed  int
}

// Cache is the event cache of one room.
type Cache struct {
	limits  Limits
	slices  map[int][]Event
	current int
	actors  map[int][]Event
}

// New returns an empty cache with slice 0 current.
func New(limits Limits) *Cache {
	return &Cache{
		limits: limits,
		slices: map[int][]Event{0: nil},
		actors: make(map[int][]Event),
	}
}

// Len returns the number of cached events across all scopes.
func (c *Cache) Len() int {
	n := 0
	for _, evs := range c.slices {
		n += len(evs)
	}
	for _, evs := range c.actors {
		n += len(evs)
	}
	return n
}

// SliceCount returns the number of global cache slices.
func (c *Cache) SliceCount() int { return len(c.slices) }

// CurrentSlice returns the slice global writes go to.
func (c *Cache) CurrentSlice() int { return c.current }

// Apply runs one cache operation. isMember reports whether an actor number
// still belongs to the room (active or inactive); it is consulted by
// RemoveFromRoomCacheForActorsLeft.
func (c *Cache) Apply(req Request, isMember func(actorNr int) bool) (Result, error) {
	switch req.Op {
	case DoNotCache:
		return Result{}, nil

	case AddToRoomCache:
		if res, full := c.checkCapacity(req.ActorNr); full {
			return res, nil
		}
		c.actors[req.ActorNr] = append(c.actors[req.ActorNr], Event{Code: req.Code, ActorNr: req.ActorNr, Data: value.Clone(req.Data)})
		return Result{}, nil

	case AddToRoomCacheGlobal:
		if res, full := c.checkCapacity(0); full {
			return res, nil
		}
		c.slices[c.current] = append(c.slices[c.current], Event{Code: req.Code, Data: value.Clone(req.Data)})
		return Result{}, nil

	case MergeCache:
		return c.merge(req), nil

	case ReplaceCache:
		return c.replace(req), nil

	case RemoveCache:
		n := c.removeActorEntries(req.ActorNr, func(ev Event) bool {
			return req.Code == 0 || ev.Code == req.Code
		})
		return Result{Removed: n}, nil

	case RemoveFromRoomCache:
		return Result{Removed: c.remove(req)}, nil

	case RemoveFromRoomCacheForActorsLeft:
		return Result{Removed: c.RemoveActorsLeft(isMember)}, nil

	case SliceIncreaseIndex:
		return Result{}, c.setSlice(c.current + 1)

	case SliceSetIndex:
		if req.SliceIndex < 0 {
			return Result{}, protocol.Errorf(protocol.InvalidOperation, "negative cache slice index %d", req.SliceIndex)
		}
		return Result{}, c.setSlice(req.SliceIndex)

	case SlicePurgeIndex:
		if req.SliceIndex == c.current {
			return Result{}, protocol.Errorf(protocol.InvalidOperation, "cannot purge the current cache slice %d", req.SliceIndex)
		}
		removed := len(c.slices[req.SliceIndex])
		delete(c.slices, req.SliceIndex)
		return Result{Removed: removed}, nil

	case SlicePurgeUpToIndex:
		if req.SliceIndex > c.current {
			return Result{}, protocol.Errorf(protocol.InvalidOperation, "cannot purge past the current cache slice %d", c.current)
		}
		removed := 0
		for idx, evs := range c.slices {
			if idx < req.SliceIndex {
				removed += len(evs)
				delete(c.slices, idx)
			}
		}
		return Result{Removed: removed}, nil
	}
	return Result{}, protocol.Errorf(protocol.InvalidOperation, "unknown cache operation %d", int(req.Op))
}

// checkCapacity reports whether one more event for actorNr (0 for global)
// would break a limit.
func (c *Cache) checkCapacity(actorNr int) (Result, bool) {
	if c.limits.MaxEvents > 0 && c.Len() >= c.limits.MaxEvents {
		return Result{Overflow: true, Reason: "room event cache limit reached"}, true
	}
	if actorNr > 0 && c.limits.MaxActorEvents > 0 && len(c.actors[actorNr]) >= c.limits.MaxActorEvents {
		return Result{Overflow: true, Reason: "actor event cache limit reached"}, true
	}
	return Result{}, false
}

func (c *Cache) setSlice(idx int) error {
	if _, ok := c.slices[idx]; !ok {
		if c.limits.MaxSlices > 0 && len(c.slices) >= c.limits.MaxSlices {
			return protocol.Errorf(protocol.InvalidOperation, "cache slice limit %d reached", c.limits.MaxSlices)
		}
		c.slices[idx] = nil
	}
	c.current = idx
	return nil
}

func (c *Cache) findActorEntry(actorNr, code int) int {
	for i, ev := range c.actors[actorNr] {
		if ev.Code == code {
			return i
		}
	}
	return -1
}

func (c *Cache) merge(req Request) Result {
	idx := c.findActorEntry(req.ActorNr, req.Code)
	if req.Data == nil {
		if idx >= 0 {
			c.deleteActorEntry(req.ActorNr, idx)
			return Result{Removed: 1}
		}
		return Result{}
	}
	if idx < 0 {
		if res, full := c.checkCapacity(req.ActorNr); full {
			return res
		}
		c.actors[req.ActorNr] = append(c.actors[req.ActorNr], Event{Code: req.Code, ActorNr: req.ActorNr, Data: value.Clone(req.Data)})
		return Result{}
	}

	entry := &c.actors[req.ActorNr][idx]
	cur, curIsMap := entry.Data.(map[string]any)
	upd, updIsMap := req.Data.(map[string]any)
	if !curIsMap || !updIsMap {
		entry.Data = value.Clone(req.Data)
		return Result{}
	}
	merged := value.CloneMap(cur)
	for k, v := range upd {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = value.Clone(v)
	}
	entry.Data = merged
	return Result{}
}

func (c *Cache) replace(req Request) Result {
	idx := c.findActorEntry(req.ActorNr, req.Code)
	if req.Data == nil {
		if idx >= 0 {
			c.deleteActorEntry(req.ActorNr, idx)
			return Result{Removed: 1}
		}
		return Result{}
	}
	if idx >= 0 {
		c.actors[req.ActorNr][idx].Data = value.Clone(req.Data)
		return Result{}
	}
	if res, full := c.checkCapacity(req.ActorNr); full {
		return res
	}
	c.actors[req.ActorNr] = append(c.actors[req.ActorNr], Event{Code: req.Code, ActorNr: req.ActorNr, Data: value.Clone(req.Data)})
	return Result{}
}

func (c *Cache) deleteActorEntry(actorNr, idx int) {
	evs := c.actors[actorNr]
	evs = append(evs[:idx:idx], evs[idx+1:]...)
	if len(evs) == 0 {
		delete(c.actors, actorNr)
		return
	}
	c.actors[actorNr] = evs
}

func (c *Cache) removeActorEntries(actorNr int, match func(Event) bool) int {
	evs, ok := c.actors[actorNr]
	if !ok {
		return 0
	}
	kept := evs[:0:0]
	for _, ev := range evs {
		if !match(ev) {
			kept = append(kept, ev)
		}
	}
	removed := len(evs) - len(kept)
	if len(kept) == 0 {
		delete(c.actors, actorNr)
	} else {
		c.actors[actorNr] = kept
	}
	return removed
}

// remove drops every event matching all filters present in req: code (0 is
// any), actor list (0 is the global cache) and payload.
func (c *Cache) remove(req Request) int {
	match := func(ev Event) bool {
		if req.Code != 0 && ev.Code != req.Code {
			return false
		}
		return req.Data == nil || dataMatches(ev.Data, req.Data)
	}

	removed := 0
	if len(req.ActorList) == 0 {
		for idx, evs := range c.slices {
			kept, n := filterOut(evs, match)
			c.slices[idx] = kept
			removed += n
		}
		for actorNr := range c.actors {
			removed += c.removeActorEntries(actorNr, match)
		}
		return removed
	}

	seen := make(map[int]struct{}, len(req.ActorList))
	for _, actorNr := range req.ActorList {
		if _, dup := seen[actorNr]; dup {
			continue
		}
		seen[actorNr] = struct{}{}
		if actorNr == 0 {
			for idx, evs := range c.slices {
				kept, n := filterOut(evs, match)
				c.slices[idx] = kept
				removed += n
			}
			continue
		}
		removed += c.removeActorEntries(actorNr, match)
	}
	return removed
}

// dataMatches compares a cached payload with a removal filter. A map filter
// matches payloads holding all of its entries; other filters must be equal.
func dataMatches(data, filter any) bool {
	if fm, ok := filter.(map[string]any); ok {
		dm, ok := data.(map[string]any)
		return ok && value.Contains(dm, fm)
	}
	return value.Equal(data, filter)
}

func filterOut(evs []Event, match func(Event) bool) ([]Event, int) {
	kept := evs[:0:0]
	for _, ev := range evs {
		if !match(ev) {
			kept = append(kept, ev)
		}
	}
	return kept, len(evs) - len(kept)
}

// RemoveActorsLeft drops the caches of actors that are no longer members.
func (c *Cache) RemoveActorsLeft(isMember func(actorNr int) bool) int {
	removed := 0
	for actorNr, evs := range c.actors {
		if isMember != nil && isMember(actorNr) {
			continue
		}
		removed += len(evs)
		delete(c.actors, actorNr)
	}
	return removed
}

// Events returns the replay sequence for a joining actor: the default
// global slice, then per-actor caches by actor number, then the remaining
// slices by index. Each scope keeps insertion order.
func (c *Cache) Events() []Event {
	out := make([]Event, 0, c.Len())
	out = append(out, c.slices[0]...)

	actorNrs := make([]int, 0, len(c.actors))
	for nr := range c.actors {
		actorNrs = append(actorNrs, nr)
	}
	sort.Ints(actorNrs)
	for _, nr := range actorNrs {
		out = append(out, c.actors[nr]...)
	}

	idxs := make([]int, 0, len(c.slices))
	for idx := range c.slices {
		if idx != 0 {
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		out = append(out, c.slices[idx]...)
	}

	for i := range out {
		out[i].Data = value.Clone(out[i].Data)
	}
	return out
}
