package room

import (
	"log/slog"

	"roomd/internal/eventcache"
	"roomd/internal/props"
	"roomd/internal/protocol"
	"roomd/internal/value"
)

// Receiver groups of RaiseEvent. Explicit target actors take precedence.
const (
	ReceiverOthers       = 0
	ReceiverAll          = 1
	ReceiverMasterClient = 2
)

// RaiseEvent applies the cache operation of an event raised by an active
// actor and delivers the event when the operation is a send.
func (r *Room) RaiseEvent(senderNr int, p protocol.RaiseEventParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return protocol.Errorf(protocol.GameDoesNotExist, "game %s does not exist", r.id)
	}
	sender, err := r.activeActorLocked(senderNr)
	if err != nil {
		return err
	}
	op := eventcache.Op(p.Cache)
	if !op.Valid() {
		return protocol.Errorf(protocol.InvalidOperation, "unknown cache operation %d", p.Cache)
	}
	if p.ReceiverGroup < ReceiverOthers || p.ReceiverGroup > ReceiverMasterClient {
		return protocol.Errorf(protocol.InvalidOperation, "unknown receiver group %d", p.ReceiverGroup)
	}
	data, err := value.Normalize(p.Data)
	if err != nil {
		return protocol.Errorf(protocol.InvalidOperation, "%v", err)
	}

	if op != eventcache.DoNotCache {
		if r.cacheExceeded && op.Dispatches() {
			r.errorInfoLocked(sender, "event %d not cached: event cache of game %s is full", p.Code, r.id)
		} else {
			res, err := r.cache.Apply(eventcache.Request{
				Op:         op,
				ActorNr:    sender.nr,
				Code:       p.Code,
				Data:       data,
				ActorList:  p.ActorList,
				SliceIndex: p.CacheSliceIndex,
			}, r.isMemberLocked)
			if err != nil {
				return err
			}
			if res.Overflow {
				r.closeForCacheLocked(sender, res.Reason)
			}
		}
	}

	if !op.Dispatches() {
		return nil
	}
	ev := protocol.Event{Name: protocol.EvCustom, Code: p.Code, Sender: sender.nr, Data: data}
	for _, a := range r.receiversLocked(sender, p) {
		r.deliverLocked(a, ev)
	}
	return nil
}

func (r *Room) receiversLocked(sender *actor, p protocol.RaiseEventParams) []*actor {
	var out []*actor
	if len(p.TargetActors) > 0 {
		seen := make(map[int]bool, len(p.TargetActors))
		for _, nr := range p.TargetActors {
			if seen[nr] {
				continue
			}
			seen[nr] = true
			if a, ok := r.actors[nr]; ok && a.active {
				out = append(out, a)
			}
		}
		return out
	}
	switch p.ReceiverGroup {
	case ReceiverMasterClient:
		if m, ok := r.actors[r.masterNr]; ok && m.active {
			out = append(out, m)
		}
	default:
		for _, nr := range r.actorNrsLocked() {
			if nr == sender.nr && p.ReceiverGroup != ReceiverAll {
				continue
			}
			if a := r.actors[nr]; a.active {
				out = append(out, a)
			}
		}
	}
	return out
}

// closeForCacheLocked closes the room to fresh joins after a cache limit
// was hit. Inactive actors can no longer rejoin either.
func (r *Room) closeForCacheLocked(sender *actor, reason string) {
	r.cacheExceeded = true
	if r.isOpen {
		r.isOpen = false
		if err := r.props.Set(map[string]any{props.IsOpen: false}, false); err != nil {
			slog.Warn("store IsOpen after cache overflow", "room_id", r.id, "err", err)
		}
		r.broadcastLocked(protocol.Event{
			Name: protocol.EvPropertiesChanged,
			Data: protocol.PropertiesChangedData{Properties: map[string]any{props.IsOpen: false}},
		}, 0)
		r.publishLocked()
	}
	slog.Warn("room closed by event cache limit", "room_id", r.id, "actor_nr", sender.nr, "reason", reason)
	r.errorInfoLocked(sender, "event cache of game %s exceeded: %s", r.id, reason)
}
