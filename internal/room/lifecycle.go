package room

import (
	"log/slog"

	"roomd/internal/props"
	"roomd/internal/protocol"
)

// Leave takes an active actor out of the room. With willComeBack and a
// non-zero PlayerTTL the actor stays as inactive and may rejoin; otherwise
// it is removed together with its cached events.
func (r *Room) Leave(actorNr int, willComeBack bool) error {
	r.mu.Lock()
	err := r.leaveLocked(actorNr, willComeBack)
	done := r.takeDestroyedLocked()
	r.mu.Unlock()
	if done != nil {
		done(r)
	}
	return err
}

func (r *Room) leaveLocked(actorNr int, willComeBack bool) error {
	if r.destroyed {
		return protocol.Errorf(protocol.GameDoesNotExist, "game %s does not exist", r.id)
	}
	a, err := r.activeActorLocked(actorNr)
	if err != nil {
		return err
	}

	inactive := willComeBack && r.playerTTL != 0
	if inactive {
		a.active = false
		a.peer = nil
		if ttl := props.TTL(r.playerTTL); ttl > 0 {
			a.ttlGen++
			gen := a.ttlGen
			a.ttl = r.cfg.Clock.AfterFunc(ttl, func() { r.expireActor(a, gen) })
		}
		slog.Info("actor inactive", "room_id", r.id, "actor_nr", a.nr, "player_ttl_ms", r.playerTTL)
	} else {
		r.removeActorLocked(a)
		slog.Info("actor left", "room_id", r.id, "actor_nr", a.nr)
	}

	r.afterDepartureLocked(a.nr, inactive)
	return nil
}

// expireActor removes an inactive actor whose PlayerTTL ran out. gen is
// the countdown that fired; a stopped or re-armed countdown is ignored.
func (r *Room) expireActor(a *actor, gen uint64) {
	r.mu.Lock()
	if r.destroyed || r.actors[a.nr] != a || a.active || a.ttlGen != gen {
		r.mu.Unlock()
		return
	}
	a.ttl = nil
	r.removeActorLocked(a)
	slog.Info("inactive actor expired", "room_id", r.id, "actor_nr", a.nr)
	r.afterDepartureLocked(a.nr, false)
	done := r.takeDestroyedLocked()
	r.mu.Unlock()
	if done != nil {
		done(r)
	}
}

func (r *Room) removeActorLocked(a *actor) {
	a.stopTTL()
	delete(r.actors, a.nr)
	if n := r.cache.RemoveActorsLeft(r.isMemberLocked); n > 0 {
		slog.Debug("cached events of departed actor removed", "room_id", r.id, "actor_nr", a.nr, "events", n)
	}
}

// stopTTL cancels the PlayerTTL countdown of a, including a callback that
// already started.
func (a *actor) stopTTL() {
	a.ttl.Stop()
	a.ttl = nil
	a.ttlGen++
}

// afterDepartureLocked reassigns the master, notifies the room, publishes
// the new listing and handles an emptied room.
func (r *Room) afterDepartureLocked(actorNr int, inactive bool) {
	if m, ok := r.actors[r.masterNr]; !ok || !m.active {
		r.masterNr = r.lowestActiveLocked()
	}
	if !r.flags.SuppressRoomEvents {
		r.broadcastLocked(protocol.Event{
			Name:   protocol.EvLeave,
			Sender: actorNr,
			Data: protocol.LeaveData{
				ActorNr:        actorNr,
				IsInactive:     inactive,
				MasterClientID: r.masterNr,
			},
		}, actorNr)
	}
	r.publishLocked()
	r.afterMembershipChangeLocked()
}

func (r *Room) lowestActiveLocked() int {
	for _, nr := range r.actorNrsLocked() {
		if r.actors[nr].active {
			return nr
		}
	}
	return 0
}

// afterMembershipChangeLocked starts the EmptyRoomTTL countdown once no
// actor is active, or destroys the room right away when nothing is left to
// wait for.
func (r *Room) afterMembershipChangeLocked() {
	active, inactive := r.countsLocked()
	if active > 0 {
		r.stopEmptyTimerLocked()
		return
	}
	if inactive == 0 && r.emptyRoomTTL == 0 {
		r.destroyLocked("empty")
		return
	}
	if r.emptyTimer == nil && r.emptyRoomTTL > 0 {
		r.emptyGen++
		gen := r.emptyGen
		r.emptyTimer = r.cfg.Clock.AfterFunc(props.TTL(r.emptyRoomTTL), func() { r.emptyRoomExpired(gen) })
	}
}

// stopEmptyTimerLocked cancels the EmptyRoomTTL countdown. A callback that
// already started sees the bumped generation and does nothing.
func (r *Room) stopEmptyTimerLocked() {
	r.emptyTimer.Stop()
	r.emptyTimer = nil
	r.emptyGen++
}

func (r *Room) emptyRoomExpired(gen uint64) {
	r.mu.Lock()
	if gen != r.emptyGen {
		r.mu.Unlock()
		return
	}
	r.emptyTimer = nil
	if !r.destroyed && len(r.actors) == 0 {
		r.destroyLocked("empty room ttl expired")
	}
	done := r.takeDestroyedLocked()
	r.mu.Unlock()
	if done != nil {
		done(r)
	}
}

// Close destroys the room regardless of its members.
func (r *Room) Close() {
	r.mu.Lock()
	if !r.destroyed {
		r.destroyLocked("closed")
	}
	done := r.takeDestroyedLocked()
	r.mu.Unlock()
	if done != nil {
		done(r)
	}
}

func (r *Room) destroyLocked(reason string) {
	r.stopEmptyTimerLocked()
	for _, a := range r.actors {
		a.stopTTL()
	}
	r.actors = make(map[int]*actor)
	r.masterNr = 0
	r.destroyed = true
	r.publishLocked()
	slog.Info("room destroyed", "room_id", r.id, "reason", reason)
}

// takeDestroyedLocked returns the destroy callback once, after the room was
// destroyed. The caller runs it without holding the room lock.
func (r *Room) takeDestroyedLocked() func(*Room) {
	if !r.destroyed || r.destroyNotified {
		return nil
	}
	r.destroyNotified = true
	if r.onDestroy == nil {
		return nil
	}
	return r.onDestroy
}
