package room

import (
	"log/slog"

	"roomd/internal/eventcache"
	"roomd/internal/props"
	"roomd/internal/protocol"
	"roomd/internal/slots"
	"roomd/internal/value"
)

// JoinRequest is one attempt to enter a room.
type JoinRequest struct {
	Peer            Peer
	UserID          string
	Mode            JoinMode
	ActorProperties map[string]any
	AddUsers        []string
}

// Join admits a peer into the room as a new actor, or back into its old
// actor number when the mode allows rejoining. A failed join leaves the
// room unchanged.
func (r *Room) Join(req JoinRequest) (protocol.JoinResult, error) {
	r.mu.Lock()
	res, err := r.joinLocked(req, false)
	r.mu.Unlock()
	return res, err
}

func (r *Room) joinLocked(req JoinRequest, creating bool) (protocol.JoinResult, error) {
	if r.destroyed {
		return protocol.JoinResult{}, protocol.Errorf(protocol.GameDoesNotExist, "game %s does not exist", r.id)
	}
	if req.Peer == nil {
		return protocol.JoinResult{}, protocol.Errorf(protocol.InvalidOperation, "join without a peer")
	}
	for _, a := range r.actors {
		if a.active && a.peer != nil && a.peer.ID() == req.Peer.ID() {
			return protocol.JoinResult{}, protocol.Errorf(protocol.JoinFailedPeerAlreadyJoined, "peer %s already joined game %s as actor %d", req.Peer.ID(), r.id, a.nr)
		}
	}

	if req.UserID != "" {
		if _, ok := r.excluded[req.UserID]; ok {
			return protocol.JoinResult{}, protocol.Errorf(protocol.JoinFailedFoundExcludedUserID, "user %s is excluded from game %s", req.UserID, r.id)
		}
	}

	rejoinMode := req.Mode == JoinOrRejoin || req.Mode == RejoinOnly
	var previous *actor
	if req.UserID != "" {
		for _, nr := range r.actorNrsLocked() {
			if a := r.actors[nr]; a.userID == req.UserID {
				previous = a
				break
			}
		}
	}
	if previous != nil {
		switch {
		case previous.active && (r.flags.CheckUserOnJoin || rejoinMode):
			return protocol.JoinResult{}, protocol.Errorf(protocol.JoinFailedFoundActiveJoiner, "user %s is already active in game %s", req.UserID, r.id)
		case !previous.active && rejoinMode:
			return r.rejoinLocked(previous, req)
		case !previous.active && r.flags.CheckUserOnJoin:
			return protocol.JoinResult{}, protocol.Errorf(protocol.JoinFailedFoundInactiveJoiner, "user %s is inactive in game %s", req.UserID, r.id)
		}
	}
	if req.Mode == RejoinOnly {
		return protocol.JoinResult{}, protocol.Errorf(protocol.JoinFailedWithRejoinerNotFound, "no inactive actor for user %q in game %s", req.UserID, r.id)
	}

	if !creating && (r.cacheExceeded || !r.isOpen) {
		return protocol.JoinResult{}, protocol.Errorf(protocol.GameClosed, "game %s is closed", r.id)
	}

	// Occupancy as it will be once the joiner is in.
	occ := r.occupancyLocked(r.maxPlayers)
	occ.Joined++
	if req.UserID != "" {
		occ.JoinedUsers[req.UserID] = struct{}{}
	}
	if !occ.Fits(r.expected) {
		return protocol.JoinResult{}, protocol.Errorf(protocol.GameFull, "game %s is full", r.id)
	}
	reservations := r.expected
	if len(req.AddUsers) > 0 {
		merged, err := slots.Merge(r.expected, req.AddUsers, occ)
		if err != nil {
			return protocol.JoinResult{}, err
		}
		reservations = merged
	}

	actorProps, err := value.NormalizeMap(req.ActorProperties)
	if err != nil {
		return protocol.JoinResult{}, protocol.Errorf(protocol.InvalidOperation, "%v", err)
	}
	store := props.NewStore(r.cfg.PropertyLimits)
	st, err := store.Stage(actorProps, r.flags.DeleteNullProperties)
	if err != nil {
		return protocol.JoinResult{}, err
	}

	reservationsChanged := !slots.SameSet(reservations, r.expected)
	if reservationsChanged {
		if err := r.setReservationsLocked(reservations); err != nil {
			return protocol.JoinResult{}, err
		}
	}
	store.Commit(st)

	a := &actor{
		nr:     r.nextActorNr,
		userID: req.UserID,
		active: true,
		peer:   req.Peer,
		props:  store,
	}
	r.nextActorNr++
	r.actors[a.nr] = a
	if r.masterNr == 0 {
		r.masterNr = a.nr
	}
	r.stopEmptyTimerLocked()

	slog.Info("actor joined", "room_id", r.id, "actor_nr", a.nr, "user_id", a.userID, "peer_id", req.Peer.ID())

	r.announceJoinLocked(a)
	if reservationsChanged {
		r.broadcastLocked(protocol.Event{
			Name: protocol.EvPropertiesChanged,
			Data: protocol.PropertiesChangedData{
				Properties: map[string]any{props.ExpectedUsers: value.FromStrings(r.expected)},
			},
		}, a.nr)
	}
	r.publishLocked()
	return r.joinResultLocked(a, false), nil
}

func (r *Room) rejoinLocked(a *actor, req JoinRequest) (protocol.JoinResult, error) {
	if r.cacheExceeded {
		return protocol.JoinResult{}, protocol.Errorf(protocol.EventCacheExceeded, "game %s closed after its event cache overflowed", r.id)
	}
	if req.ActorProperties != nil {
		changes, err := value.NormalizeMap(req.ActorProperties)
		if err != nil {
			return protocol.JoinResult{}, protocol.Errorf(protocol.InvalidOperation, "%v", err)
		}
		if err := a.props.Set(changes, r.flags.DeleteNullProperties); err != nil {
			return protocol.JoinResult{}, err
		}
	}

	a.stopTTL()
	a.active = true
	a.peer = req.Peer
	if r.masterNr == 0 {
		r.masterNr = a.nr
	}
	r.stopEmptyTimerLocked()

	slog.Info("actor rejoined", "room_id", r.id, "actor_nr", a.nr, "user_id", a.userID, "peer_id", req.Peer.ID())

	r.announceJoinLocked(a)
	r.publishLocked()
	return r.joinResultLocked(a, true), nil
}

// announceJoinLocked replays the event cache to the joiner and then tells
// the room about it.
func (r *Room) announceJoinLocked(a *actor) {
	for _, ev := range r.cache.Events() {
		r.deliverLocked(a, cachedEvent(ev))
	}
	if r.flags.SuppressRoomEvents {
		return
	}
	data := protocol.JoinData{
		ActorNr:        a.nr,
		Actors:         r.actorNrsLocked(),
		MasterClientID: r.masterNr,
	}
	if r.flags.PublishUserID {
		data.UserID = a.userID
	}
	if !r.flags.SuppressPlayerInfo {
		data.Properties = a.props.Snapshot(nil)
	}
	r.broadcastLocked(protocol.Event{Name: protocol.EvJoin, Sender: a.nr, Data: data}, 0)
}

func (r *Room) joinResultLocked(a *actor, rejoined bool) protocol.JoinResult {
	return protocol.JoinResult{
		GameID:          r.id,
		ActorNr:         a.nr,
		Actors:          r.actorNrsLocked(),
		GameProperties:  r.gamePropertiesLocked(),
		ActorProperties: r.actorPropertiesLocked(),
		Rejoined:        rejoined,
	}
}

func cachedEvent(ev eventcache.Event) protocol.Event {
	return protocol.Event{
		Name:   protocol.EvCustom,
		Code:   ev.Code,
		Sender: ev.ActorNr,
		Data:   value.Clone(ev.Data),
	}
}
