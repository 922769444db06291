package room

import (
	"log/slog"

	"roomd/internal/props"
	"roomd/internal/protocol"
	"roomd/internal/slots"
	"roomd/internal/value"
)

// roomWrite is a validated room-property write together with the derived
// state it produces. Nothing is applied until commitRoomWrite.
type roomWrite struct {
	staged    map[string]any
	broadcast map[string]any

	maxPlayers   int
	isOpen       bool
	isVisible    bool
	playerTTL    int64
	emptyRoomTTL int64
	expected     []string
	lobbyKeys    []string
	masterNr     int
}

// SetProperties writes room properties (p.ActorNr <= 0) or the properties of
// one actor. senderNr must be an active actor; 0 is the server itself.
// A failed call leaves every property unchanged and emits nothing.
func (r *Room) SetProperties(senderNr int, p protocol.SetPropertiesParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return protocol.Errorf(protocol.GameDoesNotExist, "game %s does not exist", r.id)
	}
	var sender *actor
	if senderNr != 0 {
		a, err := r.activeActorLocked(senderNr)
		if err != nil {
			return err
		}
		sender = a
	}

	changes, err := value.NormalizeMap(p.Properties)
	if err != nil {
		return protocol.Errorf(protocol.InvalidOperation, "%v", err)
	}
	if len(changes) == 0 {
		return protocol.Errorf(protocol.InvalidOperation, "no properties to set")
	}
	expected, err := value.NormalizeMap(p.Expected)
	if err != nil {
		return protocol.Errorf(protocol.InvalidOperation, "%v", err)
	}

	if p.ActorNr > 0 {
		return r.setActorPropertiesLocked(sender, p.ActorNr, changes, expected, p.Broadcast)
	}
	return r.setRoomPropertiesLocked(sender, changes, expected, p.Broadcast)
}

func (r *Room) setActorPropertiesLocked(sender *actor, targetNr int, changes, expected map[string]any, broadcast bool) error {
	target, ok := r.actors[targetNr]
	if !ok {
		return protocol.Errorf(protocol.InvalidOperation, "actor %d not found in game %s", targetNr, r.id)
	}
	if err := target.props.Compare(expected, nil); err != nil {
		return err
	}
	st, err := target.props.Stage(changes, r.flags.DeleteNullProperties)
	if err != nil {
		return err
	}
	target.props.Commit(st)

	slog.Debug("actor properties set", "room_id", r.id, "actor_nr", targetNr, "keys", len(st.Changes))

	if !broadcast || r.flags.SuppressPlayerInfo || r.flags.SuppressRoomEvents {
		return nil
	}
	r.notifyPropertiesLocked(sender, targetNr, st.Changes, expected)
	return nil
}

func (r *Room) setRoomPropertiesLocked(sender *actor, changes, expected map[string]any, broadcast bool) error {
	if err := r.props.Compare(expected, r.matchRoomProperty); err != nil {
		return err
	}
	w, st, err := r.prepareRoomWrite(changes, false)
	if err != nil {
		return err
	}
	r.commitRoomWrite(w, st)

	slog.Debug("room properties set", "room_id", r.id, "keys", len(w.broadcast))

	if broadcast {
		r.notifyPropertiesLocked(sender, 0, w.broadcast, expected)
	}
	for k := range w.broadcast {
		if r.listedLocked(k) {
			r.publishLocked()
			break
		}
	}
	return nil
}

// notifyPropertiesLocked emits PropertiesChanged to the other active actors,
// and to the sender when the room broadcasts to all.
func (r *Room) notifyPropertiesLocked(sender *actor, targetNr int, changed, expected map[string]any) {
	ev := protocol.Event{
		Name: protocol.EvPropertiesChanged,
		Data: protocol.PropertiesChangedData{
			TargetActor: targetNr,
			Properties:  value.CloneMap(changed),
			Expected:    value.CloneMap(expected),
		},
	}
	except := 0
	if sender != nil && !r.flags.BroadcastPropsChangeToAll {
		except = sender.nr
	}
	r.broadcastLocked(ev, except)
}

// matchRoomProperty compares ExpectedUsers as sets and MasterClientId
// against the live master.
func (r *Room) matchRoomProperty(key string, want, have any, present bool) bool {
	switch key {
	case props.ExpectedUsers:
		wantUsers, err := value.ToStrings(want)
		if err != nil {
			return false
		}
		return slots.SameSet(wantUsers, r.expected)
	case props.MasterClientID:
		if want == nil {
			return r.masterNr == 0
		}
		n, err := value.ToInt(want)
		return err == nil && int(n) == r.masterNr
	}
	return props.Match(key, want, have, present)
}

// prepareRoomWrite validates changes against the current room state and
// stages them. creating allows LobbyProperties, which is fixed afterwards.
func (r *Room) prepareRoomWrite(changes map[string]any, creating bool) (*roomWrite, *props.Staged, error) {
	w := &roomWrite{
		staged:       make(map[string]any, len(changes)),
		broadcast:    make(map[string]any, len(changes)),
		maxPlayers:   r.maxPlayers,
		isOpen:       r.isOpen,
		isVisible:    r.isVisible,
		playerTTL:    r.playerTTL,
		emptyRoomTTL: r.emptyRoomTTL,
		expected:     r.expected,
		lobbyKeys:    r.lobbyKeys,
		masterNr:     r.masterNr,
	}

	var newExpected []string
	expectedChanged := false
	for _, k := range value.SortedKeys(changes) {
		v := changes[k]
		if !props.IsWellKnown(k) {
			w.staged[k] = v
			w.broadcast[k] = v
			continue
		}
		if k == props.LobbyProperties && !creating {
			return nil, nil, protocol.Errorf(protocol.InvalidOperation, "%s is fixed at creation", k)
		}
		nv, err := props.NormalizeWellKnown(k, v, r.cfg.TTLLimits)
		if err != nil {
			return nil, nil, err
		}
		switch k {
		case props.MaxPlayers:
			w.maxPlayers = int(nv.(int64))
		case props.IsOpen:
			w.isOpen = nv.(bool)
		case props.IsVisible:
			w.isVisible = nv.(bool)
		case props.PlayerTTL:
			w.playerTTL = nv.(int64)
		case props.EmptyRoomTTL:
			w.emptyRoomTTL = nv.(int64)
		case props.LobbyProperties:
			keys, _ := value.ToStrings(nv)
			w.lobbyKeys = keys
		case props.ExpectedUsers:
			users, _ := value.ToStrings(nv)
			newExpected = users
			expectedChanged = true
			continue
		case props.MasterClientID:
			if creating {
				return nil, nil, protocol.Errorf(protocol.InvalidOperation, "%s cannot be set on creation", k)
			}
			nr := int(nv.(int64))
			if a, ok := r.actors[nr]; !ok || !a.active {
				return nil, nil, protocol.Errorf(protocol.InvalidOperation, "master client %d is not an active actor", nr)
			}
			w.masterNr = nr
			w.broadcast[k] = nv
			continue
		}
		w.staged[k] = nv
		w.broadcast[k] = nv
	}

	// Capacity and reservations are validated together against the new
	// capacity.
	occ := r.occupancyLocked(w.maxPlayers)
	if expectedChanged {
		users, err := slots.Replace(newExpected, occ)
		if err != nil {
			return nil, nil, err
		}
		w.expected = users
		var stored any
		if users != nil {
			stored = value.FromStrings(users)
		}
		w.staged[props.ExpectedUsers] = stored
		w.broadcast[props.ExpectedUsers] = stored
	} else if w.maxPlayers != r.maxPlayers && !occ.Fits(w.expected) {
		return nil, nil, protocol.Errorf(protocol.InvalidOperation, "MaxPlayers %d is below the %d places in use", w.maxPlayers, occ.Used(w.expected))
	}

	st, err := r.props.Stage(w.staged, r.flags.DeleteNullProperties)
	if err != nil {
		return nil, nil, err
	}
	return w, st, nil
}

// commitRoomWrite applies a write prepared by prepareRoomWrite.
func (r *Room) commitRoomWrite(w *roomWrite, st *props.Staged) {
	r.props.Commit(st)
	r.maxPlayers = w.maxPlayers
	r.isOpen = w.isOpen
	r.isVisible = w.isVisible
	r.playerTTL = w.playerTTL
	r.emptyRoomTTL = w.emptyRoomTTL
	r.expected = w.expected
	r.lobbyKeys = w.lobbyKeys
	r.masterNr = w.masterNr
}

// setReservationsLocked stores a slot list produced by slots.Merge.
func (r *Room) setReservationsLocked(users []string) error {
	if slots.SameSet(users, r.expected) && len(users) == len(r.expected) {
		return nil
	}
	if err := r.props.Set(map[string]any{props.ExpectedUsers: value.FromStrings(users)}, false); err != nil {
		return err
	}
	r.expected = users
	return nil
}

// GetProperties returns a snapshot of the requested room and actor
// properties. Flags 0 returns both kinds. Nil and non-string keys are
// skipped; unknown or repeated actor numbers yield fewer results.
func (r *Room) GetProperties(p protocol.GetPropertiesParams) (protocol.PropertiesResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return protocol.PropertiesResult{}, protocol.Errorf(protocol.GameDoesNotExist, "game %s does not exist", r.id)
	}
	flags := p.Flags
	if flags == 0 {
		flags = protocol.PropsGame | protocol.PropsActors
	}

	var res protocol.PropertiesResult
	if flags&protocol.PropsGame != 0 {
		keys := stringKeys(p.Keys)
		res.Game = r.props.Snapshot(keys)
		if r.masterNr > 0 && (keys == nil || containsString(keys, props.MasterClientID)) {
			res.Game[props.MasterClientID] = int64(r.masterNr)
		}
	}
	if flags&protocol.PropsActors != 0 && !r.flags.SuppressPlayerInfo {
		keys := stringKeys(p.ActorKeys)
		res.Actors = make(map[int]map[string]any)
		nrs := p.Actors
		if len(nrs) == 0 {
			nrs = r.actorNrsLocked()
		}
		for _, nr := range nrs {
			a, ok := r.actors[nr]
			if !ok {
				continue
			}
			if _, dup := res.Actors[nr]; dup {
				continue
			}
			res.Actors[nr] = a.props.Snapshot(keys)
		}
	}
	return res, nil
}

// stringKeys keeps the string entries of a requested key list. A nil list
// means all keys.
func stringKeys(keys []any) []string {
	if keys == nil {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
