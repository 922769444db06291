package core

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"roomd/internal/protocol"
)

// Dispatch runs one operation message and builds its response. Property
// values in params keep their numeric form as json.Number until the room
// normalizes them.
func (c *Coordinator) Dispatch(s *Session, in protocol.Message) protocol.Message {
	out := protocol.Message{Type: protocol.TypeResponse, Op: in.Op, ID: in.ID}
	data, err := c.dispatch(s, in)
	if err != nil {
		out.Code = protocol.CodeOf(err)
		out.Error = err.Error()
		slog.Debug("operation failed", "peer_id", s.id, "op", in.Op, "code", out.Code.String(), "err", err)
		return out
	}
	out.Data = data
	return out
}

func (c *Coordinator) dispatch(s *Session, in protocol.Message) (any, error) {
	switch in.Op {
	case protocol.OpCreateGame:
		var p protocol.CreateGameParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return c.CreateGame(s, p)

	case protocol.OpJoinGame:
		var p protocol.JoinGameParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return c.JoinGame(s, p)

	case protocol.OpJoinRandomGame:
		var p protocol.JoinRandomGameParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return c.JoinRandomGame(s, p)

	case protocol.OpLeave:
		var p protocol.LeaveParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return nil, c.Leave(s, p)

	case protocol.OpSetProperties:
		var p protocol.SetPropertiesParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return nil, c.SetProperties(s, p)

	case protocol.OpGetProperties:
		var p protocol.GetPropertiesParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return c.GetProperties(s, p)

	case protocol.OpRaiseEvent:
		var p protocol.RaiseEventParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return nil, c.RaiseEvent(s, p)

	case protocol.OpJoinLobby:
		var p protocol.JoinLobbyParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return nil, c.JoinLobby(s, p)

	case protocol.OpLeaveLobby:
		return nil, c.LeaveLobby(s)

	case protocol.OpGetGameList:
		var p protocol.GetGameListParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return c.GetGameList(p)

	case protocol.OpGetLobbyStats:
		var p protocol.GetLobbyStatsParams
		if err := decodeParams(in.Params, &p); err != nil {
			return nil, err
		}
		return c.GetLobbyStats(p)

	default:
		return nil, protocol.Errorf(protocol.InvalidOperation, "unsupported operation %q", in.Op)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return protocol.Errorf(protocol.InvalidRequestParameters, "decode params: %v", err)
	}
	return nil
}
