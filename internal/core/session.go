package core

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"roomd/internal/protocol"
	"roomd/internal/room"
)

// SendTimeout bounds how long a response write to one session may block.
// Events never wait: they are dropped when the mailbox is full.
const SendTimeout = 50 * time.Millisecond

// DefaultSendBuffer is the mailbox size when none is configured.
const DefaultSendBuffer = 64

// Session is one connected peer. Send is its outbound mailbox; the
// transport drains it until the coordinator closes it.
type Session struct {
	id     string
	userID string
	Send   chan protocol.Message

	seq atomic.Uint64

	sendMu sync.Mutex
	closed bool

	// op serializes the operations of one session.
	op sync.Mutex

	mu        sync.Mutex
	room      *room.Room
	actorNr   int
	lobby     *protocol.Lobby
	wantStats bool
}

func newSession(id, userID string, sendBuf int) *Session {
	if sendBuf <= 0 {
		sendBuf = DefaultSendBuffer
	}
	return &Session{id: id, userID: userID, Send: make(chan protocol.Message, sendBuf)}
}

// ID identifies the session.
func (s *Session) ID() string { return s.id }

// UserID is the authenticated user behind the session.
func (s *Session) UserID() string { return s.userID }

// Deliver enqueues an event without blocking. It runs under room and lobby
// locks.
func (s *Session) Deliver(ev protocol.Event) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	e := ev
	msg := protocol.Message{Type: protocol.TypeEvent, Event: &e, Sequence: s.seq.Add(1)}
	select {
	case s.Send <- msg:
		return true
	default:
		slog.Debug("session mailbox full", "peer_id", s.id, "event", ev.Name)
		return false
	}
}

// Reply sends a response, waiting at most SendTimeout for mailbox space.
func (s *Session) Reply(msg protocol.Message) bool {
	s.sendMu.Lock()
	closed := s.closed
	s.sendMu.Unlock()
	if closed {
		return false
	}
	msg.Sequence = s.seq.Add(1)
	return trySend(s.Send, msg)
}

func (s *Session) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Send)
}

// current returns the room the session is active in, if any. A room that
// was destroyed meanwhile no longer counts.
func (s *Session) current() (*room.Room, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != nil && s.room.IsDestroyed() {
		s.room, s.actorNr = nil, 0
	}
	return s.room, s.actorNr
}

func (s *Session) enter(r *room.Room, actorNr int) {
	s.mu.Lock()
	s.room, s.actorNr = r, actorNr
	s.mu.Unlock()
}

func (s *Session) exit() {
	s.mu.Lock()
	s.room, s.actorNr = nil, 0
	s.mu.Unlock()
}

func (s *Session) subscribed() (*protocol.Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lobby, s.wantStats
}

// trySend tolerates a mailbox closed concurrently by Disconnect.
func trySend(ch chan protocol.Message, msg protocol.Message) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case ch <- msg:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("trySend timeout", "type", msg.Type, "op", msg.Op)
		return false
	}
}
