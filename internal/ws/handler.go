package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"roomd/internal/core"
	"roomd/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 5 * time.Second

// Handler owns websocket transport for the backend.
type Handler struct {
	coord    *core.Coordinator
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to coord.
func NewHandler(coord *core.Coordinator) *Handler {
	return &Handler{
		coord: coord,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	var hello protocol.Message
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}
	if hello.Type != protocol.TypeHello {
		h.writeDirectError(conn, "first message must be hello")
		return
	}

	session, err := h.coord.Connect(hello.UserID)
	if err != nil {
		h.writeDirectError(conn, err.Error())
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for out := range session.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(out); err != nil {
				slog.Debug("websocket write", "peer_id", session.ID(), "err", err)
				return
			}
		}
	}()
	defer func() {
		// Disconnect closes the mailbox; the writer drains it and exits.
		h.coord.Disconnect(session.ID())
		select {
		case <-writerDone:
		case <-time.After(writeTimeout):
		}
	}()

	session.Reply(protocol.Message{Type: protocol.TypeWelcome, PeerID: session.ID(), UserID: session.UserID()})

	for {
		var in protocol.Message
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		h.handleInbound(session, in)
	}
}

func (h *Handler) handleInbound(s *core.Session, in protocol.Message) {
	switch in.Type {
	case protocol.TypePing:
		s.Reply(protocol.Message{Type: protocol.TypePong, TS: in.TS})

	case protocol.TypeOp:
		s.Reply(h.coord.Dispatch(s, in))

	default:
		s.Reply(protocol.Message{Type: protocol.TypeError, Error: "unsupported message type"})
	}
}

func (h *Handler) writeDirectError(conn *websocket.Conn, errMsg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeError, Error: errMsg})
}
