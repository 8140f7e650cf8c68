package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	readLimit  = 4096
	writeWait  = 5 * time.Second
	pongFactor = 2
)

// command is an inbound websocket message.
type command struct {
	Action   string `json:"action"`
	LinkCode string `json:"linkCode,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("ws upgrade")
		return
	}

	cl := newClient(uuid.NewString(), ws)
	s.hub.add(cl)

	ctx, cancel := context.WithCancel(ctx)
	go s.writePump(ctx, cl)
	go func() {
		defer cancel()
		s.readPump(cl)
	}()

	st := s.status()
	s.hub.send(cl, Notice{Event: "status", Status: &st})
}

func (s *Server) writePump(ctx context.Context, cl *client) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()
	defer s.hub.remove(cl)

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-cl.send:
			if !ok {
				return
			}
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Warn().Err(err).Str("client", cl.id).Msg("write error")
				return
			}
		case <-ticker.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Warn().Err(err).Str("client", cl.id).Msg("ping error")
				return
			}
		}
	}
}

func (s *Server) readPump(cl *client) {
	defer func() {
		s.log.Info().Str("client", cl.id).Msg("client disconnected")
		s.hub.remove(cl)
	}()

	pongWait := pongFactor * s.pingPeriod
	cl.conn.SetReadLimit(readLimit)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Str("client", cl.id).Msg("read error")
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.hub.send(cl, Notice{Event: "error", Error: "bad json"})
			continue
		}
		s.dispatch(cl, cmd)
	}
}

func (s *Server) dispatch(cl *client, cmd command) {
	s.log.Debug().Str("client", cl.id).Str("action", cmd.Action).Msg("command")

	switch cmd.Action {
	case "start":
		if cmd.LinkCode == "" {
			s.hub.send(cl, Notice{Event: "error", Action: cmd.Action, Error: "linkCode required"})
			return
		}
		accepted := s.ctrl.Start(cmd.LinkCode)
		st := s.status()
		s.hub.send(cl, Notice{Event: "ack", Action: cmd.Action, Accepted: &accepted, Status: &st})

	case "stop":
		s.ctrl.Stop()
		s.hub.send(cl, Notice{Event: "ack", Action: cmd.Action})

	case "camera", "microphone":
		if cmd.Enabled == nil {
			s.hub.send(cl, Notice{Event: "error", Action: cmd.Action, Error: "enabled required"})
			return
		}
		if cmd.Action == "camera" {
			s.ctrl.EnableCamera(*cmd.Enabled)
		} else {
			s.ctrl.EnableMicrophone(*cmd.Enabled)
		}
		s.hub.send(cl, Notice{Event: "ack", Action: cmd.Action})

	case "status":
		st := s.status()
		s.hub.send(cl, Notice{Event: "status", Status: &st})

	default:
		s.hub.send(cl, Notice{Event: "error", Action: cmd.Action, Error: "unknown action"})
	}
}
