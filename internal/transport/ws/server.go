// Package ws exposes the control protocol over websockets for browser-based
// clients. Each websocket message carries one JSON document; the NUL
// terminator of the TCP framing is unnecessary here.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crewcontrol.gg/internal/protocol"
	"crewcontrol.gg/internal/session"
)

// Handler receives connection lifecycle and message callbacks.
type Handler interface {
	OnConnect(session.Conn)
	OnDisconnect(session.Conn)
	OnMessage(session.Conn, *protocol.Request)
}

const (
	readTimeout  = 2 * time.Minute
	writeTimeout = 10 * time.Second
)

type Server struct {
	handler Handler
	log     *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(h Handler, logger *log.Logger) *Server {
	return &Server{
		handler: h,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wc, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}

		c := &conn{wc: wc}
		defer func() {
			_ = c.Close()
			s.handler.OnDisconnect(c)
		}()

		s.handler.OnConnect(c)

		for {
			_ = wc.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := wc.ReadMessage()
			if err != nil {
				return
			}

			req, err := protocol.DecodeRequest(msg)
			if err != nil {
				s.log.Printf("%s: %v", c.RemoteAddr(), err)
				continue
			}
			s.handler.OnMessage(c, &req)
		}
	}
}

// conn adapts a websocket connection to session.Conn. Gorilla allows only
// one concurrent writer, so sends are serialized here.
type conn struct {
	wc *websocket.Conn

	wmu    sync.Mutex
	closed bool
}

func (c *conn) Send(r *protocol.Response) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.wc.WriteMessage(websocket.TextMessage, b)
}

func (c *conn) Close() error {
	c.wmu.Lock()
	if c.closed {
		c.wmu.Unlock()
		return nil
	}
	c.closed = true
	c.wmu.Unlock()

	_ = c.wc.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.wc.Close()
}

func (c *conn) RemoteAddr() string {
	return c.wc.RemoteAddr().String()
}
