// Package tcp serves the control protocol over raw TCP with null-terminated
// JSON frames.
package tcp

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"crewcontrol.gg/internal/protocol"
	"crewcontrol.gg/internal/session"
)

// Handler receives connection lifecycle and message callbacks.
type Handler interface {
	OnConnect(session.Conn)
	OnDisconnect(session.Conn)
	OnMessage(session.Conn, *protocol.Request)
}

// readTimeout bounds silence on a connection. Clients keep the link warm
// with KeepAlive frames well inside this window.
const readTimeout = 2 * time.Minute

type Server struct {
	handler Handler
	log     *log.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

func NewServer(h Handler, logger *log.Logger) *Server {
	return &Server{
		handler: h,
		log:     logger,
		conns:   make(map[*conn]struct{}),
	}
}

// Listen binds the address and starts accepting in the background.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return errors.New("tcp: server closed")
	}
	s.listener = l
	s.mu.Unlock()

	s.log.Printf("listening on %s", l.Addr())
	s.wg.Add(1)
	go s.acceptLoop(l)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every live connection and waits for the
// per-connection goroutines to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	open := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	for _, c := range open {
		_ = c.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Printf("accept: %v", err)
			}
			return
		}

		c := &conn{nc: nc}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(c)
	}
}

func (s *Server) serveConn(c *conn) {
	defer s.wg.Done()
	defer func() {
		_ = c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.handler.OnDisconnect(c)
	}()

	s.handler.OnConnect(c)

	r := bufio.NewReader(c.nc)
	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(readTimeout))
		frame, err := protocol.ReadFrame(r)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				s.log.Printf("%s: read: %v", c.RemoteAddr(), err)
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			s.log.Printf("%s: %v", c.RemoteAddr(), err)
			continue
		}
		s.handler.OnMessage(c, &req)
	}
}

// conn wraps a net.Conn as a session.Conn. Writes are serialized so
// concurrent sends (dispatch replies vs scheduler callbacks) cannot
// interleave frames.
type conn struct {
	nc net.Conn

	wmu    sync.Mutex
	closed bool
}

func (c *conn) Send(r *protocol.Response) error {
	buf, err := protocol.AppendFrame(nil, r)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	_ = c.nc.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err = c.nc.Write(buf)
	return err
}

func (c *conn) Close() error {
	c.wmu.Lock()
	if c.closed {
		c.wmu.Unlock()
		return nil
	}
	c.closed = true
	c.wmu.Unlock()
	return c.nc.Close()
}

func (c *conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}
