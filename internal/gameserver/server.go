package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/jeuxgo/internal/config"
	"github.com/udisondev/jeuxgo/internal/model"
	"github.com/udisondev/jeuxgo/internal/protocol"
)

// Server is the game server: it accepts client connections and drives one
// handler goroutine per connection until the context is cancelled.
type Server struct {
	cfg     config.Server
	clients *ClientRegistry
	players *model.PlayerRegistry
	handler *Handler

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a game server from cfg.
func NewServer(cfg config.Server) *Server {
	clients := NewClientRegistry(cfg.MaxClients)
	players := model.NewPlayerRegistry()
	return &Server{
		cfg:     cfg,
		clients: clients,
		players: players,
		handler: NewHandler(clients, players),
	}
}

// Clients returns the client registry.
func (s *Server) Clients() *ClientRegistry { return s.clients }

// Players returns the player registry.
func (s *Server) Players() *model.PlayerRegistry { return s.players }

// Addr returns the address the server listens on, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run begins listening on cfg.BindAddress:cfg.Port and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from a ready listener until ctx is cancelled.
// Shutdown then proceeds in order: stop accepting, close the read side of
// every session so its handler runs down, and wait for the registry to
// drain before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.clients.ShutdownAll()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("game server started", "address", ln.Addr())
		acceptLoop(ctx, &wg, s, ln)
	})

	wg.Wait()
	s.clients.WaitForEmpty()
	slog.Info("game server stopped")

	return nil
}

func acceptLoop(
	ctx context.Context,
	wg *sync.WaitGroup,
	srv *Server,
	ln net.Listener,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("Failed to accept new connection", "error", err)
				continue
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetKeepAlive(true)
			}
			wg.Go(func() {
				handleConnection(ctx, srv, conn)
			})
		}
	}
}

func handleConnection(ctx context.Context, srv *Server, conn net.Conn) {
	defer conn.Close()

	slog.Info("new connection", "remote", conn.RemoteAddr())

	client, err := srv.clients.Register(ctx, conn)
	if err != nil {
		slog.Warn("registration refused", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	defer srv.clients.Unregister(client)

	for {
		hdr, payload, err := protocol.ReadPacket(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("connection closed by client", "remote", conn.RemoteAddr())
			} else {
				slog.Warn("reading request", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		slog.Debug("request", "remote", conn.RemoteAddr(), "type", hdr.Type.String(), "id", hdr.ID)
		if err := srv.handler.Handle(client, hdr, payload); err != nil {
			slog.Warn("writing response", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}
