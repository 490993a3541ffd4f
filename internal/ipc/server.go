package ipc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alexlim7/Custom-Background-Sounds/internal/config"
	"github.com/alexlim7/Custom-Background-Sounds/internal/playback"
)

const (
	defaultCommandTimeout = 2 * time.Minute
	writeTimeout          = 2 * time.Second
)

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	configMgr  *config.Manager
	engine     Engine
	resolver   SourceResolver
	lifecycle  LifecycleSink
	validate   *validator.Validate
	verbose    bool

	commandTimeout time.Duration

	listener net.Listener
	mu       sync.Mutex
	clients  map[net.Conn]*client

	// Latest status from the engine, handed to the push loop
	pushMu  sync.Mutex
	latest  *playback.Status
	pending chan struct{}
}

// client is one connection. Responses and pushes share the connection,
// so writes are serialised.
type client struct {
	conn       net.Conn
	writeMu    sync.Mutex
	subscribed bool // guarded by Server.mu
}

// Options configures a Server
type Options struct {
	SocketPath string
	Config     *config.Manager
	Engine     Engine
	Resolver   SourceResolver
	Lifecycle  LifecycleSink
	Verbose    bool
}

// NewServer creates a new IPC server
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("ipc server needs an engine")
	}
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("ipc server needs a socket path")
	}

	return &Server{
		socketPath:     opts.SocketPath,
		configMgr:      opts.Config,
		engine:         opts.Engine,
		resolver:       opts.Resolver,
		lifecycle:      opts.Lifecycle,
		validate:       validator.New(),
		verbose:        opts.Verbose,
		commandTimeout: defaultCommandTimeout,
		clients:        make(map[net.Conn]*client),
		pending:        make(chan struct{}, 1),
	}, nil
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	log.Printf("[IPC] Creating socket at %s", s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// Set socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	unsubscribe, err := s.engine.Subscribe(ctx, s.enqueue)
	if err != nil {
		listener.Close()
		os.RemoveAll(s.socketPath)
		return fmt.Errorf("failed to subscribe to engine: %w", err)
	}
	defer unsubscribe()

	log.Printf("[IPC] Server listening, waiting for connections...")

	go s.pushLoop(ctx)
	go s.acceptLoop(ctx)

	<-ctx.Done()

	log.Printf("[IPC] Shutting down server...")

	listener.Close()

	s.mu.Lock()
	clientCount := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	log.Printf("[IPC] Closed %d client connections", clientCount)

	os.RemoveAll(s.socketPath)

	log.Printf("[IPC] Server stopped")

	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("[IPC] Accept error: %v", err)
				continue
			}
		}

		s.mu.Lock()
		s.clients[conn] = &client{conn: conn}
		clientCount := len(s.clients)
		s.mu.Unlock()

		log.Printf("[IPC] New client connection (active clients: %d)", clientCount)

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	c := s.clients[conn]
	s.mu.Unlock()
	if c == nil {
		conn.Close()
		return
	}

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.mu.Unlock()
		log.Printf("[IPC] Client disconnected (active clients: %d)", clientCount)
	}()

	reader := bufio.NewReader(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read line (newline-delimited JSON)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("[IPC] Read error: %v", err)
			}
			return
		}

		req, err := DecodeRequest(line)
		if err != nil {
			log.Printf("[IPC] Invalid request format: %v", err)
			if err := s.send(c, NewErrorResponse("invalid request format")); err != nil {
				return
			}
			continue
		}

		// Status polling would drown everything else
		quiet := !s.verbose || req.Cmd == CmdStatus
		if !quiet {
			RequestLogger(req)
		}

		start := time.Now()
		resp := s.handleRequest(ctx, c, req)

		if !quiet {
			ResponseLogger(resp, time.Since(start))
		}

		if err := s.send(c, resp); err != nil {
			log.Printf("[IPC] Send error: %v", err)
			return
		}
	}
}

func (s *Server) send(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.write(append(data, '\n'))
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// A client that stops reading must not stall the daemon
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(data)
	return err
}

// enqueue is the engine subscriber. It runs on the engine goroutine, so it
// only records the snapshot and wakes the push loop.
func (s *Server) enqueue(st playback.Status) {
	s.pushMu.Lock()
	s.latest = &st
	s.pushMu.Unlock()
	s.wake()
}

func (s *Server) wake() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *Server) pushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pending:
		}

		s.pushMu.Lock()
		st := s.latest
		s.pushMu.Unlock()
		if st == nil {
			continue
		}
		s.pushStatus(*st)
	}
}

func (s *Server) pushStatus(st playback.Status) {
	s.mu.Lock()
	subs := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.subscribed {
			subs = append(subs, c)
		}
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	msg, err := NewPushMessage(PushStatus, st)
	if err != nil {
		log.Printf("[IPC] Failed to encode status push: %v", err)
		return
	}
	msg = append(msg, '\n')

	for _, c := range subs {
		if err := c.write(msg); err != nil {
			// Closing makes the connection's reader exit and clean up
			log.Printf("[IPC] Dropping subscriber: %v", err)
			c.conn.Close()
		}
	}
}
