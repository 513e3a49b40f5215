// ABOUTME: Main server implementation for the spatial audio mixer
// ABOUTME: Owns the HTTP listener, the mixing scheduler, mDNS and the status TUI
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-mixer/internal/discovery"
	"github.com/Resonate-Protocol/resonate-mixer/internal/mixer"
	"github.com/Resonate-Protocol/resonate-mixer/pkg/protocol"
)

const (
	// ProtocolVersion is announced in server/hello
	ProtocolVersion = 1

	// sendQueueSize bounds the outbound packets buffered per client
	sendQueueSize = 100

	statusInterval = 500 * time.Millisecond
)

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool
	UseTUI     bool
	Settings   mixer.Settings
}

// Server accepts mixer sessions and runs the scheduler
type Server struct {
	config   Config
	serverID string

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux
	listener   net.Listener
	ready      chan struct{}

	clients   map[uuid.UUID]*Client
	clientsMu sync.RWMutex

	scheduler *mixer.Scheduler

	mdnsManager *discovery.Manager

	tui       *ServerTUI
	startTime time.Time

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a server and its scheduler
func New(config Config) (*Server, error) {
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Mixer clients are native agents on a trusted network
				if origin := r.Header.Get("Origin"); origin != "" {
					logrus.WithField("origin", origin).Warn("Accepting WebSocket from browser origin")
				}
				return true
			},
		},
		clients:   make(map[uuid.UUID]*Client),
		ready:     make(chan struct{}),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}

	scheduler, err := mixer.NewScheduler(mixer.Config{
		Settings:  config.Settings,
		Directory: s,
		Sender:    s,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = scheduler

	s.mux.HandleFunc(protocol.Endpoint, s.handleWebSocket)
	return s, nil
}

// Start serves until Stop is called, the TUI quits or a component fails
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(s.config.Name, s.config.Port); err != nil {
				logrus.WithError(err).Error("TUI failed")
			}
		}()

		// Give TUI time to initialize
		time.Sleep(100 * time.Millisecond)
	}

	logrus.WithFields(logrus.Fields{
		"name":    s.config.Name,
		"id":      s.serverID,
		"workers": s.config.Settings.PoolSize,
	}).Info("Mixer server starting")

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.mux}
	logrus.WithField("addr", listener.Addr().String()).Info("WebSocket server listening")

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        listener.Addr().(*net.TCPAddr).Port,
			Path:        protocol.Endpoint,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			logrus.WithError(err).Warn("Failed to start mDNS advertisement")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	g.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	if s.tui != nil {
		g.Go(func() error {
			s.statusLoop(gctx)
			return nil
		})
	}
	close(s.ready)

	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		logrus.Info("Server shutting down...")
	case <-tuiQuitChan:
		logrus.Info("TUI quit requested, shutting down...")
	case <-gctx.Done():
		logrus.Info("Server component stopped, shutting down...")
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}
	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown error")
	}
	s.closeClients()

	cancel()
	err = g.Wait()
	s.wg.Wait()
	s.scheduler.Close()

	logrus.Info("Server stopped cleanly")
	return err
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Ready is closed once the listener accepts connections
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address; valid after Ready
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Scheduler exposes the mixing scheduler
func (s *Server) Scheduler() *mixer.Scheduler {
	return s.scheduler
}

// closeClients hijacked connections are not closed by http.Server.Shutdown
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.tui.ResizeChan():
			s.scheduler.SetPoolSize(n)
		case <-ticker.C:
			s.updateTUI()
		}
	}
}
