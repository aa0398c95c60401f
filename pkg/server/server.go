package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/fraudengine/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// errServerStopped is the cancellation cause seen by sessions during Stop
var errServerStopped = errors.New("server stopped")

const metricsReportInterval = 30 * time.Second

// Server accepts ISO 8583 connections and answers authorization requests
type Server struct {
	config      ServerConfig
	codec       *protocol.Codec
	transformer *Transformer
	sessions    *SessionManager
	metrics     *Metrics
	diagnostics DiagnosticsFactory

	listener      net.Listener
	metricsServer *http.Server
	startTime     time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	acceptDone chan struct{}
	sessionWG  sync.WaitGroup
	wg         sync.WaitGroup
	stopOnce   sync.Once

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port          int           // 0 = pick a free port (see Addr)
	MetricsPort   int           // 0 = no metrics endpoint
	ReadTimeout   time.Duration // idle wake-up interval, 0 = none
	ShutdownGrace time.Duration // how long Stop waits for sessions
	Diagnostics   bool          // dump the first message of each connection
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Port:          8037,
		MetricsPort:   9090,
		ShutdownGrace: 5 * time.Second,
		Diagnostics:   true,
	}
}

// NewServer creates a new server instance
func NewServer(config ServerConfig, codec *protocol.Codec, transformer *Transformer) *Server {
	metrics := NewMetrics()
	sessions := NewSessionManager()
	sessions.SetMetrics(metrics)

	s := &Server{
		config:      config,
		codec:       codec,
		transformer: transformer,
		sessions:    sessions,
		metrics:     metrics,
		startTime:   time.Now(),
		acceptDone:  make(chan struct{}),
	}
	if config.Diagnostics {
		s.diagnostics = LogDiagnostics
	}
	s.ctx, s.cancel = context.WithCancelCause(context.Background())
	return s
}

// SetDiagnostics replaces the per-session diagnostics factory (nil disables)
func (s *Server) SetDiagnostics(factory DiagnosticsFactory) {
	s.diagnostics = factory
}

// Metrics returns the server's metrics, e.g. to observe rule outcomes
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Sessions returns the session manager
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// getServerDataDir returns the server data directory, creating it if needed
func getServerDataDir() (string, error) {
	var dataDir string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		dataDir = filepath.Join(xdg, "fraudengine")
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share", "fraudengine")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}

// InitLogging sets up errors.log and server.log in the data directory and
// redirects the standard logger (used by the rule engine and diagnostics)
func InitLogging() error {
	dataDir, err := getServerDataDir()
	if err != nil {
		return err
	}

	// Error log goes to stderr and errors.log
	errorFile, err := os.OpenFile(filepath.Join(dataDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	// Startup marker distinguishes runs
	if _, err := fmt.Fprintf(errorFile, "=== Server started at %s ===\n", time.Now().Format(time.RFC3339)); err != nil {
		return err
	}
	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)

	// server.log is truncated on startup
	serverLogFile, err := os.OpenFile(filepath.Join(dataDir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, serverLogFile))
	return nil
}

// EnableDebugLogging enables debug logging to debug.log
func EnableDebugLogging() {
	dataDir, err := getServerDataDir()
	if err != nil {
		log.Printf("Failed to get data directory: %v", err)
		return
	}

	debugLogFile, err := os.OpenFile(filepath.Join(dataDir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		log.Printf("Failed to open debug.log: %v", err)
		return
	}

	debugLog = log.New(debugLogFile, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Start binds the listener and starts serving. Bind failures are returned.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	var lc net.ListenConfig
	listener, err := lc.Listen(s.ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("ISO 8583 listener on %s", listener.Addr())

	// Internal only - never expose publicly
	if s.config.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		mux.HandleFunc("/health", s.HealthHandler)
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("Metrics server listening on :%d (/metrics, /health) - INTERNAL ONLY", s.config.MetricsPort)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address (nil before Start)
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops accepting, lets sessions finish the message in flight for up to
// ShutdownGrace and then closes what is left
func (s *Server) Stop() error {
	s.stopOnce.Do(s.stop)
	return nil
}

func (s *Server) stop() {
	log.Println("Graceful shutdown initiated...")

	// Cancels sessions; idle reads are interrupted
	s.cancel(errServerStopped)

	if s.listener != nil {
		s.listener.Close()
		<-s.acceptDone
		log.Println("Listener closed")
	}

	done := make(chan struct{})
	go func() {
		s.sessionWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownGrace):
		log.Printf("Closing %d sessions still busy after %v", s.sessions.Count(), s.config.ShutdownGrace)
		s.sessions.CloseAll()
		<-done
	}

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.metricsServer.Shutdown(ctx)
		cancel()
	}

	s.wg.Wait()
	log.Println("Graceful shutdown complete")
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("Accept error: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.sessionWG.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection owns conn for its whole lifetime
func (s *Server) handleConnection(conn net.Conn) {
	defer s.sessionWG.Done()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := s.sessions.CreateSession(conn, s.diagnostics)
	defer s.sessions.RemoveSession(sess.ID)

	stop := context.AfterFunc(s.ctx, sess.Conn.Interrupt)
	defer stop()

	s.connectionsSinceReport.Add(1)
	if s.metrics != nil {
		s.metrics.RecordConnection()
	}
	debugLog.Printf("New connection from %s (session %d)", sess.RemoteAddr, sess.ID)

	err := s.serveSession(s.ctx, sess)
	s.disconnectionsSinceReport.Add(1)

	switch {
	case errors.Is(err, protocol.ErrEndOfStream):
		debugLog.Printf("Session %d: client disconnected after %d messages", sess.ID, sess.Frames())
	case errors.Is(err, errServerStopped):
		debugLog.Printf("Session %d: closed for shutdown", sess.ID)
	default:
		errorLog.Printf("Session %d (%s): closing: %v", sess.ID, sess.RemoteAddr, err)
	}
}

// HealthHandler reports liveness with a few counters
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"sessions":       s.sessions.Count(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// metricsLoggingLoop periodically logs key metrics
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			log.Printf("[METRICS] Active sessions: %d, connected since last: %d, disconnected since last: %d, goroutines: %d",
				s.sessions.Count(), connected, disconnected, runtime.NumGoroutine())
		}
	}
}
