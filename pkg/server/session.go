package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/fraudengine/pkg/protocol"
)

// Session represents an active terminal or acquirer connection
type Session struct {
	ID          uint64
	Conn        *FramedConn
	RemoteAddr  string
	ConnectedAt time.Time

	diagnostics *Diagnostics // nil when diagnostics are disabled
	frames      atomic.Uint64
}

// Frames returns the number of frames answered on this session
func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

// SessionManager manages all active sessions
type SessionManager struct {
	sessions map[uint64]*Session
	nextID   uint64
	mu       sync.RWMutex
	metrics  *Metrics
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		nextID:   1,
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession registers a new session for conn. diagnostics may be nil.
func (sm *SessionManager) CreateSession(conn net.Conn, diagnostics DiagnosticsFactory) *Session {
	// Allocate session ID atomically (no lock needed)
	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1

	sess := &Session{
		ID:          sessionID,
		Conn:        NewFramedConn(conn),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
	if diagnostics != nil {
		sess.diagnostics = diagnostics(sessionID, sess.RemoteAddr)
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
	}
	return sess
}

// GetAllSessions returns all active sessions
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Count returns the number of active sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// RemoveSession removes a session and closes the connection
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
	}
	sess.Conn.Close()
}

// CloseAll closes every session connection
func (sm *SessionManager) CloseAll() {
	for _, sess := range sm.GetAllSessions() {
		sm.RemoveSession(sess.ID)
	}
}

// serveSession runs the request/response loop of one connection until the
// peer disconnects, a frame fails, or ctx is cancelled. The returned error
// is the reason the session ended.
func (s *Server) serveSession(ctx context.Context, sess *Session) error {
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		if err := sess.Conn.WaitReadable(s.config.ReadTimeout); err != nil {
			switch {
			case errors.Is(err, errInterrupted):
				return context.Cause(ctx)
			case isTimeout(err):
				// Idle timeout: keep the connection open
				debugLog.Printf("Session %d: idle for %v", sess.ID, s.config.ReadTimeout)
				continue
			case errors.Is(err, io.EOF):
				return protocol.ErrEndOfStream
			default:
				return fmt.Errorf("read: %w", err)
			}
		}

		raw, err := sess.Conn.ReadFrame()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		if err := s.handleFrame(ctx, sess, raw); err != nil {
			return err
		}
	}
}

// handleFrame decodes one request, transforms it and writes the response
func (s *Server) handleFrame(ctx context.Context, sess *Session, raw []byte) error {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordFrameIn()
	}
	debugLog.Printf("Session %d ← RECV: len=%d", sess.ID, len(raw))

	req, err := s.decode(sess, raw)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordDecodeError(protocol.ErrorKind(err))
		}
		return fmt.Errorf("decode: %w", err)
	}

	// A message that was read is answered even if shutdown starts meanwhile
	resp, err := s.transformer.Transform(context.WithoutCancel(ctx), req, raw)
	if err != nil {
		return fmt.Errorf("transform mti=%s stan=%s: %w", req.MTI, req.Value(protocol.FieldSTAN), err)
	}

	out, err := s.codec.Pack(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := sess.Conn.WriteFrame(out); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	sess.frames.Add(1)
	debugLog.Printf("Session %d → SEND: mti=%s rc=%s len=%d", sess.ID, resp.MTI, resp.Value(protocol.FieldResponseCode), len(out))
	if s.metrics != nil {
		s.metrics.RecordFrameOut()
		s.metrics.RecordDecision(resp.Value(protocol.FieldResponseCode))
		s.metrics.RecordFrameDuration(time.Since(start))
	}
	return nil
}

// decode unpacks raw. The first successful decode of a session is traced and
// dumped; failures are always reported with their trace.
func (s *Server) decode(sess *Session, raw []byte) (*protocol.Message, error) {
	diag := sess.diagnostics
	if diag == nil {
		return s.codec.Unpack(raw)
	}

	var trace []protocol.FieldTrace
	collect := func(t protocol.FieldTrace) { trace = append(trace, t) }

	if !diag.Pending() {
		m, err := s.codec.Unpack(raw)
		if err == nil {
			return m, nil
		}
		// Re-run with tracing for the failure report
		s.codec.UnpackTrace(raw, collect)
		diag.Failure(raw, trace, err)
		return nil, err
	}

	m, err := s.codec.UnpackTrace(raw, collect)
	if err != nil {
		diag.Failure(raw, trace, err)
		return nil, err
	}
	diag.Emit(raw, trace, m)
	return m, nil
}
