// ABOUTME: Session management for the MCP adapter: identity-keyed stateful sessions and per-request stateless ones
// ABOUTME: Stateful get-or-create is single-construction under concurrent identical-identity requests

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// notifyBufferSize is the channel buffer for each session's outbound
// notification stream.
const notifyBufferSize = 16

// Session binds one authenticated identity to one live server instance.
// Dispatch is serialized so concurrent requests for the same identity
// cannot interleave on shared state.
type Session struct {
	id     string
	server *LocationServer

	mu       sync.Mutex // serializes Dispatch
	notifyCh chan []byte
	done     chan struct{}
	once     sync.Once

	streaming atomic.Bool

	activeMu   sync.Mutex
	lastActive time.Time
}

// newSession creates a session wrapping the given server.
func newSession(server *LocationServer) *Session {
	return &Session{
		id:         uuid.New().String(),
		server:     server,
		notifyCh:   make(chan []byte, notifyBufferSize),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

// ID returns the session identifier advertised in the Mcp-Session-Id header.
func (s *Session) ID() string {
	return s.id
}

// Dispatch handles one JSON-RPC request. At most one dispatch runs at a
// time per session.
func (s *Session) Dispatch(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	return s.server.HandleMessage(ctx, req)
}

// Notify enqueues a server-initiated notification for the standing SSE
// channel. Non-blocking: the frame is dropped if the buffer is full or the
// session is closed.
func (s *Session) Notify(method string, params any) {
	frame, err := json.Marshal(JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return
	}

	select {
	case <-s.done:
	case s.notifyCh <- frame:
	default:
		// Buffer full; a slow or absent consumer loses frames
	}
}

// Events returns the outbound notification stream.
func (s *Session) Events() <-chan []byte {
	return s.notifyCh
}

// Done is closed when the session is terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// BeginStream claims the session's single streaming slot. Returns false if
// a stream is already open.
func (s *Session) BeginStream() bool {
	return s.streaming.CompareAndSwap(false, true)
}

// EndStream releases the streaming slot.
func (s *Session) EndStream() {
	s.streaming.Store(false)
	s.touch()
}

// close terminates the session. Safe to call multiple times.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// touch records activity for idle-timeout purposes.
func (s *Session) touch() {
	s.activeMu.Lock()
	s.lastActive = time.Now()
	s.activeMu.Unlock()
}

// idleFor reports how long the session has been inactive.
func (s *Session) idleFor() time.Duration {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return time.Since(s.lastActive)
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// SessionProvider is the strategy for binding requests to sessions.
// A deployment uses exactly one implementation; the two are never mixed.
type SessionProvider interface {
	// Acquire returns the session for the identity, creating one if needed.
	Acquire(ctx context.Context, userID string) (*Session, error)

	// Release is called when the request that acquired the session completes.
	Release(s *Session)

	// Terminate tears down the identity's session state. Returns true if a
	// session existed.
	Terminate(userID string) bool

	// Notify delivers a server-initiated notification to the identity's
	// live session, if any.
	Notify(userID, method string, params any)

	// Stateful reports whether sessions outlive a single HTTP exchange.
	Stateful() bool

	// Close tears down all sessions and background work.
	Close()
}

// StatefulSessions keeps one live session per identity in process memory.
// Idle sessions are swept after idleTimeout; an idleTimeout of zero keeps
// every session for the process lifetime (NoEviction).
type StatefulSessions struct {
	newServer func(userID string) *LocationServer
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // userID -> session
	group    singleflight.Group

	idleTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

// NewStatefulSessions creates a stateful session provider.
func NewStatefulSessions(newServer func(userID string) *LocationServer, idleTimeout time.Duration, logger *slog.Logger) *StatefulSessions {
	if logger == nil {
		logger = slog.Default()
	}

	p := &StatefulSessions{
		newServer:   newServer,
		logger:      logger.With("component", "sessions"),
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}

	if idleTimeout > 0 {
		go p.sweep()
	}

	return p
}

// Acquire returns the identity's session, constructing it exactly once even
// under concurrent first requests for the same identity.
func (p *StatefulSessions) Acquire(_ context.Context, userID string) (*Session, error) {
	p.mu.RLock()
	sess, ok := p.sessions[userID]
	p.mu.RUnlock()
	if ok && !sess.isClosed() {
		sess.touch()
		return sess, nil
	}

	v, err, _ := p.group.Do(userID, func() (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if sess, ok := p.sessions[userID]; ok && !sess.isClosed() {
			return sess, nil
		}

		sess := newSession(p.newServer(userID))
		p.sessions[userID] = sess
		p.logger.Info("MCP session created", "user_id", userID, "session_id", sess.ID())
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Release records activity; stateful sessions survive the request.
func (p *StatefulSessions) Release(s *Session) {
	s.touch()
}

// Terminate removes and closes the identity's session.
func (p *StatefulSessions) Terminate(userID string) bool {
	p.mu.Lock()
	sess, ok := p.sessions[userID]
	delete(p.sessions, userID)
	p.mu.Unlock()

	if !ok {
		return false
	}

	sess.close()
	p.logger.Info("MCP session terminated", "user_id", userID, "session_id", sess.ID())
	return true
}

// Notify delivers a notification to the identity's session, if live.
func (p *StatefulSessions) Notify(userID, method string, params any) {
	p.mu.RLock()
	sess, ok := p.sessions[userID]
	p.mu.RUnlock()

	if ok {
		sess.Notify(method, params)
	}
}

// Stateful reports session continuity across requests.
func (p *StatefulSessions) Stateful() bool {
	return true
}

// SessionCount returns the number of live sessions (for monitoring).
func (p *StatefulSessions) SessionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// sweep runs in a background goroutine, closing sessions idle past the
// timeout. Sessions with an open streaming channel are never swept.
func (p *StatefulSessions) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runSweep()
		case <-p.done:
			return
		}
	}
}

// runSweep removes all idle sessions.
func (p *StatefulSessions) runSweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for userID, sess := range p.sessions {
		if sess.streaming.Load() {
			continue
		}
		if sess.idleFor() > p.idleTimeout {
			delete(p.sessions, userID)
			sess.close()
			p.logger.Info("MCP session swept",
				"user_id", userID,
				"session_id", sess.ID(),
				"idle", sess.idleFor().Round(time.Second),
			)
		}
	}
}

// Close terminates every session and stops the sweeper.
func (p *StatefulSessions) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, sess := range p.sessions {
		sess.close()
		delete(p.sessions, userID)
	}
}

// StatelessSessions constructs a fresh server per exchange and discards it
// at response completion. Preferred when requests may land on any process.
type StatelessSessions struct {
	newServer func(userID string) *LocationServer
}

// NewStatelessSessions creates a stateless session provider.
func NewStatelessSessions(newServer func(userID string) *LocationServer) *StatelessSessions {
	return &StatelessSessions{newServer: newServer}
}

// Acquire builds a fresh session for exactly one exchange.
func (p *StatelessSessions) Acquire(_ context.Context, userID string) (*Session, error) {
	return newSession(p.newServer(userID)), nil
}

// Release discards the per-exchange session.
func (p *StatelessSessions) Release(s *Session) {
	s.close()
}

// Terminate has no server-side state to tear down.
func (p *StatelessSessions) Terminate(string) bool {
	return false
}

// Notify has no standing channel to deliver on.
func (p *StatelessSessions) Notify(string, string, any) {}

// Stateful reports no session continuity.
func (p *StatelessSessions) Stateful() bool {
	return false
}

// Close has nothing to tear down.
func (p *StatelessSessions) Close() {}
