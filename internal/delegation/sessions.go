package delegation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nuvin-ai/nuvin/internal/observability"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// SessionState is the lifecycle state of a background sub-agent run.
type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// Session tracks one background sub-agent run. State transitions are
// performed only by the run that owns the session; readers poll via the
// registry or wait on Done.
type Session struct {
	ID        string
	AgentID   string
	CreatedAt time.Time

	mu          sync.Mutex
	state       SessionState
	result      *models.DelegationResult
	messages    []*models.Message
	completedAt time.Time
	done        chan struct{}
}

// Done returns a channel closed when the session reaches a terminal state.
// Reopen replaces the channel, so blocking waiters must re-fetch it and
// re-check State after waking.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the terminal result, or nil while running.
func (s *Session) Result() *models.DelegationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Messages returns the stored transcript for resumption.
func (s *Session) Messages() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages
}

func (s *Session) finish(state SessionState, result *models.DelegationResult, messages []*models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionRunning {
		return false
	}
	s.state = state
	s.result = result
	if messages != nil {
		s.messages = messages
	}
	s.completedAt = time.Now()
	close(s.done)
	return true
}

// SessionInfo is a point-in-time snapshot for listings.
type SessionInfo struct {
	ID          string
	AgentID     string
	State       SessionState
	CreatedAt   time.Time
	CompletedAt time.Time
}

// RegistryConfig bounds session retention.
type RegistryConfig struct {
	// TTL is how long completed sessions are kept for polling before the
	// janitor evicts them. Default: 30 minutes.
	TTL time.Duration

	// Capacity bounds the number of tracked sessions; when full, the
	// oldest completed sessions are evicted first. Default: 256.
	Capacity int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// SessionRegistry tracks background sub-agent runs by session id. It is an
// explicit service injected into both the delegation service and the
// polling tool; there is no package-level state.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	capacity int
	logger   *observability.Logger
	metrics  *observability.Metrics
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionRegistry creates a registry and starts its janitor.
func NewSessionRegistry(config RegistryConfig) *SessionRegistry {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.Capacity <= 0 {
		config.Capacity = 256
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	r := &SessionRegistry{
		sessions: make(map[string]*Session),
		ttl:      config.TTL,
		capacity: config.Capacity,
		logger:   config.Logger,
		metrics:  config.Metrics,
		stop:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Create registers a new running session with a fresh unique id.
func (r *SessionRegistry) Create(agentID string) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: time.Now(),
		state:     SessionRunning,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.evictLocked(len(r.sessions) + 1 - r.capacity)
	r.sessions[session.ID] = session
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveBackgroundSessions.Inc()
	}
	return session
}

// Reopen transitions a completed session back to running for resumption,
// keeping its id stable. Returns false if the session is unknown or still
// running.
func (r *SessionRegistry) Reopen(sessionID string) (*Session, bool) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.state == SessionRunning {
		return nil, false
	}
	session.state = SessionRunning
	session.result = nil
	session.completedAt = time.Time{}
	session.done = make(chan struct{})

	if r.metrics != nil {
		r.metrics.ActiveBackgroundSessions.Inc()
	}
	return session, true
}

// Get returns a session by id.
func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

// Complete marks a session successful with its result and transcript.
func (r *SessionRegistry) Complete(sessionID string, result *models.DelegationResult, messages []*models.Message) {
	r.finish(sessionID, SessionCompleted, result, messages)
}

// Fail marks a session failed.
func (r *SessionRegistry) Fail(sessionID string, result *models.DelegationResult, messages []*models.Message) {
	r.finish(sessionID, SessionFailed, result, messages)
}

func (r *SessionRegistry) finish(sessionID string, state SessionState, result *models.DelegationResult, messages []*models.Message) {
	session, ok := r.Get(sessionID)
	if !ok {
		return
	}
	if session.finish(state, result, messages) && r.metrics != nil {
		r.metrics.ActiveBackgroundSessions.Dec()
	}
}

// List returns snapshots of all tracked sessions, newest first.
func (r *SessionRegistry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:          s.ID,
			AgentID:     s.AgentID,
			State:       s.state,
			CreatedAt:   s.CreatedAt,
			CompletedAt: s.completedAt,
		})
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos
}

// Close stops the janitor.
func (r *SessionRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// janitor evicts completed sessions past the TTL once a minute.
func (r *SessionRegistry) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *SessionRegistry) evictExpired() {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		session.mu.Lock()
		expired := session.state != SessionRunning && !session.completedAt.IsZero() && session.completedAt.Before(cutoff)
		session.mu.Unlock()
		if expired {
			delete(r.sessions, id)
			r.logger.Debug(context.Background(), "evicted expired session", "session_id", id)
		}
	}
}

// evictLocked removes up to n of the oldest completed sessions to respect
// the capacity bound. Running sessions are never evicted.
func (r *SessionRegistry) evictLocked(n int) {
	if n <= 0 {
		return
	}
	type candidate struct {
		id          string
		completedAt time.Time
	}
	var candidates []candidate
	for id, session := range r.sessions {
		session.mu.Lock()
		if session.state != SessionRunning {
			candidates = append(candidates, candidate{id: id, completedAt: session.completedAt})
		}
		session.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].completedAt.Before(candidates[j].completedAt) })
	for i := 0; i < len(candidates) && i < n; i++ {
		delete(r.sessions, candidates[i].id)
	}
}
