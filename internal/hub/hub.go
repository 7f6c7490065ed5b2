// Package hub implements the gateway command and telemetry transport: the
// per-facility connection registry, the authentication gate, the frame
// router, the heartbeat monitor, the HTTP proxy bridge, and the outbound
// dispatch API used by business services.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/storfleet/gatelink/internal/domain"
)

// TokenVerifier validates a gateway AUTH token.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// TokenIssuer mints the short-lived passthrough credential for proxied
// internal API calls.
type TokenIssuer interface {
	IssuePassthrough(id domain.Identity, facilityID string, ttl time.Duration) (string, error)
}

// ScopeGuard enforces the facility boundary on proxied requests.
type ScopeGuard interface {
	EnsureWithinScope(role, facilityID, path string, body []byte) error
}

// Journal receives best-effort connection lifecycle records. Failures are
// logged and never affect transport behavior.
type Journal interface {
	RecordEvent(ctx context.Context, facilityID, connID, event, remoteAddr, detail string) error
	TouchLastSeen(ctx context.Context, facilityID, connID string, at time.Time) error
}

// Options configures a transport [Service].
type Options struct {
	Log               *slog.Logger
	Verifier          TokenVerifier
	Issuer            TokenIssuer
	Guard             ScopeGuard
	Journal           Journal
	HTTPClient        *http.Client
	ProxyBaseURL      string
	PingInterval      time.Duration
	InactivityTimeout time.Duration
	PassthroughTTL    time.Duration
	WriteTimeout      time.Duration
}

const (
	defaultPassthroughTTL = 30 * time.Second

	journalWriteTimeout = 2 * time.Second
	journalQueueSize    = 256
)

// Service owns the facility id -> connection registry and every transport
// behavior around it. One Service is constructed at process startup and
// shared by the WebSocket accept layer and any business code that needs
// unicast/broadcast.
type Service struct {
	log      *slog.Logger
	verifier TokenVerifier
	issuer   TokenIssuer
	guard    ScopeGuard
	journal  Journal
	client   *http.Client

	proxyBaseURL      string
	pingInterval      time.Duration
	inactivityTimeout time.Duration
	passthroughTTL    time.Duration
	writeTimeout      time.Duration

	journalCh chan func(context.Context)

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New constructs the transport service.
func New(opts Options) *Service {
	logger := opts.Log
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ttl := opts.PassthroughTTL
	if ttl <= 0 {
		ttl = defaultPassthroughTTL
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	s := &Service{
		log:               logger,
		verifier:          opts.Verifier,
		issuer:            opts.Issuer,
		guard:             opts.Guard,
		journal:           opts.Journal,
		client:            client,
		proxyBaseURL:      opts.ProxyBaseURL,
		pingInterval:      opts.PingInterval,
		inactivityTimeout: opts.InactivityTimeout,
		passthroughTTL:    ttl,
		writeTimeout:      writeTimeout,
		conns:             map[string]*Conn{},
	}
	if s.journal != nil {
		s.journalCh = make(chan func(context.Context), journalQueueSize)
		go s.journalWriter()
	}
	return s
}

// register inserts c for its bound facility id, returning the connection it
// displaced, if any. The swap is atomic: readers never observe a gap
// between removal of the old connection and insertion of the new one.
func (s *Service) register(c *Conn) *Conn {
	s.mu.Lock()
	old := s.conns[c.facilityID]
	s.conns[c.facilityID] = c
	s.mu.Unlock()
	if old == c {
		return nil
	}
	return old
}

// removeIfCurrent removes c from the registry only when it is still the
// registered connection for its facility. A connection that has already
// been replaced must not evict its successor.
func (s *Service) removeIfCurrent(c *Conn) bool {
	if c.facilityID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[c.facilityID] != c {
		return false
	}
	delete(s.conns, c.facilityID)
	return true
}

// lookup returns the registered connection for facilityID.
func (s *Service) lookup(facilityID string) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[facilityID]
	return c, ok
}

// snapshot copies the current connection set so callers can iterate without
// holding the registry lock.
func (s *Service) snapshot() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// ConnectionCount returns the number of registered connections.
func (s *Service) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// GatewayStatus describes one live connection for operational queries.
type GatewayStatus struct {
	FacilityID   string    `json:"facilityId"`
	ConnID       string    `json:"connId"`
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	RemoteAddr   string    `json:"remoteAddr"`
	LastActivity time.Time `json:"lastActivity"`
}

// Gateways returns a point-in-time view of every registered connection.
func (s *Service) Gateways() []GatewayStatus {
	conns := s.snapshot()
	out := make([]GatewayStatus, 0, len(conns))
	for _, c := range conns {
		out = append(out, GatewayStatus{
			FacilityID:   c.facilityID,
			ConnID:       c.id,
			UserID:       c.identity.UserID,
			Role:         c.identity.Role,
			RemoteAddr:   c.remoteAddr,
			LastActivity: c.lastActivity(),
		})
	}
	return out
}

// journalWriter drains queued journal writes one at a time, each under its
// own timeout. Journal latency lands here, never on the read loop or the
// heartbeat tick.
func (s *Service) journalWriter() {
	for op := range s.journalCh {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		op(ctx)
		cancel()
	}
}

// enqueueJournal hands op to the writer goroutine. When the queue is full
// the entry is dropped: the journal is observability, not transport state.
func (s *Service) enqueueJournal(op func(context.Context)) {
	select {
	case s.journalCh <- op:
	default:
		s.log.Debug("journal queue full, dropping entry")
	}
}

// recordEvent queues a journal entry, swallowing failures.
func (s *Service) recordEvent(facilityID, connID, event, remoteAddr, detail string) {
	if s.journal == nil {
		return
	}
	s.enqueueJournal(func(ctx context.Context) {
		if err := s.journal.RecordEvent(ctx, facilityID, connID, event, remoteAddr, detail); err != nil {
			s.log.Warn("journal write failed", "facility_id", facilityID, "event", event, "err", err)
		}
	})
}

func (s *Service) touchLastSeen(facilityID, connID string, at time.Time) {
	if s.journal == nil {
		return
	}
	s.enqueueJournal(func(ctx context.Context) {
		if err := s.journal.TouchLastSeen(ctx, facilityID, connID, at); err != nil {
			s.log.Warn("journal touch failed", "facility_id", facilityID, "err", err)
		}
	})
}
