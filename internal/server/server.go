// Package server exposes the gatelink HTTP surface: the gateway WebSocket
// upgrade endpoint, health and metrics, and the internal admin API over the
// transport service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storfleet/gatelink/internal/config"
	"github.com/storfleet/gatelink/internal/hub"
	"github.com/storfleet/gatelink/internal/store/sqlite"
)

// ConnectPath is the fixed upgrade path gateways dial.
const ConnectPath = "/v1/gateways/connect"

// Server ties the transport service to its HTTP listeners.
type Server struct {
	cfg      config.ServerConfig
	hub      *hub.Service
	store    *sqlite.Store
	verifier hub.TokenVerifier
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New constructs the HTTP server around an already-built transport service.
// store may be nil when journaling is disabled.
func New(cfg config.ServerConfig, h *hub.Service, store *sqlite.Store, verifier hub.TokenVerifier, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		store:    store,
		verifier: verifier,
		log:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ConnectPath, s.handleConnect)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /v1/facilities/{facilityID}/push", s.requireAdmin(s.handlePush))
	mux.HandleFunc("POST /v1/broadcast", s.requireAdmin(s.handleBroadcast))
	mux.HandleFunc("GET /v1/gateways", s.requireAdmin(s.handleGateways))
	mux.HandleFunc("GET /v1/gateways/events", s.requireAdmin(s.handleEvents))
	return mux
}

// Run starts the heartbeat monitor, the journal retention sweep, and the
// HTTP listener, blocking until ctx is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.RunHeartbeat(ctx)
	if s.store != nil && s.cfg.JournalRetentionDays > 0 {
		go s.runJournalRetention(ctx)
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return err
	}
	httpServer.TLSConfig = tlsConfig

	errCh := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			s.log.Info("starting HTTPS server", "addr", s.cfg.Listen)
			if err := httpServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
			return
		}
		s.log.Info("starting HTTP server", "addr", s.cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return shutdownServer(httpServer, 5*time.Second)
	case err := <-errCh:
		_ = shutdownServer(httpServer, 5*time.Second)
		return err
	}
}

const journalPurgeInterval = time.Hour

// runJournalRetention trims journal events older than the configured
// retention window, once at startup and then on every purge interval.
func (s *Server) runJournalRetention(ctx context.Context) {
	ticker := time.NewTicker(journalPurgeInterval)
	defer ticker.Stop()

	for {
		s.purgeJournal(ctx, time.Now().AddDate(0, 0, -s.cfg.JournalRetentionDays))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// purgeJournal runs one retention pass, deleting events recorded before
// cutoff.
func (s *Server) purgeJournal(ctx context.Context, cutoff time.Time) {
	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	removed, err := s.store.PurgeEventsBefore(purgeCtx, cutoff)
	if err != nil {
		s.log.Warn("journal purge failed", "err", err)
		return
	}
	if removed > 0 {
		s.log.Info("purged journal events", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// handleConnect upgrades a gateway's request and hands the socket to the
// transport service. Authentication happens in-band via the AUTH frame, not
// at upgrade time.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	sock.SetReadLimit(s.cfg.MaxMessageBytes)
	s.log.Debug("gateway transport accepted", "remote_addr", r.RemoteAddr)
	s.hub.HandleConnection(r.Context(), sock, r.RemoteAddr)
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
