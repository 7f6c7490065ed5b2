package hub

import (
	"strings"

	"github.com/gorilla/websocket"

	"github.com/storfleet/gatelink/internal/domain"
	"github.com/storfleet/gatelink/internal/gatewayproto"
	"github.com/storfleet/gatelink/internal/obs"
	"github.com/storfleet/gatelink/internal/store/sqlite"
)

// handleAuth is the authentication gate: it validates the AUTH frame,
// binds the connection to its facility, and performs the single
// insert-or-replace registry write. It reports whether the connection
// survives; on rejection the transport has already been closed.
func (s *Service) handleAuth(c *Conn, auth *gatewayproto.Auth) bool {
	identity, err := s.verifier.Verify(auth.Token)
	if err != nil {
		s.rejectAuth(c, gatewayproto.CodeAuthFailed, "invalid token", auth.FacilityID)
		return false
	}
	if !domain.IsOperatorRole(identity.Role) {
		s.rejectAuth(c, gatewayproto.CodeAuthForbidden, "role not allowed", auth.FacilityID)
		return false
	}
	facilityID := strings.TrimSpace(auth.FacilityID)
	if facilityID == "" {
		s.rejectAuth(c, gatewayproto.CodeAuthBadRequest, "missing facility id", "")
		return false
	}
	if !identity.HasFacilityScope(facilityID) {
		s.rejectAuth(c, gatewayproto.CodeAuthForbidden, "facility out of scope", facilityID)
		return false
	}

	// Bind before publication; see the concurrency note on [Conn].
	c.identity = identity
	c.facilityID = facilityID
	c.authenticated = true

	old := s.register(c)
	if old != nil {
		old.close(gatewayproto.CloseReplaced, "replaced")
		s.recordEvent(facilityID, old.id, sqlite.EventReplaced, old.remoteAddr, "superseded by "+c.id)
		s.log.Info("gateway connection replaced", "facility_id", facilityID, "old_conn_id", old.id, "new_conn_id", c.id)
	} else {
		obs.ConnectedGateways.Inc()
	}

	if err := c.sendJSON(gatewayproto.NewAuthOK(facilityID)); err != nil {
		s.log.Warn("auth ack send failed", "facility_id", facilityID, "conn_id", c.id, "err", err)
	}
	s.recordEvent(facilityID, c.id, sqlite.EventConnected, c.remoteAddr, "user "+identity.UserID)
	s.log.Info("gateway authenticated", "facility_id", facilityID, "conn_id", c.id, "user_id", identity.UserID, "role", identity.Role, "remote_addr", c.remoteAddr)
	return true
}

// rejectAuth answers a failed AUTH with a specific error frame and closes
// the transport. Unlike pre-auth protocol confusion, bad credentials do not
// get a second chance on the same connection.
func (s *Service) rejectAuth(c *Conn, code, message, facilityID string) {
	obs.AuthFailuresTotal.WithLabelValues(code).Inc()
	s.sendError(c, code, message)
	s.recordEvent(facilityID, c.id, sqlite.EventAuthRejected, c.remoteAddr, code)
	s.log.Warn("gateway auth rejected", "conn_id", c.id, "code", code, "remote_addr", c.remoteAddr)
	c.close(websocket.ClosePolicyViolation, message)
}
