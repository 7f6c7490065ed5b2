package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/storfleet/gatelink/internal/domain"
)

const maxAdminBodyBytes = 1 << 20

// requireAdmin gates the internal API behind a bearer token with a global
// operator role. Facility-scoped identities cannot drive dispatch.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity, err := s.verifier.Verify(strings.TrimSpace(strings.TrimPrefix(authz, prefix)))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !domain.IsGlobalRole(identity.Role) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// handlePush unicasts an opaque payload to one facility's gateway. Delivery
// is at-most-once; an offline facility is reported but is not an HTTP error.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	facilityID := r.PathValue("facilityID")
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	err := s.hub.Unicast(facilityID, payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"delivered": true})
	case errors.Is(err, domain.ErrNotConnected):
		writeJSON(w, http.StatusOK, map[string]any{"delivered": false, "reason": "gateway offline"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"delivered": false, "reason": "send failed"})
	}
}

// handleBroadcast fans an opaque payload out to every connected gateway.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}
	sent, err := s.hub.Broadcast(payload)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": sent})
}

// handleGateways returns the live connection snapshot.
func (s *Server) handleGateways(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"gateways": s.hub.Gateways()})
}

// handleEvents queries the connection journal.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := s.store.RecentEvents(r.Context(), r.URL.Query().Get("facilityId"), limit)
	if err != nil {
		s.log.Error("journal query failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	type eventView struct {
		FacilityID string `json:"facilityId"`
		ConnID     string `json:"connId"`
		Event      string `json:"event"`
		RemoteAddr string `json:"remoteAddr,omitempty"`
		Detail     string `json:"detail,omitempty"`
		CreatedAt  string `json:"createdAt"`
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			FacilityID: e.FacilityID,
			ConnID:     e.ConnID,
			Event:      e.Event,
			RemoteAddr: e.RemoteAddr,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

// readPayload reads the request body as one opaque JSON value.
func readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 || !json.Valid(body) {
		http.Error(w, "body must be a JSON payload", http.StatusBadRequest)
		return nil, false
	}
	return json.RawMessage(body), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
