package hub

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/storfleet/gatelink/internal/domain"
	"github.com/storfleet/gatelink/internal/gatewayproto"
	"github.com/storfleet/gatelink/internal/token"
)

func TestProxyRoundTrip(t *testing.T) {
	t.Parallel()

	tokens := token.NewManager(testSecret)
	downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/units" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("page") != "2" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Facility-Id") != "fac-1" {
			http.Error(w, "missing facility header", http.StatusBadRequest)
			return
		}
		// The downstream call must carry a fresh credential scoped to the
		// bound facility, not the gateway's original token.
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(authz) <= len(prefix) {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		id, err := tokens.Verify(authz[len(prefix):])
		if err != nil {
			http.Error(w, "bad passthrough token", http.StatusUnauthorized)
			return
		}
		if len(id.FacilityScopes) != 1 || id.FacilityScopes[0] != "fac-1" {
			http.Error(w, "over-broad passthrough scope", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"units":[{"id":"u-1"}]}`))
	})

	e := newTestEnv(t, downstream)
	conn := e.dial(t)
	authenticate(t, e, conn, e.issue(t, domain.RoleFacilityAdmin, "fac-1"), "fac-1")

	send(t, conn, map[string]any{
		"type":   "PROXY_REQUEST",
		"id":     "r1",
		"method": "GET",
		"path":   "/units",
		"query":  map[string]string{"page": "2"},
	})

	frame := readFrame(t, conn)
	if frame["type"] != gatewayproto.TypeProxyResponse || frame["id"] != "r1" {
		t.Fatalf("expected PROXY_RESPONSE r1, got %v", frame)
	}
	if frame["status"].(float64) != 200 {
		t.Fatalf("expected 200, got %v", frame["status"])
	}
	body, _ := frame["body"].(map[string]any)
	if body == nil || body["units"] == nil {
		t.Fatalf("unexpected body %v", frame["body"])
	}
}

func TestProxyForwardsBodyAndStatus(t *testing.T) {
	t.Parallel()

	downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"created":true}`))
	})

	e := newTestEnv(t, downstream)
	conn := e.dial(t)
	authenticate(t, e, conn, e.issue(t, domain.RoleFacilityAdmin, "fac-1"), "fac-1")

	send(t, conn, map[string]any{
		"type":   "PROXY_REQUEST",
		"id":     "r2",
		"method": "POST",
		"path":   "/keys",
		"body":   map[string]any{"facilityId": "fac-1", "unitId": "u-1"},
	})

	frame := readFrame(t, conn)
	if frame["id"] != "r2" || frame["status"].(float64) != 201 {
		t.Fatalf("expected 201 for r2, got %v", frame)
	}
}

func TestProxyScopeViolationBlockedBeforeDownstream(t *testing.T) {
	t.Parallel()

	var downstreamCalls atomic.Int64
	downstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downstreamCalls.Add(1)
	})

	e := newTestEnv(t, downstream)
	conn := e.dial(t)
	authenticate(t, e, conn, e.issue(t, domain.RoleFacilityAdmin, "fac-1"), "fac-1")

	send(t, conn, map[string]any{
		"type":   "PROXY_REQUEST",
		"id":     "r3",
		"method": "POST",
		"path":   "/keys",
		"body":   map[string]any{"facilityId": "fac-2"},
	})

	frame := readFrame(t, conn)
	if frame["id"] != "r3" || frame["status"].(float64) != 403 {
		t.Fatalf("expected 403 scope rejection for r3, got %v", frame)
	}
	if downstreamCalls.Load() != 0 {
		t.Fatal("out-of-scope request must never reach the downstream API")
	}
}

func TestProxyDownstreamFailureYieldsResponse(t *testing.T) {
	t.Parallel()

	// No downstream at all: the bridge dials a closed loopback port.
	e := newTestEnv(t, nil)
	conn := e.dial(t)
	authenticate(t, e, conn, e.issue(t, domain.RoleFacilityAdmin, "fac-1"), "fac-1")

	send(t, conn, map[string]any{"type": "PROXY_REQUEST", "id": "r4", "method": "GET", "path": "/units"})

	frame := readFrame(t, conn)
	if frame["type"] != gatewayproto.TypeProxyResponse || frame["id"] != "r4" {
		t.Fatalf("expected PROXY_RESPONSE r4, got %v", frame)
	}
	if status := frame["status"].(float64); status < 500 {
		t.Fatalf("expected status >= 500 for downstream failure, got %v", status)
	}
}

func TestProxyRequestWithoutIDAnswered(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	conn := e.dial(t)
	authenticate(t, e, conn, e.issue(t, domain.RoleFacilityAdmin, "fac-1"), "fac-1")

	send(t, conn, map[string]any{"type": "PROXY_REQUEST", "method": "GET", "path": "/units"})

	frame := readFrame(t, conn)
	if frame["type"] != gatewayproto.TypeProxyResponse {
		t.Fatalf("expected PROXY_RESPONSE, got %v", frame)
	}
	if frame["status"].(float64) != 400 {
		t.Fatalf("expected 400 for missing id, got %v", frame["status"])
	}
}

func TestProxyNonJSONDownstreamBody(t *testing.T) {
	t.Parallel()

	downstream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream sad</html>"))
	})

	e := newTestEnv(t, downstream)
	conn := e.dial(t)
	authenticate(t, e, conn, e.issue(t, domain.RoleFacilityAdmin, "fac-1"), "fac-1")

	send(t, conn, map[string]any{"type": "PROXY_REQUEST", "id": "r5", "method": "GET", "path": "/broken"})

	frame := readFrame(t, conn)
	if frame["id"] != "r5" || frame["status"].(float64) != 502 {
		t.Fatalf("expected 502 passthrough, got %v", frame)
	}
	if body, _ := frame["body"].(string); body != "<html>upstream sad</html>" {
		t.Fatalf("expected html body carried as string, got %v", frame["body"])
	}
}
